package usecase

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"campusbot/config"
	"campusbot/internal/adapter/analyzer"
	"campusbot/internal/adapter/fs"
	"campusbot/internal/domain"
)

const (
	noResultsReply     = "I couldn't find any relevant information in the documents for your query."
	downloadMissReply  = "I couldn't find a PDF with that name."
	generalErrorReply  = "I encountered an error while processing your question. Please try asking it in a different way."
	searchErrorReply   = "I'm sorry, I couldn't search the documents right now. Please try again later."
	facultyPromptReply = "Please tell me the name of the faculty member you are looking for."
	snippetLen         = 200
)

func (r *Router) matchGreeting(q *Query) bool {
	for _, g := range r.cfg.Greetings {
		if containsKeyword(q, g) {
			return true
		}
	}
	return false
}

func (r *Router) handleGreeting(ctx context.Context, q *Query) domain.Reply {
	return domain.TextReply("", r.cfg.GreetingReply)
}

func (r *Router) matchStudent(q *Query) bool {
	q.term = r.lookupTerm(q)
	if q.term == "" {
		return false
	}
	q.records = r.opts.Students.Search(q.term)
	return len(q.records) > 0
}

func (r *Router) handleStudent(ctx context.Context, q *Query) domain.Reply {
	return domain.TextReply("", formatRecords(q.records, r.opts.Students.Fields(), "student information", "matching students"))
}

func (r *Router) matchYear(q *Query) bool {
	found := false
	for _, kw := range r.cfg.YearKeywords {
		if containsKeyword(q, kw) {
			found = true
			break
		}
	}
	if !found {
		return false
	}

	for i, w := range q.Words {
		if w != "year" && w != "years" {
			continue
		}
		for _, j := range []int{i - 1, i + 1} {
			if j < 0 || j >= len(q.Words) {
				continue
			}
			token := q.Words[j]
			label := r.opts.Students.YearLabel(token)
			if label == token {
				continue
			}
			if recs := r.opts.Students.SearchByYear(token); len(recs) > 0 {
				q.records, q.label = recs, label
				return true
			}
		}
	}
	return false
}

func (r *Router) handleYear(ctx context.Context, q *Query) domain.Reply {
	fields := r.opts.Students.Fields()
	limit := r.cfg.YearListLimit
	if limit <= 0 {
		limit = 10
	}

	var b strings.Builder
	fmt.Fprintf(&b, "I found %d students in %s:\n", len(q.records), q.label)
	cols := []string{fields.Name, fields.ID}
	for i, rec := range q.records {
		if i == limit {
			break
		}
		b.WriteString(formatLine(rec, cols, fields))
		b.WriteByte('\n')
	}
	if len(q.records) > limit {
		fmt.Fprintf(&b, "...and %d more.", len(q.records)-limit)
	}
	return domain.TextReply("", strings.TrimRight(b.String(), "\n"))
}

func (r *Router) hasFacultyKeyword(q *Query) bool {
	for _, kw := range r.cfg.FacultyKeywords {
		if containsKeyword(q, kw) {
			return true
		}
	}
	return false
}

// facultyTerm is the lookup term (or whole query) without lookup patterns
// or faculty keywords. Stopwords are dropped too unless nothing else is
// left.
func (r *Router) facultyTerm(q *Query) string {
	text := q.term
	if text == "" {
		text = q.Lower
		for _, p := range r.cfg.LookupPrefixes {
			if i := phraseIndex(text, strings.ToLower(p)); i >= 0 {
				text = text[i+len(p):]
				break
			}
		}
	}
	keywords := make(map[string]bool, len(r.cfg.FacultyKeywords))
	for _, kw := range r.cfg.FacultyKeywords {
		keywords[strings.ToLower(kw)] = true
	}
	var kept, named []string
	for _, f := range strings.Fields(text) {
		w := strings.Trim(f, ".,:;!?")
		if keywords[w] || w == "member" || w == "members" {
			continue
		}
		kept = append(kept, f)
		if !analyzer.IsStopword(w) {
			named = append(named, f)
		}
	}
	if len(named) == 0 {
		return strings.Join(kept, " ")
	}
	return strings.Join(named, " ")
}

func (r *Router) matchFaculty(q *Query) bool {
	keyword := r.hasFacultyKeyword(q)
	if !keyword && q.term == "" {
		return false
	}
	term := r.facultyTerm(q)
	q.label = term
	q.records = nil
	if term != "" {
		q.records = r.opts.Faculty.Search(term)
	}
	return keyword || len(q.records) > 0
}

func (r *Router) handleFaculty(ctx context.Context, q *Query) domain.Reply {
	if q.label == "" {
		return domain.TextReply("", facultyPromptReply)
	}
	if len(q.records) == 0 {
		return domain.TextReply("", fmt.Sprintf("I couldn't find any faculty matching '%s'. Please try a different name or keyword.", q.label))
	}
	return domain.TextReply("", formatRecords(q.records, r.opts.Faculty.Fields(), "faculty information", "matching faculty members"))
}

func (r *Router) matchDownload(q *Query) bool {
	for _, kw := range r.cfg.DownloadKeywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw == "" {
			continue
		}
		if i := phraseIndex(q.Lower, kw); i >= 0 {
			q.term = analyzer.Normalize(q.Lower[i+len(kw):])
			return true
		}
	}
	return false
}

func (r *Router) handleDownload(ctx context.Context, q *Query) domain.Reply {
	if q.term == "" || r.opts.Walker == nil {
		return domain.TextReply("", downloadMissReply)
	}
	files, err := r.opts.Walker.Walk(r.opts.DocsDir)
	if err != nil {
		r.logger.Error("failed to list documents", zap.String("dir", r.opts.DocsDir), zap.Error(err))
		return domain.TextReply("", downloadMissReply)
	}
	f, ok := fs.FindByName(files, q.term)
	if !ok {
		return domain.TextReply("", downloadMissReply)
	}
	return domain.DownloadReply("", f.Name)
}

func (r *Router) matchGeneral(q *Query) bool {
	if r.opts.LLM == nil {
		return false
	}
	for _, kw := range r.cfg.GeneralKeywords {
		if containsKeyword(q, kw) {
			return true
		}
	}
	return false
}

func (r *Router) handleGeneral(ctx context.Context, q *Query) domain.Reply {
	text, err := r.opts.LLM.Generate(ctx, q.Raw)
	if err != nil {
		r.logger.Error("general answer failed", zap.Error(err))
		return domain.TextReply("", generalErrorReply)
	}
	return domain.TextReply("", text)
}

func (r *Router) handleRetrieval(ctx context.Context, q *Query) domain.Reply {
	if r.opts.Searcher == nil {
		return domain.TextReply("", noResultsReply)
	}
	results, err := r.opts.Searcher.Search(ctx, q.Raw, r.opts.TopK)
	if err != nil {
		r.logger.Error("vector search failed", zap.Error(err))
		return domain.TextReply("", searchErrorReply)
	}
	if r.opts.MinScore > 0 {
		kept := results[:0:0]
		for _, res := range results {
			if res.Score >= r.opts.MinScore {
				kept = append(kept, res)
			}
		}
		results = kept
	}
	if len(results) == 0 {
		return domain.TextReply("", noResultsReply)
	}

	if r.opts.LLM == nil {
		var b strings.Builder
		b.WriteString("Here is what I found in the documents:\n")
		for _, res := range results {
			fmt.Fprintf(&b, "- %s: %s\n", filepath.Base(res.Document.ID), truncate(oneLine(res.Document.Text), snippetLen))
		}
		return domain.TextReply("", strings.TrimRight(b.String(), "\n"))
	}

	text, err := r.opts.LLM.Generate(ctx, r.buildPrompt(q.Raw, results))
	if err != nil {
		r.logger.Error("contextual answer failed", zap.Error(err))
		return domain.TextReply("", generalErrorReply)
	}
	return domain.TextReply("", text)
}

func (r *Router) buildPrompt(question string, results []domain.SearchResult) string {
	limit := r.opts.ContextLen
	if limit <= 0 {
		limit = 4000
	}
	var b strings.Builder
	b.WriteString("Answer the question using the following documents from the campus library.\n\n")
	for _, res := range results {
		fmt.Fprintf(&b, "Document: %s\n%s\n\n", filepath.Base(res.Document.ID), truncate(res.Document.Text, limit))
	}
	fmt.Fprintf(&b, "Question: %s\nAnswer:", question)
	return b.String()
}

// formatRecords renders one record as a block and several as one line each.
func formatRecords(records []domain.Record, fields config.FieldsConfig, single, plural string) string {
	cols := fields.Display
	if len(records) == 1 {
		var b strings.Builder
		fmt.Fprintf(&b, "Here is the %s:", single)
		for _, col := range cols {
			fmt.Fprintf(&b, "\n%s: %s", columnLabel(col, fields), records[0].Get(col))
		}
		return b.String()
	}

	var b strings.Builder
	fmt.Fprintf(&b, "I found %d %s:", len(records), plural)
	for _, rec := range records {
		b.WriteByte('\n')
		b.WriteString(formatLine(rec, cols, fields))
	}
	return b.String()
}

func formatLine(rec domain.Record, cols []string, fields config.FieldsConfig) string {
	parts := make([]string, 0, len(cols))
	for _, col := range cols {
		if col == "" {
			continue
		}
		parts = append(parts, columnLabel(col, fields)+": "+rec.Get(col))
	}
	return strings.Join(parts, ", ")
}

// columnLabel shows the name column as "Name" whatever its header.
func columnLabel(col string, fields config.FieldsConfig) string {
	if col == fields.Name {
		return "Name"
	}
	return col
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
