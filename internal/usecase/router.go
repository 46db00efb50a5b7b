package usecase

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"campusbot/config"
	"campusbot/internal/adapter/analyzer"
	"campusbot/internal/adapter/lexical"
	"campusbot/internal/domain"
	"campusbot/internal/port"
)

// Rule is one step of the routing chain. Match may stash work on the
// Query for Handle to reuse.
type Rule struct {
	Name   string
	Match  func(q *Query) bool
	Handle func(ctx context.Context, q *Query) domain.Reply
}

// Query is a user message prepared for rule matching.
type Query struct {
	Raw   string
	Lower string   // Normalized: lower-cased, single-spaced, edge punctuation trimmed
	Words []string // Lower-cased words, stopwords kept

	term    string // Lookup term after a "who is" style pattern
	records []domain.Record
	label   string
}

func newQuery(raw string) *Query {
	return &Query{
		Raw:   raw,
		Lower: analyzer.Normalize(raw),
		Words: analyzer.Words(raw),
	}
}

// RouterOptions holds the router's collaborators. LLM may be nil.
type RouterOptions struct {
	Config   config.RouterConfig
	Students *lexical.Index
	Faculty  *lexical.Index
	Searcher port.Searcher
	LLM      port.LLM
	Walker   port.FileWalker
	DocsDir  string

	TopK       int
	MinScore   float64
	ContextLen int
	Logger     *zap.Logger
}

// Router answers a query with the first rule that matches.
type Router struct {
	opts   RouterOptions
	cfg    config.RouterConfig
	logger *zap.Logger
	rules  []Rule
}

func NewRouter(opts RouterOptions) *Router {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.TopK <= 0 {
		opts.TopK = 3
	}
	if opts.Students == nil {
		opts.Students = lexical.New(nil, config.FieldsConfig{}, nil)
	}
	if opts.Faculty == nil {
		opts.Faculty = lexical.New(nil, config.FieldsConfig{}, nil)
	}
	r := &Router{
		opts:   opts,
		cfg:    opts.Config,
		logger: opts.Logger.Named("router"),
	}
	r.rules = []Rule{
		{Name: "greeting", Match: r.matchGreeting, Handle: r.handleGreeting},
		{Name: "student", Match: r.matchStudent, Handle: r.handleStudent},
		{Name: "year", Match: r.matchYear, Handle: r.handleYear},
		{Name: "faculty", Match: r.matchFaculty, Handle: r.handleFaculty},
		{Name: "download", Match: r.matchDownload, Handle: r.handleDownload},
		{Name: "general", Match: r.matchGeneral, Handle: r.handleGeneral},
		{Name: "retrieval", Match: func(*Query) bool { return true }, Handle: r.handleRetrieval},
	}
	return r
}

// Rules returns the routing chain in evaluation order.
func (r *Router) Rules() []Rule {
	return r.rules
}

// Route evaluates the rules in order; the first match is terminal. The
// only error returned is the context's.
func (r *Router) Route(ctx context.Context, message string) (domain.Reply, error) {
	q := newQuery(message)
	if q.Lower == "" {
		return domain.TextReply("empty", "Please provide a message."), nil
	}

	for _, rule := range r.rules {
		if !rule.Match(q) {
			continue
		}
		r.logger.Debug("rule matched", zap.String("rule", rule.Name), zap.String("query", q.Lower))
		reply := rule.Handle(ctx, q)
		if err := ctx.Err(); err != nil {
			return domain.Reply{}, err
		}
		reply.Rule = rule.Name
		return reply, nil
	}
	return domain.TextReply("none", noResultsReply), nil
}

// containsKeyword matches single words against q.Words and phrases
// against q.Lower, so "how" does not fire inside "show".
func containsKeyword(q *Query, keyword string) bool {
	keyword = strings.ToLower(strings.TrimSpace(keyword))
	if keyword == "" {
		return false
	}
	if !strings.Contains(keyword, " ") {
		for _, w := range q.Words {
			if w == keyword {
				return true
			}
		}
		return false
	}
	return phraseIndex(q.Lower, keyword) >= 0
}

// phraseIndex finds phrase in s on word boundaries.
func phraseIndex(s, phrase string) int {
	for start := 0; start <= len(s)-len(phrase); {
		i := strings.Index(s[start:], phrase)
		if i < 0 {
			return -1
		}
		i += start
		end := i + len(phrase)
		if (i == 0 || !isWordByte(s[i-1])) && (end == len(s) || !isWordByte(s[end])) {
			return i
		}
		start = i + 1
	}
	return -1
}

func isWordByte(b byte) bool {
	return b == '_' || b >= 'a' && b <= 'z' || b >= '0' && b <= '9' || b >= 0x80
}

// lookupTerm extracts X from "who is X", "find student X", "X details".
func (r *Router) lookupTerm(q *Query) string {
	for _, prefix := range r.cfg.LookupPrefixes {
		prefix = strings.ToLower(strings.TrimSpace(prefix))
		if prefix == "" {
			continue
		}
		if i := phraseIndex(q.Lower, prefix); i >= 0 {
			return analyzer.Normalize(q.Lower[i+len(prefix):])
		}
	}
	for _, suffix := range r.cfg.LookupSuffixes {
		suffix = strings.ToLower(strings.TrimSpace(suffix))
		if suffix == "" {
			continue
		}
		if rest, ok := strings.CutSuffix(q.Lower, " "+suffix); ok {
			return analyzer.Normalize(rest)
		}
	}
	return ""
}
