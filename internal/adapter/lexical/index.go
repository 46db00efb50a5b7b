package lexical

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"go.uber.org/zap"

	"campusbot/config"
	"campusbot/internal/domain"
)

// Index is an in-memory table of CSV records searched by identifier,
// name and year columns.
type Index struct {
	fields  config.FieldsConfig
	aliases map[string]string
	records []domain.Record
	ids     []string // Normalized identifier per record
	names   []string
	years   []string
}

// New builds an index over already-parsed records.
func New(records []domain.Record, fields config.FieldsConfig, aliases map[string]string) *Index {
	x := &Index{
		fields:  fields,
		aliases: make(map[string]string, len(aliases)),
		records: records,
		ids:     make([]string, len(records)),
		names:   make([]string, len(records)),
		years:   make([]string, len(records)),
	}
	for k, v := range aliases {
		x.aliases[normalize(k)] = normalize(v)
	}
	for i, r := range records {
		if fields.ID != "" {
			x.ids[i] = normalize(r[fields.ID])
		}
		if fields.Name != "" {
			x.names[i] = normalize(r[fields.Name])
		}
		if fields.Year != "" {
			x.years[i] = normalize(r[fields.Year])
		}
	}
	return x
}

// LoadResult reports what Load read.
type LoadResult struct {
	Files   int
	Rows    int
	Skipped int
}

// Load expands the glob patterns and reads every matching CSV file.
// Unreadable files and malformed rows are logged and skipped.
func Load(patterns []string, fields config.FieldsConfig, aliases map[string]string, logger *zap.Logger) (*Index, LoadResult) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("lexical")

	var (
		res     LoadResult
		records []domain.Record
	)
	for _, path := range expand(patterns, logger) {
		recs, skipped, err := readCSV(path)
		if err != nil {
			logger.Error("failed to load csv", zap.String("path", path), zap.Error(err))
			continue
		}
		res.Files++
		res.Rows += len(recs)
		res.Skipped += skipped
		records = append(records, recs...)
		if skipped > 0 {
			logger.Warn("skipped malformed rows", zap.String("path", path), zap.Int("skipped", skipped))
		}
		logger.Debug("loaded csv", zap.String("path", path), zap.Int("rows", len(recs)))
	}

	return New(records, fields, aliases), res
}

func expand(patterns []string, logger *zap.Logger) []string {
	seen := make(map[string]struct{})
	var paths []string
	for _, pattern := range patterns {
		matches, err := doublestar.FilepathGlob(pattern)
		if err != nil {
			logger.Warn("invalid csv pattern", zap.String("pattern", pattern), zap.Error(err))
			continue
		}
		if len(matches) == 0 {
			logger.Warn("no csv files match pattern", zap.String("pattern", pattern))
		}
		for _, m := range matches {
			if _, ok := seen[m]; ok {
				continue
			}
			seen[m] = struct{}{}
			paths = append(paths, m)
		}
	}
	sort.Strings(paths)
	return paths
}

// readCSV parses a header-first CSV file. Rows with the wrong field count
// or bad quoting are counted in skipped.
func readCSV(path string) ([]domain.Record, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	header, err := r.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, 0, nil
		}
		return nil, 0, fmt.Errorf("failed to read header: %w", err)
	}
	for i, h := range header {
		header[i] = strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
	}

	var (
		records []domain.Record
		skipped int
	)
	for {
		row, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var perr *csv.ParseError
			if errors.As(err, &perr) {
				skipped++
				continue
			}
			return records, skipped, err
		}
		rec := make(domain.Record, len(header))
		for i, col := range header {
			rec[col] = strings.TrimSpace(row[i])
		}
		records = append(records, rec)
	}
	return records, skipped, nil
}

// Search returns every record whose identifier equals the query, or failing
// that, every record whose identifier or name contains it.
func (x *Index) Search(query string) []domain.Record {
	q := normalize(query)
	if q == "" {
		return nil
	}

	if x.fields.ID != "" {
		var exact []domain.Record
		for i, id := range x.ids {
			if id == q {
				exact = append(exact, x.records[i])
			}
		}
		if len(exact) > 0 {
			return exact
		}
	}

	var matches []domain.Record
	for i := range x.records {
		if (x.ids[i] != "" && strings.Contains(x.ids[i], q)) || strings.Contains(x.names[i], q) {
			matches = append(matches, x.records[i])
		}
	}
	return matches
}

// SearchByYear resolves token through the alias table ("4th" -> "final
// year") and returns records whose year column contains the result.
func (x *Index) SearchByYear(token string) []domain.Record {
	label := x.YearLabel(token)
	if label == "" || x.fields.Year == "" {
		return nil
	}

	var matches []domain.Record
	for i, y := range x.years {
		if strings.Contains(y, label) {
			matches = append(matches, x.records[i])
		}
	}
	return matches
}

// YearLabel returns the canonical year label for token.
func (x *Index) YearLabel(token string) string {
	t := normalize(token)
	if label, ok := x.aliases[t]; ok {
		return label
	}
	if trimmed := strings.TrimSpace(strings.TrimSuffix(t, "year")); trimmed != t {
		if label, ok := x.aliases[trimmed]; ok {
			return label
		}
	}
	return t
}

func (x *Index) Fields() config.FieldsConfig { return x.fields }

func (x *Index) Len() int { return len(x.records) }

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
