package domain

// Document is an indexed file: its path (the unique key) and extracted text.
type Document struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// SearchResult is a document returned by the vector store.
// Distance is in the store's metric; Score is higher-is-better.
type SearchResult struct {
	Document Document
	Distance float64
	Score    float64
}

// Record is one CSV row keyed by column name.
type Record map[string]string

// Get returns the column value or "N/A" when absent or blank.
func (r Record) Get(column string) string {
	if v := r[column]; v != "" {
		return v
	}
	return "N/A"
}

type ReplyKind string

const (
	ReplyText     ReplyKind = "text"
	ReplyDownload ReplyKind = "download"
)

// Reply is the router's answer to a query.
type Reply struct {
	Kind     ReplyKind `json:"kind"`
	Text     string    `json:"text,omitempty"`
	Filename string    `json:"filename,omitempty"`
	Rule     string    `json:"rule"` // Name of the rule that produced the reply
}

// TextReply builds a plain text reply.
func TextReply(rule, text string) Reply {
	return Reply{Kind: ReplyText, Text: text, Rule: rule}
}

// DownloadReply builds a download-action reply.
func DownloadReply(rule, filename string) Reply {
	return Reply{Kind: ReplyDownload, Filename: filename, Rule: rule}
}

// Stats describes the vector store sizes.
type Stats struct {
	Documents int    `json:"documents"`
	Vectors   int    `json:"vectors"`
	Dimension int    `json:"dimension"`
	Metric    string `json:"metric"`
	Model     string `json:"model"`
}
