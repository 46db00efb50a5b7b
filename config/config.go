package config

import (
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the campus assistant.
type Config struct {
	Data      DataConfig      `yaml:"data"`
	Vector    VectorConfig    `yaml:"vector"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	LLM       LLMConfig       `yaml:"llm"`
	Router    RouterConfig    `yaml:"router"`
	Server    ServerConfig    `yaml:"server"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// DataConfig points at the lexical sources and the documents directory.
type DataConfig struct {
	StudentCSV    []string     `yaml:"student_csv"` // Glob patterns, relative to the root dir
	FacultyCSV    []string     `yaml:"faculty_csv"`
	StudentFields FieldsConfig `yaml:"student_fields"`
	FacultyFields FieldsConfig `yaml:"faculty_fields"`
	DocsDir       string       `yaml:"docs_dir"`
	DocIncludes   []string     `yaml:"doc_includes"`
	DocExcludes   []string     `yaml:"doc_excludes"`
}

// FieldsConfig maps CSV column names onto record roles.
type FieldsConfig struct {
	ID      string   `yaml:"id"`
	Name    string   `yaml:"name"`
	Year    string   `yaml:"year"`
	Display []string `yaml:"display"` // Columns shown in replies, in order
}

// VectorConfig holds vector store configuration.
type VectorConfig struct {
	Backend string `yaml:"backend"` // "files", "bolt" or "sqlite"
	Dir     string `yaml:"dir"`
	Metric  string `yaml:"metric"` // "l2" or "ip"
	TopK    int    `yaml:"top_k"`
	// MinScore drops retrieved documents scoring below it (0 = disabled).
	MinScore   float64 `yaml:"min_score"`
	CacheSize  int     `yaml:"cache_size"`
	CacheTTL   string  `yaml:"cache_ttl"`
	ContextLen int     `yaml:"context_len"` // Max characters of each document forwarded to the LLM
}

// EmbeddingConfig holds embedding configuration.
type EmbeddingConfig struct {
	Provider  string `yaml:"provider"`    // "openai", "ollama", "genai", "hash"
	Model     string `yaml:"model"`       // e.g., "all-minilm"
	APIKeyEnv string `yaml:"api_key_env"` // Environment variable for API key
	BaseURL   string `yaml:"base_url"`
	Dimension int    `yaml:"dimension"` // 0: hash uses 384, remote models their default
	BatchSize int    `yaml:"batch_size"`
}

// LLMConfig holds the generative-answer collaborator configuration.
type LLMConfig struct {
	Provider  string `yaml:"provider"` // "gemini", "openai", "ollama", "none"
	Model     string `yaml:"model"`
	APIKeyEnv string `yaml:"api_key_env"`
	BaseURL   string `yaml:"base_url"`
	Timeout   string `yaml:"timeout"`
}

// RouterConfig holds the keyword tables used by the query router.
type RouterConfig struct {
	Greetings        []string          `yaml:"greetings"`
	GreetingReply    string            `yaml:"greeting_reply"`
	LookupPrefixes   []string          `yaml:"lookup_prefixes"`
	LookupSuffixes   []string          `yaml:"lookup_suffixes"`
	FacultyKeywords  []string          `yaml:"faculty_keywords"`
	DownloadKeywords []string          `yaml:"download_keywords"`
	GeneralKeywords  []string          `yaml:"general_keywords"`
	YearKeywords     []string          `yaml:"year_keywords"`
	YearAliases      map[string]string `yaml:"year_aliases"`
	YearListLimit    int               `yaml:"year_list_limit"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Addr    string `yaml:"addr"`
	BaseURL string `yaml:"base_url"` // Used to build download links; empty means derive from the request
	Watch   bool   `yaml:"watch"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "console" or "json"
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Data: DataConfig{
			StudentCSV: []string{"student_data/*.csv"},
			FacultyCSV: []string{"student_data/uploads/faculty*.csv"},
			StudentFields: FieldsConfig{
				ID:      "USN",
				Name:    "Student Name",
				Year:    "Year",
				Display: []string{"Student Name", "USN", "Year"},
			},
			FacultyFields: FieldsConfig{
				Name:    "Name",
				Display: []string{"Name", "Department", "Email"},
			},
			DocsDir:     "question_papers",
			DocIncludes: []string{"**/*.pdf", "**/*.txt"},
			DocExcludes: []string{"**/.*", "**/.*/**"},
		},
		Vector: VectorConfig{
			Backend:    "files",
			Dir:        ".campusbot/vector_db",
			Metric:     "l2",
			TopK:       3,
			CacheSize:  100,
			CacheTTL:   "5m",
			ContextLen: 4000,
		},
		Embedding: EmbeddingConfig{
			Provider:  "hash",
			Model:     "all-minilm",
			APIKeyEnv: "OPENAI_API_KEY",
			Dimension: 0,
			BatchSize: 32,
		},
		LLM: LLMConfig{
			Provider:  "gemini",
			Model:     "gemini-2.0-flash",
			APIKeyEnv: "GEMINI_API_KEY",
			Timeout:   "60s",
		},
		Router: RouterConfig{
			Greetings:      []string{"hi", "hello", "hey", "hii", "hola", "greetings"},
			GreetingReply:  "Hello! I am your Campus Assistant. How can I help you today?",
			LookupPrefixes: []string{"who is", "find student", "get details of", "details of", "search for", "find"},
			LookupSuffixes: []string{"details", "info"},
			FacultyKeywords: []string{
				"faculty", "professor", "prof", "lecturer", "hod",
			},
			DownloadKeywords: []string{"download the pdf", "send me the pdf", "download pdf", "get pdf", "download"},
			GeneralKeywords: []string{
				"who", "what", "where", "when", "why", "how",
				"tell me about", "explain", "describe",
				"prime minister", "president", "country", "capital",
				"history", "science", "technology", "world",
			},
			YearKeywords: []string{"year students", "students in year", "in year", "year"},
			YearAliases: map[string]string{
				"1st": "first year", "first": "first year",
				"2nd": "second year", "second": "second year",
				"3rd": "third year", "third": "third year",
				"4th": "final year", "fourth": "final year", "final": "final year",
			},
			YearListLimit: 10,
		},
		Server: ServerConfig{
			Addr:  ":5002",
			Watch: true,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil // Return defaults if no config file
		}
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadFromDir loads configuration from a directory (looks for campusbot.yaml).
func LoadFromDir(dir string) (*Config, error) {
	path := filepath.Join(dir, "campusbot.yaml")
	if _, err := os.Stat(path); err == nil {
		return Load(path)
	}

	path = filepath.Join(dir, ".campusbot", "config.yaml")
	if _, err := os.Stat(path); err == nil {
		return Load(path)
	}

	return DefaultConfig(), nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// LLMTimeout parses the LLM timeout, falling back to 60s.
func (c *Config) LLMTimeout() time.Duration {
	return parseDuration(c.LLM.Timeout, 60*time.Second)
}

// CacheTTL parses the search cache TTL, falling back to 5m.
func (c *Config) CacheTTL() time.Duration {
	return parseDuration(c.Vector.CacheTTL, 5*time.Minute)
}

func parseDuration(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

// Resolve makes a configured path absolute against the root dir.
func Resolve(root, path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(root, path)
}

// VectorDir returns the directory holding the vector store files.
func (c *Config) VectorDir(root string) string {
	return Resolve(root, c.Vector.Dir)
}

// BoltPath returns the path of the bbolt database used by the "bolt" backend.
func (c *Config) BoltPath(root string) string {
	return filepath.Join(c.VectorDir(root), "store.db")
}

// SQLitePath returns the path of the SQLite database used by the "sqlite" backend.
func (c *Config) SQLitePath(root string) string {
	return filepath.Join(c.VectorDir(root), "store.sqlite")
}

// DocsDir returns the absolute documents directory.
func (c *Config) DocsDir(root string) string {
	return Resolve(root, c.Data.DocsDir)
}
