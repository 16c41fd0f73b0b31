package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the service
type Config struct {
	General   GeneralConfig   `mapstructure:"general"`
	Server    ServerConfig    `mapstructure:"server"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Ingest    IngestConfig    `mapstructure:"ingest"`
	Crawl     CrawlConfig     `mapstructure:"crawl"`
	Retrieval RetrievalConfig `mapstructure:"retrieval"`
	Answer    AnswerConfig    `mapstructure:"answer"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// GeneralConfig contains general application settings
type GeneralConfig struct {
	Debug          bool          `mapstructure:"debug"`
	LogLevel       string        `mapstructure:"log_level"`
	DefaultTimeout time.Duration `mapstructure:"default_timeout"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Address        string   `mapstructure:"address"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// LLMConfig contains provider credentials and model routing
type LLMConfig struct {
	Provider       string        `mapstructure:"provider"`
	APIKey         string        `mapstructure:"api_key"`
	AnswerModel    string        `mapstructure:"answer_model"`
	PlannerModel   string        `mapstructure:"planner_model"`
	JudgeModel     string        `mapstructure:"judge_model"`
	EmbeddingModel string        `mapstructure:"embedding_model"`
	EmbeddingDims  int           `mapstructure:"embedding_dims"`
	VisionModel    string        `mapstructure:"vision_model"`
	ImageModel     string        `mapstructure:"image_model"`
	Timeout        time.Duration `mapstructure:"timeout"`
}

func (l LLMConfig) Validate() error {
	if strings.TrimSpace(l.Provider) == "" {
		return fmt.Errorf("llm.provider is required")
	}
	if l.EmbeddingDims <= 0 {
		return fmt.Errorf("llm.embedding_dims must be > 0")
	}
	return nil
}

// IngestConfig governs the document ingestion pipeline
type IngestConfig struct {
	ChunkSizeChars    int           `mapstructure:"chunk_size_chars"`
	ChunkOverlapChars int           `mapstructure:"chunk_overlap_chars"`
	MaxChunks         int           `mapstructure:"max_chunks"`
	EmbedWorkers      int           `mapstructure:"embed_workers"`
	EmbedBatchSize    int           `mapstructure:"embed_batch_size"`
	CaptioningEnabled bool          `mapstructure:"captioning_enabled"`
	CaptionMaxChars   int           `mapstructure:"caption_max_chars"`
	MaxVisionImages   int           `mapstructure:"max_vision_images"`
	Image             ImagePolicy   `mapstructure:"image"`
	LockLease         time.Duration `mapstructure:"lock_lease"`
	PdfToTextBin      string        `mapstructure:"pdftotext_bin"`
	PdfImagesBin      string        `mapstructure:"pdfimages_bin"`
}

// ImagePolicy is the captioning eligibility policy for extracted images
type ImagePolicy struct {
	MinWidth       int     `mapstructure:"min_width"`
	MinHeight      int     `mapstructure:"min_height"`
	MinArea        int     `mapstructure:"min_area"`
	MinBytes       int     `mapstructure:"min_bytes"`
	MaxAspectRatio float64 `mapstructure:"max_aspect_ratio"`
	MaxPerPage     int     `mapstructure:"max_per_page"`
}

// Normalize applies the lower bounds the chunker depends on.
func (i IngestConfig) Normalize() IngestConfig {
	if i.ChunkSizeChars < 200 {
		i.ChunkSizeChars = 200
	}
	if i.ChunkOverlapChars > i.ChunkSizeChars-50 {
		i.ChunkOverlapChars = i.ChunkSizeChars - 50
	}
	if i.ChunkOverlapChars < 0 {
		i.ChunkOverlapChars = 0
	}
	if i.EmbedWorkers <= 0 {
		i.EmbedWorkers = 4
	}
	if i.EmbedBatchSize <= 0 {
		i.EmbedBatchSize = 16
	}
	if i.Image.MaxPerPage < 1 {
		i.Image.MaxPerPage = 1
	}
	if i.LockLease <= 0 {
		i.LockLease = 10 * time.Minute
	}
	if strings.TrimSpace(i.PdfToTextBin) == "" {
		i.PdfToTextBin = "pdftotext"
	}
	if strings.TrimSpace(i.PdfImagesBin) == "" {
		i.PdfImagesBin = "pdfimages"
	}
	return i
}

func (i IngestConfig) Validate() error {
	if i.Image.MaxAspectRatio <= 0 {
		return fmt.Errorf("ingest.image.max_aspect_ratio must be > 0")
	}
	if i.CaptionMaxChars <= 0 {
		return fmt.Errorf("ingest.caption_max_chars must be > 0")
	}
	return nil
}

// CrawlConfig governs link discovery and linked-page ingestion
type CrawlConfig struct {
	MaxBatchPages   int           `mapstructure:"max_batch_pages"`
	MaxFetchBytes   int64         `mapstructure:"max_fetch_bytes"`
	FetchTimeout    time.Duration `mapstructure:"fetch_timeout"`
	UserAgent       string        `mapstructure:"user_agent"`
	RespectRobots   bool          `mapstructure:"respect_robots"`
	RenderedFetcher bool          `mapstructure:"rendered_fetcher"`
}

func (c CrawlConfig) Normalize() CrawlConfig {
	if c.MaxBatchPages <= 0 || c.MaxBatchPages > 100 {
		c.MaxBatchPages = 100
	}
	if c.MaxFetchBytes <= 0 {
		c.MaxFetchBytes = 10 << 20
	}
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = 30 * time.Second
	}
	if strings.TrimSpace(c.UserAgent) == "" {
		c.UserAgent = "ContextForge/1.0"
	}
	return c
}

// RetrievalConfig governs the multi-pass retrieval executor
type RetrievalConfig struct {
	TopK                  int     `mapstructure:"top_k"`
	MinSimilarity         float64 `mapstructure:"min_similarity"`
	MinResults            int     `mapstructure:"min_results"`
	MaxRounds             int     `mapstructure:"max_rounds"`
	MaxVariants           int     `mapstructure:"max_variants"`
	BroadenedVariants     int     `mapstructure:"broadened_variants"`
	BroadenedFactor       float64 `mapstructure:"broadened_factor"`
	KeywordScoreFloor     float64 `mapstructure:"keyword_score_floor"`
	ExpandFullDocs        int     `mapstructure:"expand_full_docs"`
	ExpandDocCharCap      int     `mapstructure:"expand_doc_char_cap"`
	ExpandDocsSetSiblings bool    `mapstructure:"expand_docs_set_siblings"`
}

func (r RetrievalConfig) Validate() error {
	if r.TopK <= 0 {
		return fmt.Errorf("retrieval.top_k must be > 0")
	}
	if r.MaxVariants < 1 {
		return fmt.Errorf("retrieval.max_variants must be >= 1")
	}
	if r.MaxRounds < 1 || r.MaxRounds > 2 {
		return fmt.Errorf("retrieval.max_rounds must be 1 or 2")
	}
	if r.MinSimilarity < 0 || r.MinSimilarity > 1 {
		return fmt.Errorf("retrieval.min_similarity must be within [0,1]")
	}
	if r.BroadenedFactor <= 0 || r.BroadenedFactor > 1 {
		return fmt.Errorf("retrieval.broadened_factor must be within (0,1]")
	}
	return nil
}

// AnswerConfig carries the confidence scale per fallback mode
type AnswerConfig struct {
	ConfidenceNone           int `mapstructure:"confidence_none"`
	ConfidenceBroadened      int `mapstructure:"confidence_broadened"`
	ConfidenceModelKnowledge int `mapstructure:"confidence_model_knowledge"`
	ConfidenceOutOfScope     int `mapstructure:"confidence_out_of_scope"`
	MaxOutputTokens          int `mapstructure:"max_output_tokens"`
}

// Validate enforces the grounded-above-ungrounded ordering of the scale.
func (a AnswerConfig) Validate() error {
	for name, v := range map[string]int{
		"confidence_none":            a.ConfidenceNone,
		"confidence_broadened":       a.ConfidenceBroadened,
		"confidence_model_knowledge": a.ConfidenceModelKnowledge,
		"confidence_out_of_scope":    a.ConfidenceOutOfScope,
	} {
		if v < 0 || v > 100 {
			return fmt.Errorf("answer.%s must be within [0,100]", name)
		}
	}
	grounded := min(a.ConfidenceNone, a.ConfidenceBroadened)
	ungrounded := max(a.ConfidenceModelKnowledge, a.ConfidenceOutOfScope)
	if grounded <= ungrounded {
		return fmt.Errorf("answer confidence scale: grounded modes must exceed ungrounded modes (%d <= %d)", grounded, ungrounded)
	}
	return nil
}

// StorageConfig contains storage and persistence settings
type StorageConfig struct {
	Postgres PostgresConfig `mapstructure:"postgres"`
	Redis    RedisConfig    `mapstructure:"redis"`
	S3       S3Config       `mapstructure:"s3"`
	Index    IndexConfig    `mapstructure:"index"`
}

// PostgresConfig contains Postgres connection settings
type PostgresConfig struct {
	URL      string        `mapstructure:"url"`
	Host     string        `mapstructure:"host"`
	Port     string        `mapstructure:"port"`
	User     string        `mapstructure:"user"`
	Password string        `mapstructure:"password"`
	DBName   string        `mapstructure:"dbname"`
	SSLMode  string        `mapstructure:"sslmode"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

func (p PostgresConfig) Validate() error {
	if strings.TrimSpace(p.URL) != "" {
		return nil
	}
	if strings.TrimSpace(p.Host) == "" {
		return fmt.Errorf("storage.postgres.host required when url is not provided")
	}
	if strings.TrimSpace(p.Port) == "" {
		return fmt.Errorf("storage.postgres.port required when url is not provided")
	}
	if strings.TrimSpace(p.DBName) == "" {
		return fmt.Errorf("storage.postgres.dbname required when url is not provided")
	}
	return nil
}

// DSN returns the connection string for lib/pq.
func (p PostgresConfig) DSN() string {
	if strings.TrimSpace(p.URL) != "" {
		return p.URL
	}
	sslmode := p.SSLMode
	if sslmode == "" {
		sslmode = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		p.User, p.Password, p.Host, p.Port, p.DBName, sslmode)
}

// RedisConfig contains Redis connection settings
type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

func (r RedisConfig) Validate() error {
	if strings.TrimSpace(r.Host) == "" {
		return fmt.Errorf("storage.redis.host required")
	}
	if strings.TrimSpace(r.Port) == "" {
		return fmt.Errorf("storage.redis.port required")
	}
	return nil
}

// S3Config contains object storage configuration
type S3Config struct {
	Endpoint        string `mapstructure:"endpoint"`
	Region          string `mapstructure:"region"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	UseSSL          bool   `mapstructure:"use_ssl"`
	DocumentsBucket string `mapstructure:"documents_bucket"`
	AssetsBucket    string `mapstructure:"assets_bucket"`
}

func (s S3Config) Validate() error {
	if strings.TrimSpace(s.Endpoint) == "" {
		return fmt.Errorf("storage.s3.endpoint required")
	}
	if strings.TrimSpace(s.DocumentsBucket) == "" || strings.TrimSpace(s.AssetsBucket) == "" {
		return fmt.Errorf("storage.s3 buckets required")
	}
	return nil
}

// IndexConfig locates the on-disk keyword index
type IndexConfig struct {
	Path string `mapstructure:"path"`
}

// TelemetryConfig contains telemetry and monitoring settings
type TelemetryConfig struct {
	Enabled     bool `mapstructure:"enabled"`
	MetricsPort int  `mapstructure:"metrics_port"`
}

func (t TelemetryConfig) Validate() error {
	if t.Enabled && t.MetricsPort <= 0 {
		return fmt.Errorf("telemetry.metrics_port must be > 0 when telemetry is enabled")
	}
	return nil
}

func setDefaults() {
	viper.SetDefault("general.log_level", "info")
	viper.SetDefault("general.default_timeout", "60s")
	viper.SetDefault("server.address", ":8000")

	viper.SetDefault("llm.provider", "openai")
	viper.SetDefault("llm.answer_model", "gpt-4o-mini")
	viper.SetDefault("llm.planner_model", "gpt-4o-mini")
	viper.SetDefault("llm.judge_model", "gpt-4o-mini")
	viper.SetDefault("llm.embedding_model", "text-embedding-3-small")
	viper.SetDefault("llm.embedding_dims", 1536)
	viper.SetDefault("llm.vision_model", "gpt-4o-mini")
	viper.SetDefault("llm.image_model", "gpt-image-1")
	viper.SetDefault("llm.timeout", "60s")

	viper.SetDefault("ingest.chunk_size_chars", 1000)
	viper.SetDefault("ingest.chunk_overlap_chars", 200)
	viper.SetDefault("ingest.max_chunks", 800)
	viper.SetDefault("ingest.embed_workers", 4)
	viper.SetDefault("ingest.embed_batch_size", 16)
	viper.SetDefault("ingest.captioning_enabled", true)
	viper.SetDefault("ingest.caption_max_chars", 600)
	viper.SetDefault("ingest.max_vision_images", 16)
	viper.SetDefault("ingest.image.min_width", 64)
	viper.SetDefault("ingest.image.min_height", 64)
	viper.SetDefault("ingest.image.min_area", 10000)
	viper.SetDefault("ingest.image.min_bytes", 4096)
	viper.SetDefault("ingest.image.max_aspect_ratio", 5.0)
	viper.SetDefault("ingest.image.max_per_page", 3)
	viper.SetDefault("ingest.lock_lease", "10m")

	viper.SetDefault("crawl.max_batch_pages", 100)
	viper.SetDefault("crawl.max_fetch_bytes", 10485760)
	viper.SetDefault("crawl.fetch_timeout", "30s")
	viper.SetDefault("crawl.respect_robots", false)
	viper.SetDefault("crawl.rendered_fetcher", false)

	viper.SetDefault("retrieval.top_k", 8)
	viper.SetDefault("retrieval.min_similarity", 0.3)
	viper.SetDefault("retrieval.min_results", 2)
	viper.SetDefault("retrieval.max_rounds", 2)
	viper.SetDefault("retrieval.max_variants", 4)
	viper.SetDefault("retrieval.broadened_variants", 6)
	viper.SetDefault("retrieval.broadened_factor", 0.8)
	viper.SetDefault("retrieval.keyword_score_floor", 0.25)
	viper.SetDefault("retrieval.expand_full_docs", 2)
	viper.SetDefault("retrieval.expand_doc_char_cap", 8000)
	viper.SetDefault("retrieval.expand_docs_set_siblings", false)

	viper.SetDefault("answer.confidence_none", 82)
	viper.SetDefault("answer.confidence_broadened", 72)
	viper.SetDefault("answer.confidence_model_knowledge", 42)
	viper.SetDefault("answer.confidence_out_of_scope", 18)
	viper.SetDefault("answer.max_output_tokens", 700)

	viper.SetDefault("storage.postgres.sslmode", "disable")
	viper.SetDefault("storage.postgres.timeout", "10s")
	viper.SetDefault("storage.redis.db", 0)
	viper.SetDefault("storage.s3.documents_bucket", "documents")
	viper.SetDefault("storage.s3.assets_bucket", "assets")
	viper.SetDefault("storage.index.path", "data/keyword.bleve")

	viper.SetDefault("telemetry.enabled", true)
	viper.SetDefault("telemetry.metrics_port", 9090)
}

// LoadConfig loads config from file
func LoadConfig(path string) *Config {
	viper.SetConfigName("config")
	viper.SetConfigType("json")
	setDefaults()

	if path == "" {
		viper.AddConfigPath("./config")
		viper.AddConfigPath(".")
		exe, _ := os.Executable()
		exeDir := filepath.Dir(exe)
		viper.AddConfigPath(exeDir)
		viper.AddConfigPath(filepath.Join(exeDir, ".."))
		viper.AddConfigPath(filepath.Join(exeDir, "..", "config"))
	} else {
		viper.SetConfigFile(path)
	}

	viper.SetEnvPrefix("CONTEXTFORGE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		panic(fmt.Errorf("fatal error config file: %w", err))
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		panic(fmt.Errorf("fatal error config file: %w", err))
	}
	config.Ingest = config.Ingest.Normalize()
	config.Crawl = config.Crawl.Normalize()

	if err := config.LLM.Validate(); err != nil {
		panic(err)
	}
	if err := config.Ingest.Validate(); err != nil {
		panic(err)
	}
	if err := config.Retrieval.Validate(); err != nil {
		panic(err)
	}
	if err := config.Answer.Validate(); err != nil {
		panic(err)
	}
	if err := config.Storage.Postgres.Validate(); err != nil {
		panic(err)
	}
	if err := config.Storage.Redis.Validate(); err != nil {
		panic(err)
	}
	if err := config.Storage.S3.Validate(); err != nil {
		panic(err)
	}
	if err := config.Telemetry.Validate(); err != nil {
		panic(err)
	}
	return &config
}
