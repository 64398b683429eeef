// Package config centralizes everything a worker binary reads from its
// environment: queue and database connectivity, per-stage tuning
// parameters, and the opaque credentials for external analyzer services.
// Every required value has a safe default except the text-analyzer and
// embedder API keys, which fail fast at startup (ValidateServiceKeys) in
// the workers that call those services.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Redis configures the stage-queue connection.
type Redis struct {
	Addr         string        `mapstructure:"addr"`
	Username     string        `mapstructure:"username"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	MaxRetries   int           `mapstructure:"max_retries"`
}

// Postgres configures the shared relational store (grievances, jobs,
// patterns, escalations).
type Postgres struct {
	DSN             string `mapstructure:"dsn"`
	MaxOpenConns    int    `mapstructure:"max_open_conns"`
	MaxIdleConns    int    `mapstructure:"max_idle_conns"`
	NotifyChannel   string `mapstructure:"notify_channel"`
}

// Blob configures the S3-compatible object store.
type Blob struct {
	Bucket          string `mapstructure:"bucket"`
	Region          string `mapstructure:"region"`
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	ForcePathStyle  bool   `mapstructure:"force_path_style"`
}

// VectorIndex configures the qdrant collection used for chunk embeddings.
type VectorIndex struct {
	Addr           string `mapstructure:"addr"`
	Collection     string `mapstructure:"collection"`
	APIKey         string `mapstructure:"api_key"`
	VectorDim      int    `mapstructure:"vector_dim"`
	UseTLS         bool   `mapstructure:"use_tls"`
}

// Queues names every stage queue; overridable so multiple environments can
// share one Redis instance.
type Queues struct {
	Grievances    string `mapstructure:"grievances"`
	WebCrawler    string `mapstructure:"webcrawler"`
	Embeddings    string `mapstructure:"embeddings"`
	KnowledgeBase string `mapstructure:"knowledgebase"`
	Processed     string `mapstructure:"processed"`
}

// Worker tunes the queue-worker runtime shared by every stage (section 4.1).
type Worker struct {
	PollInterval      time.Duration `mapstructure:"poll_interval"`
	VisibilityTimeout time.Duration `mapstructure:"visibility_timeout"`
	ProcessingListPattern string    `mapstructure:"processing_list_pattern"`
	HeartbeatKeyPattern   string    `mapstructure:"heartbeat_key_pattern"`
}

// JobStore tunes the Postgres-backed job row claimer (section 4.2).
type JobStore struct {
	Table               string        `mapstructure:"table"`
	ClaimLimit          int           `mapstructure:"claim_limit"`
	RequeueStuckAfter    time.Duration `mapstructure:"requeue_stuck_after"`
	RequeueFailedAfter   time.Duration `mapstructure:"requeue_failed_after"`
	MaxErrorLen          int           `mapstructure:"max_error_len"`
}

// Crawler tunes the Crawler stage (section 4.4).
type Crawler struct {
	BatchSize   int           `mapstructure:"batch_size"`
	MaxPages    int           `mapstructure:"max_pages"`
	PageTimeout time.Duration `mapstructure:"page_timeout"`
	JobTimeout  time.Duration `mapstructure:"job_timeout"`
}

// Embeddings tunes the Embeddings stage chunking (section 4.5).
type Embeddings struct {
	ChunkSize    int `mapstructure:"chunk_size"`
	ChunkOverlap int `mapstructure:"chunk_overlap"`
	BatchSize    int `mapstructure:"batch_size"`
}

// Pattern tunes the pattern-cache similarity threshold (section 4.6).
type Pattern struct {
	SimilarityThreshold float64 `mapstructure:"similarity_threshold"`
}

// Progress tunes the scheduled Progress/Escalation stage (section 4.7).
type Progress struct {
	Schedule string `mapstructure:"schedule"`
}

// Departments tunes the department allocator's combined-score weighting
// (section 4.3 step 10).
type Departments struct {
	EmbeddingWeight float64 `mapstructure:"embedding_weight"`
}

// Services carries the opaque credentials for out-of-scope collaborators
// (LLM, embedding, vision, web-search). ValidateServiceKeys requires the
// text-analyzer and embedder keys, and bootstrap.Init calls it only for
// workers started with requireServiceKeys; the vision and web-search keys
// are not checked.
type Services struct {
	TextAnalyzerAPIKey  string        `mapstructure:"text_analyzer_api_key"`
	TextAnalyzerBaseURL string        `mapstructure:"text_analyzer_base_url"`
	EmbedderAPIKey      string        `mapstructure:"embedder_api_key"`
	EmbedderBaseURL     string        `mapstructure:"embedder_base_url"`
	EmbeddingModel      string        `mapstructure:"embedding_model"`
	VisionAPIKey        string        `mapstructure:"vision_api_key"`
	VisionBaseURL       string        `mapstructure:"vision_base_url"`
	WebSearchAPIKey     string        `mapstructure:"web_search_api_key"`
	WebSearchBaseURL    string        `mapstructure:"web_search_base_url"`
	HTTPConnectTimeout  time.Duration `mapstructure:"http_connect_timeout"`
	HTTPReadTimeout     time.Duration `mapstructure:"http_read_timeout"`
	LLMCallTimeout      time.Duration `mapstructure:"llm_call_timeout"`
}

// Observability configures the metrics/health HTTP server.
type Observability struct {
	MetricsPort         int           `mapstructure:"metrics_port"`
	LogLevel            string        `mapstructure:"log_level"`
	QueueSampleInterval time.Duration `mapstructure:"queue_sample_interval"`
}

type Config struct {
	Redis         Redis         `mapstructure:"redis"`
	Postgres      Postgres      `mapstructure:"postgres"`
	Blob          Blob          `mapstructure:"blob"`
	VectorIndex   VectorIndex   `mapstructure:"vector_index"`
	Queues        Queues        `mapstructure:"queues"`
	Worker        Worker        `mapstructure:"worker"`
	JobStore      JobStore      `mapstructure:"job_store"`
	Crawler       Crawler       `mapstructure:"crawler"`
	Embeddings    Embeddings    `mapstructure:"embeddings"`
	Pattern       Pattern       `mapstructure:"pattern"`
	Progress      Progress      `mapstructure:"progress"`
	Departments   Departments   `mapstructure:"departments"`
	Services      Services      `mapstructure:"services"`
	Observability Observability `mapstructure:"observability"`
}

func defaultConfig() *Config {
	return &Config{
		Redis: Redis{
			Addr:         "localhost:6379",
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
			MaxRetries:   3,
		},
		Postgres: Postgres{
			DSN:           "postgres://localhost:5432/grievances?sslmode=disable",
			MaxOpenConns:  10,
			MaxIdleConns:  5,
			NotifyChannel: "new_grievance_research",
		},
		Blob: Blob{
			Bucket:         "grievance-pipeline",
			Region:         "us-east-1",
			ForcePathStyle: false,
		},
		VectorIndex: VectorIndex{
			Addr:       "localhost:6334",
			Collection: "grievance_chunks",
			VectorDim:  384,
		},
		Queues: Queues{
			Grievances:    "grievances",
			WebCrawler:    "webcrawler",
			Embeddings:    "embeddings",
			KnowledgeBase: "knowledgebase",
			Processed:     "processed",
		},
		Worker: Worker{
			PollInterval:          3 * time.Second,
			VisibilityTimeout:     10 * time.Minute,
			ProcessingListPattern: "pipeline:%s:worker:%s:processing",
			HeartbeatKeyPattern:   "pipeline:%s:worker:%s:heartbeat",
		},
		JobStore: JobStore{
			Table:              "embedding_jobs",
			ClaimLimit:         10,
			RequeueStuckAfter:  15 * time.Minute,
			RequeueFailedAfter: 1 * time.Hour,
			MaxErrorLen:        2000,
		},
		Crawler: Crawler{
			BatchSize:   3,
			MaxPages:    50,
			PageTimeout: 15 * time.Second,
			JobTimeout:  5 * time.Minute,
		},
		Embeddings: Embeddings{
			ChunkSize:    1000,
			ChunkOverlap: 200,
			BatchSize:    16,
		},
		Pattern: Pattern{
			SimilarityThreshold: 0.85,
		},
		Progress: Progress{
			Schedule: "0 * * * *",
		},
		Departments: Departments{
			EmbeddingWeight: 0.6,
		},
		Services: Services{
			TextAnalyzerBaseURL: "http://localhost:8081",
			EmbedderBaseURL:     "http://localhost:8082",
			EmbeddingModel:      "default-384",
			VisionBaseURL:       "http://localhost:8083",
			WebSearchBaseURL:    "http://localhost:8084",
			HTTPConnectTimeout:  10 * time.Second,
			HTTPReadTimeout:     30 * time.Second,
			LLMCallTimeout:      60 * time.Second,
		},
		Observability: Observability{
			MetricsPort:         9090,
			LogLevel:            "info",
			QueueSampleInterval: 2 * time.Second,
		},
	}
}

// Load reads configuration from an optional YAML file plus environment
// variable overrides (e.g. DATABASE_URL -> postgres.dsn is NOT automatic;
// env vars are bound explicitly below so the documented names in section 6
// work without a naming convention surprise).
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	def := defaultConfig()
	setDefaults(v, def)
	bindEnv(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper, def *Config) {
	v.SetDefault("redis", def.Redis)
	v.SetDefault("postgres", def.Postgres)
	v.SetDefault("blob", def.Blob)
	v.SetDefault("vector_index", def.VectorIndex)
	v.SetDefault("queues", def.Queues)
	v.SetDefault("worker", def.Worker)
	v.SetDefault("job_store", def.JobStore)
	v.SetDefault("crawler", def.Crawler)
	v.SetDefault("embeddings", def.Embeddings)
	v.SetDefault("pattern", def.Pattern)
	v.SetDefault("progress", def.Progress)
	v.SetDefault("departments", def.Departments)
	v.SetDefault("services", def.Services)
	v.SetDefault("observability", def.Observability)
}

// bindEnv wires the literal environment variable names documented in
// section 6 to their config keys, since they don't follow the
// SECTION_FIELD convention AutomaticEnv would otherwise require.
func bindEnv(v *viper.Viper) {
	_ = v.BindEnv("postgres.dsn", "DATABASE_URL")
	_ = v.BindEnv("redis.addr", "REDIS_ADDR", "QUEUE_CONNECTION_STRING")
	_ = v.BindEnv("blob.bucket", "BLOB_CONTAINER_NAME")
	_ = v.BindEnv("blob.endpoint", "BLOB_CONNECTION_STRING")
	_ = v.BindEnv("queues.grievances", "GRIEVANCES_QUEUE")
	_ = v.BindEnv("queues.webcrawler", "WEBCRAWLER_QUEUE")
	_ = v.BindEnv("queues.embeddings", "EMBEDDINGS_QUEUE")
	_ = v.BindEnv("queues.knowledgebase", "KNOWLEDGEBASE_QUEUE")
	_ = v.BindEnv("queues.processed", "PROCESSED_QUEUE")
	_ = v.BindEnv("services.embedding_model", "EMBEDDING_MODEL")
	_ = v.BindEnv("embeddings.batch_size", "EMBEDDING_BATCH_SIZE")
	_ = v.BindEnv("worker.poll_interval", "POLL_INTERVAL_SEC")
	_ = v.BindEnv("worker.visibility_timeout", "VISIBILITY_TIMEOUT")
	_ = v.BindEnv("embeddings.chunk_size", "CHUNK_SIZE")
	_ = v.BindEnv("embeddings.chunk_overlap", "CHUNK_OVERLAP")
	_ = v.BindEnv("job_store.requeue_stuck_after", "REQUEUE_STUCK_AFTER_SEC")
	_ = v.BindEnv("job_store.requeue_failed_after", "REQUEUE_FAILED_AFTER_SEC")
	_ = v.BindEnv("crawler.max_pages", "MAX_PAGES_PER_JOB")
	_ = v.BindEnv("crawler.batch_size", "BATCH_SIZE")
	_ = v.BindEnv("crawler.page_timeout", "PAGE_TIMEOUT")
	_ = v.BindEnv("pattern.similarity_threshold", "PATTERN_SIMILARITY_THRESHOLD")
	_ = v.BindEnv("services.text_analyzer_api_key", "TEXT_ANALYZER_API_KEY")
	_ = v.BindEnv("services.embedder_api_key", "EMBEDDER_API_KEY")
	_ = v.BindEnv("services.vision_api_key", "VISION_API_KEY")
	_ = v.BindEnv("services.web_search_api_key", "WEB_SEARCH_API_KEY")
	_ = v.BindEnv("services.text_analyzer_base_url", "TEXT_ANALYZER_BASE_URL")
	_ = v.BindEnv("services.embedder_base_url", "EMBEDDER_BASE_URL")
	_ = v.BindEnv("services.vision_base_url", "VISION_BASE_URL")
	_ = v.BindEnv("services.web_search_base_url", "WEB_SEARCH_BASE_URL")
}

// Validate checks config constraints and fails fast on infrastructure
// misconfiguration, per section 7's taxonomy.
func Validate(cfg *Config) error {
	if cfg.Postgres.DSN == "" {
		return fmt.Errorf("postgres.dsn (DATABASE_URL) is required")
	}
	if cfg.Redis.Addr == "" {
		return fmt.Errorf("redis.addr is required")
	}
	if cfg.Blob.Bucket == "" {
		return fmt.Errorf("blob.bucket is required")
	}
	if cfg.VectorIndex.Addr == "" {
		return fmt.Errorf("vector_index.addr is required")
	}
	if cfg.VectorIndex.VectorDim <= 0 {
		return fmt.Errorf("vector_index.vector_dim must be > 0")
	}
	if cfg.Pattern.SimilarityThreshold <= 0 || cfg.Pattern.SimilarityThreshold > 1 {
		return fmt.Errorf("pattern.similarity_threshold must be in (0, 1]")
	}
	if cfg.JobStore.ClaimLimit < 1 {
		return fmt.Errorf("job_store.claim_limit must be >= 1")
	}
	if cfg.Crawler.BatchSize < 1 {
		return fmt.Errorf("crawler.batch_size must be >= 1")
	}
	if cfg.Embeddings.ChunkOverlap >= cfg.Embeddings.ChunkSize {
		return fmt.Errorf("embeddings.chunk_overlap must be < embeddings.chunk_size")
	}
	if cfg.Observability.MetricsPort <= 0 || cfg.Observability.MetricsPort > 65535 {
		return fmt.Errorf("observability.metrics_port must be 1..65535")
	}
	return nil
}

// ValidateServiceKeys fails fast when an opaque external-service credential
// is missing. Called by worker mains after Load, not by Load itself, so
// tests can exercise the pipeline against fakes without setting real keys.
func ValidateServiceKeys(cfg *Config) error {
	missing := []string{}
	if cfg.Services.TextAnalyzerAPIKey == "" {
		missing = append(missing, "TEXT_ANALYZER_API_KEY")
	}
	if cfg.Services.EmbedderAPIKey == "" {
		missing = append(missing, "EMBEDDER_API_KEY")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required service credentials: %s", strings.Join(missing, ", "))
	}
	return nil
}
