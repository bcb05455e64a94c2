package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Store backends
const (
	StoreMemory   = "memory"
	StoreRedis    = "redis"
	StorePostgres = "postgres"
)

// LLM provider selection
const (
	LLMAuto   = "auto"
	LLMGemini = "gemini"
	LLMOpenAI = "openai"
	LLMNone   = "none"
)

type Config struct {
	// Server
	APIPort            string
	WorkerEnabled      bool
	BackendAPIKey      string // API key for authenticating requests (empty = no auth, dev mode)
	CorsAllowedOrigins string // Comma-separated allowed origins (empty = *, dev mode)

	// Paths
	PublicDir  string // uploads are served relative to this directory
	UploadsDir string
	OutputDir  string
	TempDir    string

	// Job store
	StoreBackend string
	DatabaseURL  string

	// Redis (store backend and render queue)
	RedisURL         string
	QueueEnabled     bool
	QueueMaxAttempts int

	// NATS (progress events, optional)
	NATSURL           string
	NATSSubjectPrefix string

	// Gemini (preferred narration LLM)
	LLMProvider   string
	GeminiKey     string
	GeminiModel   string
	GeminiBaseURL string

	// OpenAI (alternative narration LLM)
	OpenAIKey     string
	OpenAIModel   string
	OpenAIBaseURL string

	// ElevenLabs (voice cloning + TTS)
	ElevenLabsKey     string
	ElevenLabsBaseURL string
	ElevenLabsModel   string

	// Renderer
	RenderCommand     string
	RenderComposition string
	RenderWorkDir     string
	RenderTimeout     time.Duration

	// Media tools
	FFmpegPath     string
	FFprobePath    string
	ProbeTimeout   time.Duration
	ExtractTimeout time.Duration

	// Output storage (optional, Supabase storage API)
	SupabaseURL           string
	SupabaseServiceKey    string
	SupabaseStorageBucket string
	SupabaseStoragePrefix string

	// Batch limits and lifetimes
	MaxRecipients     int
	MaxUploadBytes    int64
	JobExpiry         time.Duration
	SweepInterval     time.Duration
	MaxConcurrentJobs int
}

func Load() (*Config, error) {
	// Load .env file if it exists (ignore error in production)
	_ = godotenv.Load()

	publicDir := getEnv("PUBLIC_DIR", "public")

	cfg := &Config{
		APIPort:               getEnv("API_PORT", "3210"),
		WorkerEnabled:         getEnvBool("WORKER_ENABLED", true),
		BackendAPIKey:         getEnv("BACKEND_API_KEY", ""),
		CorsAllowedOrigins:    getEnv("CORS_ALLOWED_ORIGINS", ""),
		PublicDir:             publicDir,
		UploadsDir:            getEnv("UPLOADS_DIR", filepath.Join(publicDir, "uploads")),
		OutputDir:             getEnv("OUTPUT_DIR", "out"),
		TempDir:               getEnv("TEMP_DIR", "tmp"),
		StoreBackend:          getEnv("STORE_BACKEND", StoreMemory),
		DatabaseURL:           getEnv("DATABASE_URL", ""),
		RedisURL:              getEnv("REDIS_URL", ""),
		QueueEnabled:          getEnvBool("QUEUE_ENABLED", false),
		QueueMaxAttempts:      getEnvInt("QUEUE_MAX_ATTEMPTS", 3),
		NATSURL:               getEnv("NATS_URL", ""),
		NATSSubjectPrefix:     getEnv("NATS_SUBJECT_PREFIX", "blessings.batch"),
		LLMProvider:           getEnv("LLM_PROVIDER", LLMAuto),
		GeminiKey:             getEnv("GEMINI_API_KEY", ""),
		GeminiModel:           getEnv("GEMINI_MODEL", "gemini-2.0-flash"),
		GeminiBaseURL:         getEnv("GEMINI_BASE_URL", ""),
		OpenAIKey:             getEnv("OPENAI_API_KEY", ""),
		OpenAIModel:           getEnv("OPENAI_MODEL", "gpt-4o-mini"),
		OpenAIBaseURL:         getEnv("OPENAI_BASE_URL", ""),
		ElevenLabsKey:         getEnv("ELEVENLABS_API_KEY", ""),
		ElevenLabsBaseURL:     getEnv("ELEVENLABS_BASE_URL", "https://api.elevenlabs.io"),
		ElevenLabsModel:       getEnv("ELEVENLABS_MODEL", "eleven_multilingual_v2"),
		RenderCommand:         getEnv("RENDER_COMMAND", "npx remotion"),
		RenderComposition:     getEnv("RENDER_COMPOSITION", "SpringFestivalVideo"),
		RenderWorkDir:         getEnv("RENDER_WORKDIR", "."),
		RenderTimeout:         getEnvDuration("RENDER_TIMEOUT", 10*time.Minute),
		FFmpegPath:            getEnv("FFMPEG_PATH", "ffmpeg"),
		FFprobePath:           getEnv("FFPROBE_PATH", "ffprobe"),
		ProbeTimeout:          getEnvDuration("PROBE_TIMEOUT", 10*time.Second),
		ExtractTimeout:        getEnvDuration("EXTRACT_TIMEOUT", 30*time.Second),
		SupabaseURL:           getEnv("SUPABASE_URL", ""),
		SupabaseServiceKey:    getEnv("SUPABASE_SERVICE_KEY", ""),
		SupabaseStorageBucket: getEnv("SUPABASE_STORAGE_BUCKET", "blessing-videos"),
		SupabaseStoragePrefix: getEnv("SUPABASE_STORAGE_PREFIX", ""),
		MaxRecipients:         getEnvInt("MAX_RECIPIENTS", 50),
		MaxUploadBytes:        int64(getEnvInt("MAX_UPLOAD_MB", 50)) * 1024 * 1024,
		JobExpiry:             getEnvDuration("JOB_EXPIRY", time.Hour),
		SweepInterval:         getEnvDuration("JOB_SWEEP_INTERVAL", 10*time.Minute),
		MaxConcurrentJobs:     getEnvInt("MAX_CONCURRENT_JOBS", 1),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks combinations that cannot work at runtime. Missing provider
// credentials are not errors; the pipeline runs without those capabilities.
func (c *Config) Validate() error {
	switch c.StoreBackend {
	case StoreMemory:
	case StoreRedis:
		if c.RedisURL == "" {
			return fmt.Errorf("REDIS_URL is required when STORE_BACKEND=redis")
		}
	case StorePostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when STORE_BACKEND=postgres")
		}
	default:
		return fmt.Errorf("unknown STORE_BACKEND %q (expected memory, redis or postgres)", c.StoreBackend)
	}

	if c.QueueEnabled && c.RedisURL == "" {
		return fmt.Errorf("REDIS_URL is required when QUEUE_ENABLED=true")
	}

	switch c.LLMProvider {
	case LLMAuto, LLMGemini, LLMOpenAI, LLMNone:
	default:
		return fmt.Errorf("unknown LLM_PROVIDER %q (expected auto, gemini, openai or none)", c.LLMProvider)
	}

	if c.MaxRecipients < 1 {
		return fmt.Errorf("MAX_RECIPIENTS must be at least 1")
	}

	if c.JobExpiry <= 0 || c.SweepInterval <= 0 {
		return fmt.Errorf("JOB_EXPIRY and JOB_SWEEP_INTERVAL must be positive")
	}

	if c.MaxConcurrentJobs < 1 {
		c.MaxConcurrentJobs = 1
	}

	return nil
}

// StorageEnabled reports whether rendered videos should be uploaded to object storage.
func (c *Config) StorageEnabled() bool {
	return c.SupabaseURL != "" && c.SupabaseServiceKey != ""
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		b, err := strconv.ParseBool(value)
		if err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		i, err := strconv.Atoi(value)
		if err == nil {
			return i
		}
	}
	return defaultValue
}

// getEnvDuration accepts Go duration strings ("90s", "10m") or plain milliseconds.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if ms, err := strconv.Atoi(value); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	return defaultValue
}
