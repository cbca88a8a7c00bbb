package common

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/m3n3sx/faktulove3-sub000/constants"
)

// Config holds all application configuration
type Config struct {
	Database DatabaseConfig
	Server   ServerConfig
	Storage  StorageConfig
	Engine   EngineConfig
	Pipeline PipelineConfig
	Upload   UploadConfig
	Policy   PolicyConfig
	Log      LogConfig
}

// DatabaseConfig holds database-related configuration
type DatabaseConfig struct {
	Driver           string // postgres | sqlite
	DSN              string
	MaxConns         int32
	MinConns         int32
	MaxConnLifetime  time.Duration
	MaxConnIdleTime  time.Duration
	DialTimeout      time.Duration
	StatementTimeout time.Duration
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	GRPCAddr string
	HTTPAddr string
}

// StorageConfig selects where uploaded bytes live.
type StorageConfig struct {
	Backend  string // fs | bolt | minio
	Dir      string
	BoltPath string
	Minio    MinioConfig
}

// MinioConfig holds object storage settings
type MinioConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	UseSSL    bool   `yaml:"use_ssl"`
}

// EngineConfig holds OCR-engine configuration
type EngineConfig struct {
	Backend       string // tesseract | gemini | fake
	Timeout       time.Duration
	Tesseract     string
	Pdftotext     string
	Pdftoppm      string
	TesseractLang string
	TessdataDir   string
	GeminiAPIKey  string
	GeminiModel   string
}

// PipelineConfig holds worker pool and retry configuration
type PipelineConfig struct {
	Workers            int
	QueueSize          int
	ProcessTimeout     time.Duration
	MaxAttempts        int
	BackoffBase        time.Duration
	BackoffCap         time.Duration
	LeaseTTL           time.Duration
	RecoveryInterval   time.Duration
	OwnerRatePerMinute int
	OwnerBurst         int
}

// UploadConfig holds admission limits
type UploadConfig struct {
	MaxBytes    int64    `yaml:"max_bytes"`
	AllowedMIME []string `yaml:"allowed_mime"`
}

// PolicyConfig holds thresholds and weights of the scoring and decision stages.
type PolicyConfig struct {
	AutoAccept        float64 `yaml:"auto_accept"`
	ReviewFloor       float64 `yaml:"review_floor"`
	CriticalCap       float64 `yaml:"critical_cap"`
	FieldBonus        float64 `yaml:"field_bonus"`
	DocumentPenalty   float64 `yaml:"document_penalty"`
	EngineWeight      float64 `yaml:"engine_weight"`
	FieldsWeight      float64 `yaml:"fields_weight"`
	ConsistencyWeight float64 `yaml:"consistency_weight"`
	DefaultCountry    string  `yaml:"default_country"`
}

// LogConfig holds logger configuration
type LogConfig struct {
	Level  string // debug, info, warn, error
	Format string // json, text
}

// LoadConfig loads configuration from environment variables
func LoadConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			Driver:           getEnv("DB_DRIVER", "postgres"),
			DSN:              getEnv("DB_URL", ""),
			MaxConns:         getEnvAsInt32("DB_MAX_CONNS", 20),
			MinConns:         getEnvAsInt32("DB_MIN_CONNS", 5),
			MaxConnLifetime:  getEnvAsDuration("DB_MAX_CONN_LIFETIME", 30*time.Minute),
			MaxConnIdleTime:  getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", 5*time.Minute),
			DialTimeout:      getEnvAsDuration("DB_DIAL_TIMEOUT", 3*time.Second),
			StatementTimeout: getEnvAsDuration("DB_STATEMENT_TIMEOUT", 0),
		},
		Server: ServerConfig{
			GRPCAddr: getEnv("GRPC_ADDR", ":8080"),
			HTTPAddr: getEnv("HTTP_ADDR", ":8081"),
		},
		Storage: StorageConfig{
			Backend:  getEnv("STORAGE_BACKEND", "fs"),
			Dir:      getEnv("STORAGE_DIR", "./data/uploads"),
			BoltPath: getEnv("STORAGE_BOLT_PATH", "./data/uploads.db"),
			Minio: MinioConfig{
				Endpoint:  getEnv("MINIO_ENDPOINT", ""),
				AccessKey: getEnv("MINIO_ACCESS_KEY", ""),
				SecretKey: getEnv("MINIO_SECRET_KEY", ""),
				Bucket:    getEnv("MINIO_BUCKET", "faktulove-uploads"),
				UseSSL:    getEnvAsBool("MINIO_USE_SSL", false),
			},
		},
		Engine: EngineConfig{
			Backend:       getEnv("ENGINE_BACKEND", constants.EngineTesseract),
			Timeout:       getEnvAsDuration("ENGINE_TIMEOUT", 90*time.Second),
			Tesseract:     getEnv("TESSERACT_BIN", "tesseract"),
			Pdftotext:     getEnv("PDFTOTEXT_BIN", "pdftotext"),
			Pdftoppm:      getEnv("PDFTOPPM_BIN", "pdftoppm"),
			TesseractLang: getEnv("TESSERACT_LANG", "pol+eng"),
			TessdataDir:   getEnv("TESSDATA_PREFIX", ""),
			GeminiAPIKey:  getEnv("GEMINI_API_KEY", ""),
			GeminiModel:   getEnv("GEMINI_MODEL", "gemini-2.5-pro"),
		},
		Pipeline: PipelineConfig{
			Workers:            getEnvAsInt("PIPELINE_WORKERS", 4),
			QueueSize:          getEnvAsInt("PIPELINE_QUEUE_SIZE", 256),
			ProcessTimeout:     getEnvAsDuration("PIPELINE_PROCESS_TIMEOUT", 3*time.Minute),
			MaxAttempts:        getEnvAsInt("PIPELINE_MAX_ATTEMPTS", 3),
			BackoffBase:        getEnvAsDuration("PIPELINE_BACKOFF_BASE", 5*time.Second),
			BackoffCap:         getEnvAsDuration("PIPELINE_BACKOFF_CAP", 5*time.Minute),
			LeaseTTL:           getEnvAsDuration("PIPELINE_LEASE_TTL", 10*time.Minute),
			RecoveryInterval:   getEnvAsDuration("PIPELINE_RECOVERY_INTERVAL", time.Minute),
			OwnerRatePerMinute: getEnvAsInt("PIPELINE_OWNER_RATE_PER_MINUTE", 30),
			OwnerBurst:         getEnvAsInt("PIPELINE_OWNER_BURST", 10),
		},
		Upload: UploadConfig{
			MaxBytes:    getEnvAsInt64("UPLOAD_MAX_BYTES", 20<<20),
			AllowedMIME: getEnvAsList("UPLOAD_ALLOWED_MIME", constants.DefaultAllowedMIME),
		},
		Policy: DefaultPolicy(),
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "text"),
		},
	}
}

// DefaultPolicy returns the contractual thresholds and weights.
func DefaultPolicy() PolicyConfig {
	return PolicyConfig{
		AutoAccept:        getEnvAsFloat("POLICY_AUTO_ACCEPT", 90),
		ReviewFloor:       getEnvAsFloat("POLICY_REVIEW_FLOOR", 70),
		CriticalCap:       getEnvAsFloat("POLICY_CRITICAL_CAP", 60),
		FieldBonus:        getEnvAsFloat("POLICY_FIELD_BONUS", 5),
		DocumentPenalty:   getEnvAsFloat("POLICY_DOCUMENT_PENALTY", 15),
		EngineWeight:      0.5,
		FieldsWeight:      0.3,
		ConsistencyWeight: 0.2,
		DefaultCountry:    getEnv("POLICY_DEFAULT_COUNTRY", "PL"),
	}
}

// policyFile is the YAML shape of POLICY_FILE.
type policyFile struct {
	Policy *PolicyConfig `yaml:"policy"`
	Upload *UploadConfig `yaml:"upload"`
}

// LoadPolicyFile overlays thresholds, weights and upload limits from a YAML file.
// Zero values in the file keep the current setting.
func (c *Config) LoadPolicyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read policy file: %w", err)
	}
	var pf policyFile
	if err := yaml.Unmarshal(data, &pf); err != nil {
		return fmt.Errorf("parse policy file: %w", err)
	}
	if p := pf.Policy; p != nil {
		overlay(&c.Policy.AutoAccept, p.AutoAccept)
		overlay(&c.Policy.ReviewFloor, p.ReviewFloor)
		overlay(&c.Policy.CriticalCap, p.CriticalCap)
		overlay(&c.Policy.FieldBonus, p.FieldBonus)
		overlay(&c.Policy.DocumentPenalty, p.DocumentPenalty)
		overlay(&c.Policy.EngineWeight, p.EngineWeight)
		overlay(&c.Policy.FieldsWeight, p.FieldsWeight)
		overlay(&c.Policy.ConsistencyWeight, p.ConsistencyWeight)
		if p.DefaultCountry != "" {
			c.Policy.DefaultCountry = p.DefaultCountry
		}
	}
	if u := pf.Upload; u != nil {
		if u.MaxBytes > 0 {
			c.Upload.MaxBytes = u.MaxBytes
		}
		if len(u.AllowedMIME) > 0 {
			c.Upload.AllowedMIME = u.AllowedMIME
		}
	}
	return nil
}

func overlay(dst *float64, v float64) {
	if v != 0 {
		*dst = v
	}
}

// Helper functions for environment variable parsing
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsInt32(key string, defaultValue int32) int32 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 32); err == nil {
			return int32(intVal)
		}
	}
	return defaultValue
}

func getEnvAsInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvAsList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return append([]string(nil), defaultValue...)
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Validate validates the loaded configuration
func (c *Config) Validate() error {
	if c.Database.DSN == "" {
		return NewAppError("CONFIG_ERROR", "DB_URL is required", ErrInvalidInput)
	}
	switch c.Database.Driver {
	case "postgres", "sqlite":
	default:
		return NewAppError("CONFIG_ERROR", "DB_DRIVER must be postgres or sqlite", ErrInvalidInput)
	}
	if c.Server.GRPCAddr == "" {
		return NewAppError("CONFIG_ERROR", "GRPC_ADDR is required", ErrInvalidInput)
	}
	if c.Engine.Backend == constants.EngineGemini && c.Engine.GeminiAPIKey == "" {
		return NewAppError("CONFIG_ERROR", "GEMINI_API_KEY is required for the gemini engine", ErrInvalidInput)
	}
	if c.Pipeline.Workers <= 0 || c.Pipeline.QueueSize <= 0 || c.Pipeline.MaxAttempts <= 0 {
		return NewAppError("CONFIG_ERROR", "pipeline workers, queue size and max attempts must be positive", ErrInvalidInput)
	}
	if c.Upload.MaxBytes <= 0 || len(c.Upload.AllowedMIME) == 0 {
		return NewAppError("CONFIG_ERROR", "upload limits must be set", ErrInvalidInput)
	}
	return c.Policy.Validate()
}

// Validate checks the thresholds are ordered and within [0, 100].
func (p PolicyConfig) Validate() error {
	for _, v := range []float64{p.AutoAccept, p.ReviewFloor, p.CriticalCap} {
		if v < 0 || v > 100 {
			return NewAppError("CONFIG_ERROR", "thresholds must be within [0, 100]", ErrInvalidInput)
		}
	}
	if p.ReviewFloor > p.AutoAccept {
		return NewAppError("CONFIG_ERROR", "review floor must not exceed auto-accept threshold", ErrInvalidInput)
	}
	if p.CriticalCap >= p.AutoAccept {
		return NewAppError("CONFIG_ERROR", "critical cap must be below auto-accept threshold", ErrInvalidInput)
	}
	return nil
}
