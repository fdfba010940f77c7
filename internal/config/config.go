package config

import (
	"bytes"
	_ "embed"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/OFFIS-RIT/tvkpi/internal/util"
	"github.com/OFFIS-RIT/tvkpi/pkg/ai"
	"github.com/OFFIS-RIT/tvkpi/pkg/common"
	"github.com/OFFIS-RIT/tvkpi/pkg/logger"

	"github.com/go-playground/validator"
	"gopkg.in/yaml.v3"
)

const vocabFileEnv = "VOCAB_FILE"

//go:embed vocab.yaml
var defaultVocab []byte

// Company is a tracked company.
type Company struct {
	Name string `yaml:"name" validate:"required"`
	Code string `yaml:"code"`
}

// Vocabulary holds the closed lists the pipeline works with.
type Vocabulary struct {
	Companies  []Company             `yaml:"companies" validate:"required,min=1,dive"`
	TVKeywords []string              `yaml:"tv_keywords" validate:"required,min=1,dive,required"`
	KPIs       []string              `yaml:"kpis" validate:"required,min=1,dive,required"`
	Factors    []string              `yaml:"factors" validate:"required,min=1,dive,required"`
	Windows    map[common.Source]int `yaml:"windows" validate:"dive,min=0"`
}

// Window is the context window for documents of the given source.
// Unknown sources use no context.
func (v Vocabulary) Window(source common.Source) int {
	return v.Windows[source]
}

// CompanyNames lists the tracked company names in configured order.
func (v Vocabulary) CompanyNames() []string {
	out := make([]string, 0, len(v.Companies))
	for _, c := range v.Companies {
		out = append(out, c.Name)
	}
	return out
}

// StorageBackend selects where results are persisted.
type StorageBackend string

const (
	StorageFS       StorageBackend = "fs"
	StorageS3       StorageBackend = "s3"
	StoragePostgres StorageBackend = "postgres"
)

// Config is built once at startup and passed down explicitly.
type Config struct {
	Vocabulary

	Provider       string `validate:"oneof=openai ollama"`
	Model          string `validate:"required"`
	OpenAIURL      string
	OpenAIKey      string
	OllamaURL      string
	OllamaKey      string
	RequestTimeout time.Duration
	Encoding       string
	Temperature    float64 `validate:"min=0,max=2"`
	Thinking       string  `validate:"omitempty,oneof=low medium high"`

	MaxAttempts       int `validate:"min=1"`
	ParseRetryDelay   time.Duration
	TransportDelay    time.Duration
	RateLimitFallback time.Duration
	RateLimitMargin   time.Duration
	RequestsPerMinute float64 `validate:"min=0"`

	InputPricePerMillion  float64 `validate:"min=0"`
	OutputPricePerMillion float64 `validate:"min=0"`

	Storage     StorageBackend `validate:"oneof=fs s3 postgres"`
	DataDir     string
	InputDir    string
	S3Bucket    string
	S3Prefix    string
	S3Region    string
	S3Endpoint  string
	S3AccessKey string
	S3SecretKey string
	DatabaseURL string

	LoadConcurrency int `validate:"min=1"`
	ServerPort      string
}

// ParseVocabulary decodes and validates a vocabulary YAML document.
func ParseVocabulary(data []byte) (Vocabulary, error) {
	var v Vocabulary
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&v); err != nil {
		return Vocabulary{}, fmt.Errorf("failed to parse vocabulary: %w", err)
	}
	for i := range v.TVKeywords {
		v.TVKeywords[i] = strings.TrimSpace(v.TVKeywords[i])
	}
	if err := newValidator().Struct(v); err != nil {
		return Vocabulary{}, fmt.Errorf("invalid vocabulary: %w", err)
	}
	return v, nil
}

// DefaultVocabulary returns the embedded vocabulary.
func DefaultVocabulary() Vocabulary {
	v, err := ParseVocabulary(defaultVocab)
	if err != nil {
		panic(err)
	}
	return v
}

func loadVocabulary() (Vocabulary, error) {
	path := util.GetEnv(vocabFileEnv)
	if path == "" {
		return ParseVocabulary(defaultVocab)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Vocabulary{}, fmt.Errorf("failed to read %s: %w", path, err)
	}
	logger.Info("Using vocabulary file", "path", path)
	return ParseVocabulary(data)
}

// Load builds the configuration from the vocabulary and the environment.
func Load() (Config, error) {
	vocab, err := loadVocabulary()
	if err != nil {
		return Config{}, err
	}

	provider := strings.ToLower(util.GetEnvString("AI_PROVIDER", "openai"))
	cfg := Config{
		Vocabulary: vocab,

		Provider:       provider,
		Model:          util.GetEnvString("AI_EXTRACT_MODEL", defaultModel(provider)),
		OpenAIURL:      util.GetEnv("AI_CHAT_URL"),
		OpenAIKey:      util.GetEnv("AI_CHAT_KEY"),
		OllamaURL:      util.GetEnv("OLLAMA_URL"),
		OllamaKey:      util.GetEnv("OLLAMA_KEY"),
		RequestTimeout: util.GetEnvDuration("AI_REQUEST_TIMEOUT", 2*time.Minute),
		Encoding:       util.GetEnvString("AI_TOKEN_ENCODING", ai.DefaultEncoding),
		Temperature:    util.GetEnvFloat("EXTRACTION_TEMPERATURE", 0),
		Thinking:       strings.ToLower(util.GetEnv("EXTRACTION_THINKING")),

		MaxAttempts:       int(util.GetEnvNumeric("EXTRACT_MAX_ATTEMPTS", 3)),
		ParseRetryDelay:   util.GetEnvDuration("EXTRACT_PARSE_RETRY_DELAY", 2*time.Second),
		TransportDelay:    util.GetEnvDuration("EXTRACT_TRANSPORT_RETRY_DELAY", 5*time.Second),
		RateLimitFallback: util.GetEnvDuration("EXTRACT_RATE_LIMIT_DELAY", 60*time.Second),
		RateLimitMargin:   util.GetEnvDuration("EXTRACT_RATE_LIMIT_MARGIN", 5*time.Second),
		RequestsPerMinute: util.GetEnvFloat("EXTRACT_REQUESTS_PER_MINUTE", 0),

		InputPricePerMillion:  util.GetEnvFloat("AI_INPUT_PRICE_PER_MILLION", 0.075),
		OutputPricePerMillion: util.GetEnvFloat("AI_OUTPUT_PRICE_PER_MILLION", 0.30),

		Storage:     StorageBackend(strings.ToLower(util.GetEnvString("STORAGE_BACKEND", string(StorageFS)))),
		DataDir:     util.GetEnvString("DATA_DIR", "data/processed"),
		InputDir:    util.GetEnvString("INPUT_DIR", "data/extracted"),
		S3Bucket:    util.GetEnv("AWS_BUCKET"),
		S3Prefix:    util.GetEnv("AWS_PREFIX"),
		S3Region:    util.GetEnvString("AWS_REGION", "us-east-1"),
		S3Endpoint:  util.GetEnv("AWS_ENDPOINT"),
		S3AccessKey: util.GetEnv("AWS_ACCESS_KEY"),
		S3SecretKey: util.GetEnv("AWS_SECRET_KEY"),
		DatabaseURL: util.GetEnv("DATABASE_URL"),

		LoadConcurrency: int(util.GetEnvNumeric("LOAD_CONCURRENCY", 8)),
		ServerPort:      util.GetEnvString("PORT", "8080"),
	}

	if v := util.GetEnvList("TV_KEYWORDS", nil); v != nil {
		cfg.TVKeywords = v
	}
	if v, ok := os.LookupEnv("WINDOW_CONSENSUS"); ok {
		cfg.Windows = withWindow(cfg.Windows, common.SourceConsensus, v)
	}
	if v, ok := os.LookupEnv("WINDOW_FILING"); ok {
		cfg.Windows = withWindow(cfg.Windows, common.SourceFiling, v)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the settings that do not depend on the chosen backends
// plus the credentials each chosen backend needs.
func (c Config) Validate() error {
	if err := newValidator().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	switch c.Storage {
	case StorageS3:
		if c.S3Bucket == "" {
			return fmt.Errorf("invalid configuration: AWS_BUCKET is required for the s3 backend")
		}
	case StoragePostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("invalid configuration: DATABASE_URL is required for the postgres backend")
		}
	}
	return nil
}

func defaultModel(provider string) string {
	if provider == "ollama" {
		return "qwen3:8b"
	}
	return "gpt-4o-mini"
}

func withWindow(windows map[common.Source]int, source common.Source, value string) map[common.Source]int {
	out := make(map[common.Source]int, len(windows)+1)
	for k, v := range windows {
		out[k] = v
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil || n < 0 {
		logger.Warn("Ignoring invalid window", "source", source, "value", value)
		return out
	}
	out[source] = n
	return out
}

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("yaml"), ",", 2)[0]
		if name == "" || name == "-" {
			return fld.Name
		}
		return name
	})
	return v
}
