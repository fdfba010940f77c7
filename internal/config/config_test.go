package config

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/OFFIS-RIT/tvkpi/pkg/common"
)

func TestDefaultVocabulary(t *testing.T) {
	v := DefaultVocabulary()

	if !reflect.DeepEqual(v.CompanyNames(), []string{"LG전자", "삼성전자"}) {
		t.Fatalf("companies = %v", v.CompanyNames())
	}
	if len(v.TVKeywords) != 10 || v.TVKeywords[5] != "Smart TV" {
		t.Fatalf("keywords = %v", v.TVKeywords)
	}
	if !reflect.DeepEqual(v.KPIs, []string{"매출", "수익성", "ASP", "판매량", "점유율", "원가"}) {
		t.Fatalf("kpis = %v", v.KPIs)
	}
	if len(v.Factors) != 7 || v.Factors[1] != "패널 가격" {
		t.Fatalf("factors = %v", v.Factors)
	}
	if v.Window(common.SourceConsensus) != 0 || v.Window(common.SourceFiling) != 3 {
		t.Fatalf("windows = %v", v.Windows)
	}
	if v.Window("unknown") != 0 {
		t.Fatal("unknown sources should have no context")
	}
}

func TestParseVocabulary_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"malformed", "kpis: [\n"},
		{"unknown field", "companies: [{name: a}]\ntv_keywords: [TV]\nkpis: [a]\nfactors: [b]\nextra: 1\n"},
		{"no kpis", "companies: [{name: a}]\ntv_keywords: [TV]\nkpis: []\nfactors: [b]\n"},
		{"empty keyword", "companies: [{name: a}]\ntv_keywords: [\"\"]\nkpis: [a]\nfactors: [b]\n"},
		{"company without name", "companies: [{code: \"1\"}]\ntv_keywords: [TV]\nkpis: [a]\nfactors: [b]\n"},
		{"negative window", "companies: [{name: a}]\ntv_keywords: [TV]\nkpis: [a]\nfactors: [b]\nwindows: {filing: -1}\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseVocabulary([]byte(tt.yaml)); err == nil {
				t.Fatal("expected an error")
			}
		})
	}
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("VOCAB_FILE", "")
	t.Setenv("AI_PROVIDER", "openai")
	t.Setenv("STORAGE_BACKEND", "fs")
	t.Setenv("EXTRACTION_TEMPERATURE", "")
	t.Setenv("EXTRACTION_THINKING", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Temperature != 0 || cfg.Thinking != "" {
		t.Fatalf("unexpected generation settings %v %q", cfg.Temperature, cfg.Thinking)
	}
	if cfg.MaxAttempts != 3 || cfg.ParseRetryDelay != 2*time.Second || cfg.TransportDelay != 5*time.Second {
		t.Fatalf("unexpected retry settings %+v", cfg)
	}
	if cfg.RateLimitFallback != time.Minute || cfg.RateLimitMargin != 5*time.Second {
		t.Fatalf("unexpected rate limit settings %+v", cfg)
	}
	if cfg.InputPricePerMillion != 0.075 || cfg.OutputPricePerMillion != 0.30 {
		t.Fatalf("unexpected prices %+v", cfg)
	}
	if len(cfg.KPIs) != 6 {
		t.Fatalf("vocabulary not loaded: %+v", cfg.Vocabulary)
	}
}

func TestLoad_Overrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "vocab.yaml")
	vocab := "companies: [{name: ACME}]\ntv_keywords: [TV]\nkpis: [매출]\nfactors: [환율]\nwindows: {consensus: 1}\n"
	if err := os.WriteFile(path, []byte(vocab), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("VOCAB_FILE", path)
	t.Setenv("AI_PROVIDER", "ollama")
	t.Setenv("STORAGE_BACKEND", "fs")
	t.Setenv("WINDOW_FILING", "2")
	t.Setenv("TV_KEYWORDS", "OLED, QLED")
	t.Setenv("EXTRACT_RATE_LIMIT_DELAY", "90")
	t.Setenv("EXTRACTION_TEMPERATURE", "0.3")
	t.Setenv("EXTRACTION_THINKING", "Medium")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !reflect.DeepEqual(cfg.CompanyNames(), []string{"ACME"}) {
		t.Fatalf("companies = %v", cfg.CompanyNames())
	}
	if !reflect.DeepEqual(cfg.TVKeywords, []string{"OLED", "QLED"}) {
		t.Fatalf("keywords = %v", cfg.TVKeywords)
	}
	if cfg.Window(common.SourceConsensus) != 1 || cfg.Window(common.SourceFiling) != 2 {
		t.Fatalf("windows = %v", cfg.Windows)
	}
	if cfg.Provider != "ollama" || cfg.Model != "qwen3:8b" {
		t.Fatalf("unexpected provider settings %q %q", cfg.Provider, cfg.Model)
	}
	if cfg.RateLimitFallback != 90*time.Second {
		t.Fatalf("rate limit delay = %v", cfg.RateLimitFallback)
	}
	if cfg.Temperature != 0.3 || cfg.Thinking != "medium" {
		t.Fatalf("unexpected generation settings %v %q", cfg.Temperature, cfg.Thinking)
	}
}

func TestConfigValidate(t *testing.T) {
	base := Config{
		Vocabulary:      DefaultVocabulary(),
		Provider:        "openai",
		Model:           "m",
		MaxAttempts:     3,
		Storage:         StorageFS,
		LoadConcurrency: 1,
	}
	if err := base.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}

	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"unknown provider", func(c *Config) { c.Provider = "other" }},
		{"no model", func(c *Config) { c.Model = "" }},
		{"zero attempts", func(c *Config) { c.MaxAttempts = 0 }},
		{"unknown storage", func(c *Config) { c.Storage = "tape" }},
		{"temperature too high", func(c *Config) { c.Temperature = 2.5 }},
		{"unknown thinking level", func(c *Config) { c.Thinking = "max" }},
		{"s3 without bucket", func(c *Config) { c.Storage = StorageS3 }},
		{"postgres without url", func(c *Config) { c.Storage = StoragePostgres }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := base
			tt.mutate(&c)
			if err := c.Validate(); err == nil {
				t.Fatal("expected an error")
			}
		})
	}
}
