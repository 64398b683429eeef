package config

import "testing"

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("nonexistent.yaml")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Pattern.SimilarityThreshold != 0.85 {
		t.Fatalf("expected default similarity threshold 0.85, got %v", cfg.Pattern.SimilarityThreshold)
	}
	if cfg.Embeddings.ChunkSize != 1000 || cfg.Embeddings.ChunkOverlap != 200 {
		t.Fatalf("unexpected chunk defaults: %+v", cfg.Embeddings)
	}
	if cfg.Postgres.DSN == "" {
		t.Fatalf("expected a default postgres dsn")
	}
}

func TestValidateFails(t *testing.T) {
	cfg := defaultConfig()
	cfg.Postgres.DSN = ""
	if err := Validate(cfg); err == nil {
		t.Fatalf("expected error for missing postgres dsn")
	}

	cfg = defaultConfig()
	cfg.Pattern.SimilarityThreshold = 1.5
	if err := Validate(cfg); err == nil {
		t.Fatalf("expected error for out-of-range similarity threshold")
	}

	cfg = defaultConfig()
	cfg.Embeddings.ChunkOverlap = cfg.Embeddings.ChunkSize
	if err := Validate(cfg); err == nil {
		t.Fatalf("expected error for overlap >= chunk size")
	}
}

func TestValidateServiceKeysFailsFast(t *testing.T) {
	cfg := defaultConfig()
	if err := ValidateServiceKeys(cfg); err == nil {
		t.Fatalf("expected error for missing service credentials")
	}
	cfg.Services.TextAnalyzerAPIKey = "k1"
	cfg.Services.EmbedderAPIKey = "k2"
	if err := ValidateServiceKeys(cfg); err != nil {
		t.Fatalf("expected success once credentials are set: %v", err)
	}
}
