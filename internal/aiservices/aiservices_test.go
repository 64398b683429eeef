package aiservices

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/civicpipeline/grievance-pipeline/internal/config"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Load("nonexistent.yaml")
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	return cfg
}

func TestHTTPTextAnalyzerAnalyzeRoundTrip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer test-key" {
			t.Errorf("missing bearer auth header")
		}
		json.NewEncoder(w).Encode(map[string]any{"category": "pothole"})
	}))
	defer srv.Close()

	cfg := testConfig(t)
	cfg.Services.TextAnalyzerAPIKey = "test-key"
	analyzer := NewHTTPTextAnalyzer(cfg, srv.URL)

	result, err := analyzer.Analyze(context.Background(), "classify", map[string]any{"text": "broken road"})
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if result.Structured["category"] != "pothole" {
		t.Fatalf("expected structured category, got %v", result.Structured)
	}
}

func TestHTTPTextAnalyzerToleratesNonJSONBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not json"))
	}))
	defer srv.Close()

	cfg := testConfig(t)
	analyzer := NewHTTPTextAnalyzer(cfg, srv.URL)

	result, err := analyzer.Analyze(context.Background(), "classify", nil)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if result.Raw != "not json" {
		t.Fatalf("expected raw fallback, got %q", result.Raw)
	}
	if result.Structured != nil {
		t.Fatalf("expected nil structured parse, got %v", result.Structured)
	}
}

func TestHTTPTextAnalyzerPropagatesServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("boom"))
	}))
	defer srv.Close()

	cfg := testConfig(t)
	analyzer := NewHTTPTextAnalyzer(cfg, srv.URL)

	if _, err := analyzer.Analyze(context.Background(), "classify", nil); err == nil {
		t.Fatal("expected error on 500 response")
	}
}

func TestHTTPEmbedderReturnsVector(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"embedding": []float32{0.1, 0.2, 0.3}})
	}))
	defer srv.Close()

	cfg := testConfig(t)
	embedder := NewHTTPEmbedder(cfg, srv.URL)
	if embedder.Dimension() != cfg.VectorIndex.VectorDim {
		t.Fatalf("expected dimension %d, got %d", cfg.VectorIndex.VectorDim, embedder.Dimension())
	}

	vec, err := embedder.Embed(context.Background(), "broken streetlight")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vec) != 3 {
		t.Fatalf("expected 3-dim vector, got %d", len(vec))
	}
}

func TestCleanTextDropsShortLowAlphaAndDuplicateLines(t *testing.T) {
	raw := "This is a long enough line of real text\n" +
		"hi\n" +
		"12345 6789 00000 111111\n" +
		"This is a long enough line of real text\n" +
		"Another substantial line of content here"

	got := cleanText(raw)
	lines := strings.Split(got, "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 surviving lines, got %d: %v", len(lines), lines)
	}
	if lines[0] != "This is a long enough line of real text" {
		t.Fatalf("unexpected first line: %q", lines[0])
	}
}

func TestExtractPlainTextFindsPrintableRuns(t *testing.T) {
	data := append([]byte{0x00, 0x01}, []byte("hello world this is pdf junk")...)
	data = append(data, 0x00, 0x02)

	text, err := extractPlainText(data)
	if err != nil {
		t.Fatalf("extractPlainText: %v", err)
	}
	if !strings.Contains(text, "hello world this is pdf junk") {
		t.Fatalf("expected extracted text to contain the run, got %q", text)
	}
}

func TestExtractPlainTextErrorsWithNoPrintableContent(t *testing.T) {
	if _, err := extractPlainText([]byte{0x00, 0x01, 0x02}); err == nil {
		t.Fatal("expected error for data with no printable runs")
	}
}

