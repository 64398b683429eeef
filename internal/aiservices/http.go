package aiservices

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/civicpipeline/grievance-pipeline/internal/breaker"
	"github.com/civicpipeline/grievance-pipeline/internal/config"
)

// HTTPTextAnalyzer calls a generic text-analysis HTTP endpoint, wrapped in
// a circuit breaker so a failing provider degrades the whole pipeline's
// request rate instead of piling up timeouts behind it.
type HTTPTextAnalyzer struct {
	client  *http.Client
	baseURL string
	apiKey  string
	cb      *breaker.CircuitBreaker
}

func NewHTTPTextAnalyzer(cfg *config.Config, baseURL string) *HTTPTextAnalyzer {
	return &HTTPTextAnalyzer{
		client:  &http.Client{Timeout: cfg.Services.LLMCallTimeout},
		baseURL: baseURL,
		apiKey:  cfg.Services.TextAnalyzerAPIKey,
		cb:      breaker.New("text_analyzer", time.Minute, 30*time.Second, 0.5, 5),
	}
}

func (a *HTTPTextAnalyzer) Analyze(ctx context.Context, task string, input map[string]any) (AnalysisResult, error) {
	if !a.cb.Allow() {
		return AnalysisResult{}, fmt.Errorf("text analyzer circuit open for task %s", task)
	}
	body, err := json.Marshal(map[string]any{"task": task, "input": input})
	if err != nil {
		return AnalysisResult{}, fmt.Errorf("marshal analyzer request: %w", err)
	}
	raw, err := a.post(ctx, "/analyze", body)
	a.cb.Record(err == nil)
	if err != nil {
		return AnalysisResult{}, err
	}

	result := AnalysisResult{Raw: string(raw)}
	if err := json.Unmarshal(raw, &result.Structured); err != nil {
		// Best-effort parse: non-JSON output is still a valid result,
		// degraded to the raw-text fallback the classifiers tolerate.
		result.Structured = nil
	}
	return result, nil
}

func (a *HTTPTextAnalyzer) post(ctx context.Context, path string, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+a.apiKey)

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("analyzer request: %w", err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read analyzer response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("analyzer returned %d: %s", resp.StatusCode, data)
	}
	return data, nil
}

// HTTPEmbedder calls an embedding HTTP endpoint and returns a fixed
// dimension vector.
type HTTPEmbedder struct {
	client  *http.Client
	baseURL string
	apiKey  string
	model   string
	dim     int
	cb      *breaker.CircuitBreaker
}

func NewHTTPEmbedder(cfg *config.Config, baseURL string) *HTTPEmbedder {
	return &HTTPEmbedder{
		client:  &http.Client{Timeout: cfg.Services.HTTPReadTimeout},
		baseURL: baseURL,
		apiKey:  cfg.Services.EmbedderAPIKey,
		model:   cfg.Services.EmbeddingModel,
		dim:     cfg.VectorIndex.VectorDim,
		cb:      breaker.New("embedder", time.Minute, 30*time.Second, 0.5, 5),
	}
}

func (e *HTTPEmbedder) Dimension() int { return e.dim }

func (e *HTTPEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if !e.cb.Allow() {
		return nil, fmt.Errorf("embedder circuit open")
	}
	body, err := json.Marshal(map[string]any{"model": e.model, "input": text})
	if err != nil {
		return nil, fmt.Errorf("marshal embed request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/embed", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build embed request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+e.apiKey)

	resp, err := e.client.Do(req)
	e.cb.Record(err == nil)
	if err != nil {
		return nil, fmt.Errorf("embed request: %w", err)
	}
	defer resp.Body.Close()

	var parsed struct {
		Embedding []float32 `json:"embedding"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode embed response: %w", err)
	}
	return parsed.Embedding, nil
}

// HTTPWebSearch calls an external search endpoint.
type HTTPWebSearch struct {
	client  *http.Client
	baseURL string
	apiKey  string
}

func NewHTTPWebSearch(cfg *config.Config, baseURL string) *HTTPWebSearch {
	return &HTTPWebSearch{
		client:  &http.Client{Timeout: cfg.Services.HTTPReadTimeout},
		baseURL: baseURL,
		apiKey:  cfg.Services.WebSearchAPIKey,
	}
}

func (w *HTTPWebSearch) Search(ctx context.Context, queries []string) ([]SearchHit, error) {
	body, err := json.Marshal(map[string]any{"queries": queries})
	if err != nil {
		return nil, fmt.Errorf("marshal search request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.baseURL+"/search", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build search request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+w.apiKey)

	resp, err := w.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search request: %w", err)
	}
	defer resp.Body.Close()

	var hits []SearchHit
	if err := json.NewDecoder(resp.Body).Decode(&hits); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}
	return hits, nil
}

// HTTPVisionAnalyzer calls an external vision endpoint for image
// validation, location extraction, and description.
type HTTPVisionAnalyzer struct {
	client  *http.Client
	baseURL string
	apiKey  string
}

func NewHTTPVisionAnalyzer(cfg *config.Config, baseURL string) *HTTPVisionAnalyzer {
	return &HTTPVisionAnalyzer{
		client:  &http.Client{Timeout: cfg.Services.HTTPReadTimeout},
		baseURL: baseURL,
		apiKey:  cfg.Services.VisionAPIKey,
	}
}

func (v *HTTPVisionAnalyzer) call(ctx context.Context, path string, body any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal vision request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build vision request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+v.apiKey)

	resp, err := v.client.Do(req)
	if err != nil {
		return fmt.Errorf("vision request: %w", err)
	}
	defer resp.Body.Close()
	return json.NewDecoder(resp.Body).Decode(out)
}

func (v *HTTPVisionAnalyzer) ValidateImage(ctx context.Context, imagePath, complaintText string) (ImageValidation, error) {
	var out ImageValidation
	err := v.call(ctx, "/validate", map[string]string{"image_path": imagePath, "complaint_text": complaintText}, &out)
	return out, err
}

func (v *HTTPVisionAnalyzer) ExtractLocation(ctx context.Context, imagePath string) (ImageLocation, error) {
	var out ImageLocation
	err := v.call(ctx, "/location", map[string]string{"image_path": imagePath}, &out)
	return out, err
}

func (v *HTTPVisionAnalyzer) DescribeImage(ctx context.Context, imagePath string) (ImageDescription, error) {
	var out ImageDescription
	err := v.call(ctx, "/describe", map[string]string{"image_path": imagePath}, &out)
	return out, err
}
