// Package aiservices declares the opaque interfaces every external
// collaborator is accessed through: the LLM/embedding/vision/web-search
// services, the crawling engine, and the PDF-parsing fallback. The
// pipeline core never imports a concrete provider SDK; it
// depends on these interfaces and is handed a concrete implementation at
// worker startup.
package aiservices

import "context"

// TextAnalyzer runs one of the ten classifier fan-out analyses, or the
// narrative-report generation used by the Progress stage. Prompt and
// response shape are opaque to the core: callers pass a task name and a
// JSON-serializable input and get back raw text plus a best-effort parse.
type TextAnalyzer interface {
	Analyze(ctx context.Context, task string, input map[string]any) (AnalysisResult, error)
}

// AnalysisResult is the output of one TextAnalyzer call: a best-effort
// structured parse alongside the raw text, since provider output is not
// guaranteed to be well-formed JSON.
type AnalysisResult struct {
	Raw        string
	Structured map[string]any
}

// Embedder produces a fixed-dimension unit vector for a piece of text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimension() int
}

// VisionAnalyzer validates an image against a complaint, extracts
// location signals (GPS/EXIF/OCR/landmark), and describes image content.
type VisionAnalyzer interface {
	ValidateImage(ctx context.Context, imagePath, complaintText string) (ImageValidation, error)
	ExtractLocation(ctx context.Context, imagePath string) (ImageLocation, error)
	DescribeImage(ctx context.Context, imagePath string) (ImageDescription, error)
}

type ImageValidation struct {
	IsValid    bool
	Score      float64
	Reasoning  string
	Confidence float64
}

type ImageLocation struct {
	Address    string
	Latitude   *float64
	Longitude  *float64
	Landmarks  []string
	AreaType   string
	Confidence string // high | medium | low | none
}

type ImageDescription struct {
	Description string
	VisibleText string
}

// WebSearch queries an external search provider with a set of strings and
// returns raw results for downstream validation and scoring.
type WebSearch interface {
	Search(ctx context.Context, queries []string) ([]SearchHit, error)
}

type SearchHit struct {
	URL     string
	Title   string
	Snippet string
	Score   float64
}

// Page is one fetched page or document handed back by a Crawler.
type Page struct {
	URL         string
	ContentType string
	Text        string
	Links       []string
}

// Crawler fetches a single URL; the bounded-depth same-origin crawl logic
// lives in the stage handler, not here.
type Crawler interface {
	Fetch(ctx context.Context, url string) (Page, error)
}

// PDFExtractor pulls text out of a PDF document, with a caller-visible
// engine name so the two-engine fallback in section 4.4 can log which one
// produced the result.
type PDFExtractor interface {
	Extract(ctx context.Context, data []byte) (text string, engine string, err error)
}
