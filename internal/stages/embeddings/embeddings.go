// Package embeddings implements the VectorDB worker (section 4.5): list a
// blob folder's text artifacts, chunk each file, embed every chunk, and
// upsert the result into the vector index under a deterministic id.
package embeddings

import (
	"context"
	"fmt"
	"strings"

	"github.com/civicpipeline/grievance-pipeline/internal/aiservices"
	"github.com/civicpipeline/grievance-pipeline/internal/blob"
	"github.com/civicpipeline/grievance-pipeline/internal/config"
	"github.com/civicpipeline/grievance-pipeline/internal/envelope"
	"github.com/civicpipeline/grievance-pipeline/internal/obs"
	"github.com/civicpipeline/grievance-pipeline/internal/queue"
	"github.com/civicpipeline/grievance-pipeline/internal/vectorindex"
	"go.uber.org/zap"
)

// Handler embeds every text artifact under one blob folder and upserts the
// resulting chunks into the vector index.
type Handler struct {
	cfg      *config.Config
	blobs    blob.Store
	embedder aiservices.Embedder
	index    vectorindex.Index
	log      *zap.Logger
}

func New(cfg *config.Config, blobs blob.Store, embedder aiservices.Embedder, index vectorindex.Index, log *zap.Logger) *Handler {
	return &Handler{cfg: cfg, blobs: blobs, embedder: embedder, index: index, log: log}
}

// Handle implements queue.Handler for the embeddings queue.
func (h *Handler) Handle(ctx context.Context, wire string) queue.Result {
	var msg envelope.EmbeddingsMessage
	if err := envelope.Decode(wire, &msg); err != nil {
		return queue.Quarantine(err.Error())
	}
	if msg.Status != "" && msg.Status != envelope.StatusScraped {
		return queue.Ok()
	}
	if msg.JobID == "" || msg.BlobFolder == "" {
		return queue.Quarantine("missing job_id or blob_folder")
	}

	files, err := h.listFolder(ctx, msg.BlobFolder)
	if err != nil {
		return queue.Failed(fmt.Errorf("list blob folder %s: %w", msg.BlobFolder, err))
	}
	if len(files) == 0 {
		// An empty folder is not an error (section 4.5): a prior crawl or
		// extraction step may legitimately have produced nothing.
		return queue.Ok()
	}

	var points []vectorindex.Point
	for _, path := range files {
		data, err := h.blobs.Get(ctx, path)
		if err != nil {
			h.log.Warn("download blob artifact failed", obs.String("path", path), obs.Err(err))
			continue
		}
		fileName := fileNameOf(path)
		chunks := chunkText(string(data), h.cfg.Embeddings.ChunkSize, h.cfg.Embeddings.ChunkOverlap)
		for i, chunk := range chunks {
			vec, err := h.embedder.Embed(ctx, chunk)
			if err != nil {
				h.log.Warn("embed chunk failed", obs.String("path", path), obs.Err(err))
				continue
			}
			prefix := chunk
			if len(prefix) > 200 {
				prefix = prefix[:200]
			}
			points = append(points, vectorindex.Point{
				ID:     fmt.Sprintf("%s_%s_%d", msg.JobID, blob.SanitizePathSegment(fileName), i),
				Vector: vec,
				Payload: map[string]any{
					"job_id":      msg.JobID,
					"url":         msg.URL,
					"blob_folder": msg.BlobFolder,
					"file_name":   fileName,
					"chunk_index": i,
					"total_chunks": len(chunks),
					"text_prefix": prefix,
				},
			})
		}
	}

	if len(points) == 0 {
		return queue.Ok()
	}
	if err := h.index.Upsert(ctx, points); err != nil {
		return queue.Failed(fmt.Errorf("upsert %d points: %w", len(points), err))
	}
	obs.VectorUpserts.Add(float64(len(points)))
	return queue.Ok()
}

// listFolder accepts either the current-convention prefix or the legacy
// one, so files crawled before the path rename are still discoverable.
func (h *Handler) listFolder(ctx context.Context, blobFolder string) ([]string, error) {
	files, err := h.blobs.List(ctx, blobFolder)
	if err != nil {
		return nil, err
	}
	if len(files) > 0 {
		return files, nil
	}
	domain := strings.TrimPrefix(blobFolder, "crawled-content/")
	legacy, err := h.blobs.List(ctx, blob.LegacyCrawledContentFolder(domain))
	if err != nil {
		return nil, err
	}
	return legacy, nil
}

func fileNameOf(path string) string {
	idx := strings.LastIndex(path, "/")
	if idx < 0 {
		return path
	}
	return path[idx+1:]
}

// chunkText splits text into size-character windows overlapping by overlap
// characters, dropping whitespace-only chunks.
func chunkText(text string, size, overlap int) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if size <= 0 {
		return []string{text}
	}
	step := size - overlap
	if step <= 0 {
		step = size
	}

	var chunks []string
	for start := 0; start < len(text); start += step {
		end := start + size
		if end > len(text) {
			end = len(text)
		}
		chunk := strings.TrimSpace(text[start:end])
		if chunk != "" {
			chunks = append(chunks, chunk)
		}
		if end == len(text) {
			break
		}
	}
	return chunks
}
