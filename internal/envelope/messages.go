package envelope

import "time"

// GrievanceMessage is the grievances-queue input consumed by the
// QueryAnalyst stage. CurrentStatus is normally absent (intake never
// stamps one); if a producer sets it, it must name the pending stage.
type GrievanceMessage struct {
	GrievanceID   string `json:"grievance_id"`
	CitizenID     string `json:"citizen_id,omitempty"`
	GrievanceText string `json:"grievance_text"`
	ImagePath     string `json:"image_path,omitempty"`
	CurrentStatus Status `json:"current_status,omitempty"`
}

// CrawlMessage is the webcrawler-queue input consumed by the Crawler stage.
type CrawlMessage struct {
	JobID                string         `json:"job_id"`
	GrievanceID          string         `json:"grievance_id,omitempty"`
	URL                  string         `json:"url"`
	Metadata             map[string]any `json:"metadata,omitempty"`
	CurrentStatus        Status         `json:"current_status"`
	PolicySearchQueries  []string       `json:"policy_search_queries,omitempty"`
	ValidationResult     map[string]any `json:"validation_result,omitempty"`
	LocationData         map[string]any `json:"location_data,omitempty"`
	FileURLs             []string       `json:"file_urls,omitempty"`
	AnalysisCompletedAt  *time.Time     `json:"analysis_completed_at,omitempty"`
	Error                string         `json:"error,omitempty"`
}

// EmbeddingsMessage is the embeddings-queue input consumed by the VectorDB
// (embeddings) stage.
type EmbeddingsMessage struct {
	JobID      string `json:"job_id"`
	URL        string `json:"url"`
	BlobFolder string `json:"blob_folder"`
	Status     Status `json:"status"`
	Error      string `json:"error,omitempty"`
}

// KnowledgeBaseMessage is the knowledgebase-queue input consumed by the KB
// ingestion stage.
type KnowledgeBaseMessage struct {
	ID           string `json:"id"`
	Type         string `json:"type"`
	URL          string `json:"url"`
	FileName     string `json:"fileName"`
	DepartmentID string `json:"departmentId"`
}

// ProcessedMessage carries a lightweight downstream notification with no
// implied stage ownership; consumers read only the fields they recognize.
type ProcessedMessage struct {
	JobID       string         `json:"job_id"`
	GrievanceID string         `json:"grievance_id,omitempty"`
	Status      Status         `json:"current_status"`
	Summary     map[string]any `json:"summary,omitempty"`
}
