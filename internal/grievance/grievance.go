// Package grievance models the primary domain record threaded through
// every stage and the single idempotent UPDATE that the QueryAnalyst
// stage uses to persist its analysis.
package grievance

import "github.com/pgvector/pgvector-go"

// Category is the classifier's category/sub-category verdict.
type Category struct {
	MainCategory string `json:"main_category"`
	SubCategory  string `json:"sub_category,omitempty"`
}

// Location is the extracted-location output of step 4.3.2.
type Location struct {
	Address    string   `json:"address,omitempty"`
	Latitude   *float64 `json:"latitude,omitempty"`
	Longitude  *float64 `json:"longitude,omitempty"`
	Landmarks  []string `json:"landmarks,omitempty"`
	AreaType   string   `json:"area_type,omitempty"`
	Confidence string   `json:"confidence"` // high | medium | low | none
}

// Validation is the image-validation verdict of step 4.3.1.
type Validation struct {
	IsValid    bool    `json:"is_valid"`
	Score      float64 `json:"score,omitempty"`
	Reasoning  string  `json:"reasoning,omitempty"`
	Confidence float64 `json:"confidence,omitempty"`
}

// Analysis is the complete output of the QueryAnalyst pipeline, mapped
// onto the grievance row's columns plus the full-result audit blob.
type Analysis struct {
	EnhancedQuery       string
	Category            Category
	QueryType           string
	SimilarCasesSummary string
	SentimentPriority   map[string]any
	Emotion             map[string]any
	Patterns            map[string]any
	Fraud               map[string]any
	DepartmentInfo      map[string]any
	PolicySearch        []string
	PastQueriesSummary  string
	DepartmentID        string
	Priority            string
	Zone                string
	Ward                string
	Validation          Validation
	Location            Location
	Embedding           pgvector.Vector
	ProcessingMetadata  map[string]any
	FullResult          map[string]any
}

// Record is the minimal row shape the QueryAnalyst stage reads at intake.
type Record struct {
	RowID         string
	GrievanceID   string
	GrievanceText string
	ImagePath     string
	CitizenID     string
}
