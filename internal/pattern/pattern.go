// Package pattern implements the research pattern cache (section 4.6):
// cosine-similarity dedup of expensive external research keyed by
// embedding neighborhood, grounded on pgvector's cosine-distance operator.
package pattern

import (
	"fmt"
	"strings"
	"time"

	"github.com/pgvector/pgvector-go"
)

// Pattern is a cached research artifact.
type Pattern struct {
	ID              string
	Name            string
	Description     string
	Embedding       pgvector.Vector
	ResearchReport  map[string]any
	ResearchSources []string
	Keywords        []string
	GrievanceCount  int
	CreatedAt       time.Time
}

// Match is a nearest-neighbor lookup result.
type Match struct {
	Pattern    Pattern
	Similarity float64
}

// Stats summarizes pattern-cache effectiveness.
type Stats struct {
	TotalPatterns    int
	TotalGrievances  int
	AverageHitRate   float64
}

// GenerateName derives a deterministic pattern name from category and
// location, the same convention the Research stage uses when a cache miss
// forces creation of a new pattern row.
func GenerateName(category, location string) string {
	category = strings.TrimSpace(category)
	location = strings.TrimSpace(location)
	switch {
	case category == "" && location == "":
		return fmt.Sprintf("pattern-%d", time.Now().UnixNano())
	case location == "":
		return category
	case category == "":
		return location
	default:
		return fmt.Sprintf("%s in %s", category, location)
	}
}
