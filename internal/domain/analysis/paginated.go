package analysis

import "github.com/agroia/agroia-backend/internal/domain/timestamp"

// Pagination describes where a page sits within the filtered result set.
type Pagination struct {
	Page       int `json:"page"`
	Limit      int `json:"limit"`
	Total      int `json:"total"`
	TotalPages int `json:"totalPages"`
}

// Page is one ordered slice of an owner's history.
type Page struct {
	Items      []*Record  `json:"history"`
	Pagination Pagination `json:"pagination"`
}

// UserStats summarizes all analyses of one owner.
type UserStats struct {
	OwnerID           string            `json:"userId"`
	TotalAnalyses     int               `json:"totalAnalyses"`
	PestDetections    int               `json:"pestDetections"`
	MostCommonPest    *string           `json:"mostCommonPest"`
	AverageConfidence float64           `json:"averageConfidence"`
	RecentAnalyses    int               `json:"recentAnalyses"`
	PestTypesCount    CategoryCounts    `json:"pestTypesCount"`
	LastAnalysisAt    timestamp.Instant `json:"lastAnalysisAt"`
}
