package models

import (
	"time"

	"github.com/google/uuid"
)

// RunSummary describes one ingestion run of one category.
type RunSummary struct {
	ID            uuid.UUID
	Category      string
	StartedAt     time.Time
	FinishedAt    time.Time
	TotalCount    int
	Pages         int
	PagesFailed   int
	RowsMalformed int
	UpsertResult
}

// NewRunSummary starts a summary for category with a fresh run id.
func NewRunSummary(category string, startedAt time.Time) *RunSummary {
	return &RunSummary{
		ID:        uuid.New(),
		Category:  category,
		StartedAt: startedAt,
	}
}

// MarketReport holds the computed statistics over a set of price points.
type MarketReport struct {
	Category      string
	Item          string
	MinPrice      int
	Count         int
	MeanAsk       float64
	MedianAsk     float64
	LowestAsk     int
	HighestAsk    int
	MeanLifespan  time.Duration
	Histogram     []HistogramBin
	LongestListed *PricePoint
}

// HistogramBin counts asks in [Low, High).
type HistogramBin struct {
	Low   int
	High  int
	Count int
}
