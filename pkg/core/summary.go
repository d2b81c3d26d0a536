package core

import "time"

// RunSummary aggregates the outcome of one scheduler run.
type RunSummary struct {
	Trigger   string        `json:"trigger"`
	Processed int           `json:"processed"`
	Succeeded int           `json:"succeeded"`
	Failed    int           `json:"failed"`
	Abandoned int           `json:"abandoned"`
	Skipped   int           `json:"skipped"`
	Duration  time.Duration `json:"duration_ms"`
}
