// Package history records the outcome of every batch.
package history

import (
	"time"
)

type Failure struct {
	ItemTitle string `json:"item_title"`
	Error     string `json:"error"`
}

// A Batch is the persistent record of one batch run.
type Batch struct {
	ID             string    `json:"id"`
	StartedAt      time.Time `json:"started_at"`
	FinishedAt     time.Time `json:"finished_at"`
	Format         string    `json:"format"`
	TotalRequested int       `json:"total_requested"`
	SucceededPaths []string  `json:"succeeded_paths"`
	Failures       []Failure `json:"failures"`
	OutputPath     string    `json:"output_path,omitempty"`
	Archived       bool      `json:"archived"`
	// Error is the batch-level error, if the batch failed as a whole.
	Error string `json:"error,omitempty"`
}

// Succeeded is true if the batch produced an output.
func (b *Batch) Succeeded() bool {
	return b.Error == "" && b.OutputPath != ""
}

type Store interface {
	// ListBatches returns every recorded batch, oldest first.
	ListBatches() ([]Batch, error)
	WriteBatch(batch *Batch) error
	DeleteBatch(id string) error
}

// NilStore records nothing.
type NilStore struct{}

func (NilStore) ListBatches() ([]Batch, error) {
	return nil, nil
}

func (NilStore) WriteBatch(*Batch) error {
	return nil
}

func (NilStore) DeleteBatch(string) error {
	return nil
}
