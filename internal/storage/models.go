package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// ErrChecksum is returned when a stored artifact no longer matches its digest.
var ErrChecksum = errors.New("artifact checksum mismatch")

// Run kinds.
const (
	RunTrain     = "train"
	RunSummarize = "summarize"
)

// Run statuses.
const (
	RunCompleted = "completed"
	RunFailed    = "failed"
)

// Run is one train or summarize pass over a review file.
type Run struct {
	ID               string    `json:"id"`
	Kind             string    `json:"kind"`
	CreatedAt        time.Time `json:"created_at"`
	Source           string    `json:"source"`
	LinesScanned     int       `json:"lines_scanned"`
	RowsAccepted     int       `json:"rows_accepted"`
	ParseErrors      int       `json:"parse_errors"`
	ValidationErrors int       `json:"validation_errors"`
	ArtifactKey      string    `json:"artifact_key,omitempty"`
	ReportJSON       string    `json:"report_json,omitempty"`
	Status           string    `json:"status"`
	Error            string    `json:"error,omitempty"`
}

// ArtifactInfo describes a stored model blob without its payload.
type ArtifactInfo struct {
	Key       string    `json:"key"`
	SHA256    string    `json:"sha256"`
	Size      int       `json:"size"`
	RunID     string    `json:"run_id,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Job struct {
	ID          string
	Type        string
	PayloadJSON string
	Status      string // "pending", "running", "completed", "failed"
	Attempts    int
	MaxAttempts int
	RunAfter    time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
	LastError   string
}
