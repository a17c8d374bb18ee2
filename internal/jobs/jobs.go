// Package jobs runs queued pipeline work in the background: a polling worker
// for train and summarize jobs and a cron scheduler that enqueues rebuilds.
package jobs

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/revsent/internal/storage"
)

// Job types.
const (
	TypeTrain     = "train"
	TypeSummarize = "summarize"
)

// Types lists every job type the worker knows.
var Types = []string{TypeTrain, TypeSummarize}

// Payload is the JSON body of a job. Empty fields fall back to configuration.
type Payload struct {
	DataPath  string `json:"data_path,omitempty"`
	ModelPath string `json:"model_path,omitempty"`
	ModelKey  string `json:"model_key,omitempty"`
	Publish   bool   `json:"publish,omitempty"`
}

// Enqueuer adds jobs to the queue.
type Enqueuer interface {
	EnqueueJob(job storage.Job) error
}

// ValidType reports whether typ is a known job type.
func ValidType(typ string) bool {
	for _, t := range Types {
		if t == typ {
			return true
		}
	}
	return false
}

// Enqueue queues a job of the given type to run at runAfter (zero means now)
// and returns its id.
func Enqueue(q Enqueuer, typ string, p Payload, runAfter time.Time) (string, error) {
	if !ValidType(typ) {
		return "", fmt.Errorf("unknown job type %q", typ)
	}
	body, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("encoding payload: %w", err)
	}
	id := uuid.New().String()
	if err := q.EnqueueJob(storage.Job{ID: id, Type: typ, PayloadJSON: string(body), RunAfter: runAfter}); err != nil {
		return "", err
	}
	return id, nil
}
