package models

import (
	"strings"
	"time"
)

// RunRequest is what a caller asks the orchestrator to collect.
type RunRequest struct {
	TargetCount  int
	SentinelUser string
	ProxyRegion  string
	Concurrency  int
}

// CollectionRun is an accepted, in-flight collection.
type CollectionRun struct {
	ID           string    `json:"id"`
	TargetCount  int       `json:"target_count"`
	Concurrency  int       `json:"concurrency"`
	ProxyRegion  string    `json:"proxy_region"`
	SentinelUser string    `json:"sentinel_user"`
	StartTime    time.Time `json:"start_time"`

	// Key is where the result set will be stored.
	Key string `json:"key"`
}

// RunOutcome summarises a finished run.
type RunOutcome struct {
	Run             CollectionRun `json:"run"`
	Launched        int           `json:"launched"`
	PerWorkerTarget float64       `json:"per_worker_target"`
	Captured        int           `json:"captured"`
	Unique          int           `json:"unique"`
	WorkerFailures  int           `json:"worker_failures"`
	Elapsed         time.Duration `json:"elapsed"`
	Saved           bool          `json:"saved"`
	SaveError       string        `json:"save_error,omitempty"`
}

// WorkerSpec is everything a single capture worker needs.
type WorkerSpec struct {
	Index        int
	Target       float64
	SentinelUser string
	Proxy        ProxyAssignment
}

// ResultSet is a deduplicated collection ready for storage.
type ResultSet struct {
	Key   string
	Items []VideoItem
}

var keyReplacer = strings.NewReplacer(":", "-", ".", "-")

// ResultKey derives the storage key for a run started at t, e.g.
// "florin_2024-05-01T10-20-30-123Z.json".
func ResultKey(sentinelUser string, t time.Time) string {
	stamp := keyReplacer.Replace(t.UTC().Format("2006-01-02T15:04:05.000Z07:00"))
	return sentinelUser + "_" + stamp + ".json"
}
