// Package recorder persists a log of tool invocations for offline analysis.
package recorder

import "time"

// Invocation is one recorded tool call.
type Invocation struct {
	Time       time.Time
	CallerID   string
	Tool       string
	Asset      string
	Status     string
	ArtifactID string
	Duration   time.Duration
}

// Recorder stores invocations. Implementations must be safe for concurrent
// use; recording failures are logged by the implementation and never surface
// to the caller of the tool.
type Recorder interface {
	Record(inv Invocation)
	Close() error
}
