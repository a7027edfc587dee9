package queue

import (
	"fmt"
	"strings"
	"time"
)

// JobType identifies the background work a job performs.
type JobType string

const (
	TypeCacheOptimization JobType = "cache_optimization"
	TypeQualityVariant    JobType = "quality_variant_generation"
	TypeVideoPreloading   JobType = "video_preloading"
)

// KnownTypes lists every job type the queue accepts.
func KnownTypes() []JobType {
	return []JobType{TypeCacheOptimization, TypeQualityVariant, TypeVideoPreloading}
}

// ParseType validates a job type string.
func ParseType(value string) (JobType, error) {
	candidate := JobType(strings.ToLower(strings.TrimSpace(value)))
	for _, known := range KnownTypes() {
		if candidate == known {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("unknown job type %q", value)
}

// Priority orders jobs within the queue: low < normal < high.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
)

// Rank returns the numeric ordering value stored in the database.
func (p Priority) Rank() int {
	switch p {
	case PriorityHigh:
		return 2
	case PriorityNormal:
		return 1
	default:
		return 0
	}
}

func priorityFromRank(rank int) Priority {
	switch rank {
	case 2:
		return PriorityHigh
	case 1:
		return PriorityNormal
	default:
		return PriorityLow
	}
}

// ParsePriority validates a priority string, defaulting empty to normal.
func ParsePriority(value string) (Priority, error) {
	switch Priority(strings.ToLower(strings.TrimSpace(value))) {
	case "":
		return PriorityNormal, nil
	case PriorityLow:
		return PriorityLow, nil
	case PriorityNormal:
		return PriorityNormal, nil
	case PriorityHigh:
		return PriorityHigh, nil
	default:
		return "", fmt.Errorf("unknown priority %q", value)
	}
}

// Status is the lifecycle state of a job.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Job is one persisted queue entry.
type Job struct {
	ID           string
	Type         JobType
	Priority     Priority
	Payload      string
	Status       Status
	Attempts     int
	MaxAttempts  int
	NextRunAt    time.Time
	ErrorMessage string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Stats summarizes queue depth by lifecycle state.
type Stats struct {
	Pending    int
	Processing int
	Completed  int
	Failed     int
}
