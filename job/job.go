// Package job implements the short-lived job store backing the two-phase
// streaming handoff: a submission endpoint creates a job record, and the
// streaming endpoint claims it by ID.
package job

import (
	"fmt"
	"time"
)

// Status represents the lifecycle state of a job.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Input is the user-supplied feature request a job carries.
type Input struct {
	// PageOrComponent names the part of the product the feature targets.
	PageOrComponent string `json:"pageOrComponent"`

	// FeatureType categorizes the request (e.g. "enhancement", "new-feature").
	FeatureType string `json:"featureType"`

	// PriorityLevel is the requested priority.
	PriorityLevel string `json:"priorityLevel"`

	// AdditionalContext is free-form context from the user.
	AdditionalContext string `json:"additionalContext,omitempty"`

	// CustomModel optionally overrides the default model for this job.
	CustomModel string `json:"customModel,omitempty"`
}

// Validate checks that the required input fields are present.
func (i Input) Validate() error {
	if i.PageOrComponent == "" {
		return fmt.Errorf("pageOrComponent is required")
	}
	if i.FeatureType == "" {
		return fmt.Errorf("featureType is required")
	}
	if i.PriorityLevel == "" {
		return fmt.Errorf("priorityLevel is required")
	}
	return nil
}

// Metadata is the stored job record.
type Metadata struct {
	JobID     string    `json:"jobId"`
	UserID    string    `json:"userId"`
	Status    Status    `json:"status"`
	Input     Input     `json:"input"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"createdAt"`

	// ExpiresAt is when the record stops being visible. Reads treat a record
	// past this instant as absent; the bucket-level TTL reclaims it later.
	ExpiresAt time.Time `json:"expiresAt"`
}

// Expired reports whether the record is past its expiry at the given instant.
func (m *Metadata) Expired(now time.Time) bool {
	return !m.ExpiresAt.IsZero() && now.After(m.ExpiresAt)
}
