package job

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go/jetstream"
)

// Bucket is the KV bucket holding job records.
const Bucket = "PLANNER_JOBS"

// Store provides job record storage backed by NATS KV.
//
// Expiry is two-layered: each record carries its own ExpiresAt, which reads
// enforce exactly, and the bucket TTL reclaims storage for records nobody
// reads again. The bucket TTL is the failed-job TTL since that is the
// longest any record stays meaningful.
type Store struct {
	kv        jetstream.KeyValue
	ttl       time.Duration
	failedTTL time.Duration
}

// NewStore creates a job store. ttl bounds pending/in-progress visibility,
// failedTTL bounds failed-record retention for diagnostics.
func NewStore(ctx context.Context, js jetstream.JetStream, ttl, failedTTL time.Duration) (*Store, error) {
	if ttl <= 0 || failedTTL <= 0 {
		return nil, fmt.Errorf("job TTLs must be positive")
	}

	kv, err := js.KeyValue(ctx, Bucket)
	if err != nil {
		kv, err = js.CreateKeyValue(ctx, jetstream.KeyValueConfig{
			Bucket:      Bucket,
			Description: "Feature planning job records",
			TTL:         failedTTL,
		})
		if err != nil {
			return nil, fmt.Errorf("create jobs bucket: %w", err)
		}
	}

	return &Store{kv: kv, ttl: ttl, failedTTL: failedTTL}, nil
}

// Create stores a new pending job for the given user and returns its record.
func (s *Store) Create(ctx context.Context, userID string, input Input) (*Metadata, error) {
	if userID == "" {
		return nil, fmt.Errorf("userID is required")
	}
	if err := input.Validate(); err != nil {
		return nil, err
	}

	now := time.Now()
	m := &Metadata{
		JobID:     uuid.New().String(),
		UserID:    userID,
		Status:    StatusPending,
		Input:     input,
		CreatedAt: now,
		ExpiresAt: now.Add(s.ttl),
	}

	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshal job: %w", err)
	}

	if _, err := s.kv.Create(ctx, m.JobID, data); err != nil {
		return nil, fmt.Errorf("store job: %w", err)
	}

	return m, nil
}

// Get retrieves a job by ID. Expired records are reported as not found.
func (s *Store) Get(ctx context.Context, jobID string) (*Metadata, error) {
	entry, err := s.kv.Get(ctx, jobID)
	if err != nil {
		if isNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get job: %w", err)
	}

	var m Metadata
	if err := json.Unmarshal(entry.Value(), &m); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidMetadata, err)
	}
	if m.JobID == "" || m.UserID == "" {
		return nil, fmt.Errorf("%w: missing identity fields", ErrInvalidMetadata)
	}

	if m.Expired(time.Now()) {
		// Best effort cleanup ahead of the bucket TTL
		_ = s.kv.Delete(ctx, jobID)
		return nil, ErrNotFound
	}

	return &m, nil
}

// MarkInProgress transitions the job to in_progress and refreshes its expiry.
func (s *Store) MarkInProgress(ctx context.Context, m *Metadata) error {
	m.Status = StatusInProgress
	m.ExpiresAt = time.Now().Add(s.ttl)
	return s.put(ctx, m)
}

// MarkFailed records the failure reason and retains the job for diagnostics.
func (s *Store) MarkFailed(ctx context.Context, m *Metadata, errMsg string) error {
	m.Status = StatusFailed
	m.Error = errMsg
	m.ExpiresAt = time.Now().Add(s.failedTTL)
	return s.put(ctx, m)
}

// Delete removes a job record. Successful jobs are deleted rather than kept.
func (s *Store) Delete(ctx context.Context, jobID string) error {
	if err := s.kv.Delete(ctx, jobID); err != nil && !isNotFound(err) {
		return fmt.Errorf("delete job: %w", err)
	}
	return nil
}

func (s *Store) put(ctx context.Context, m *Metadata) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	if _, err := s.kv.Put(ctx, m.JobID, data); err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	return nil
}

// isNotFound checks if an error indicates a key was not found.
func isNotFound(err error) bool {
	return err != nil && strings.Contains(err.Error(), "key not found")
}
