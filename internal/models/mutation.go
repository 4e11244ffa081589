// Package models provides data model definitions for the finboard sync core.
package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// UUID is a wrapper around string for UUID v4 type safety.
type UUID string

// Value implements driver.Valuer for UUID.
func (u UUID) Value() (driver.Value, error) {
	return string(u), nil
}

// Scan implements sql.Scanner for UUID.
func (u *UUID) Scan(value interface{}) error {
	switch v := value.(type) {
	case nil:
		*u = ""
	case string:
		*u = UUID(v)
	case []byte:
		*u = UUID(v)
	default:
		return fmt.Errorf("cannot scan %T into UUID", value)
	}
	return nil
}

// String returns the string representation of the UUID.
func (u UUID) String() string {
	return string(u)
}

// MutationStatus represents the lifecycle state of a queued mutation.
type MutationStatus string

const (
	StatusPending MutationStatus = "pending"
	StatusSyncing MutationStatus = "syncing"
	StatusSynced  MutationStatus = "synced"
	StatusFailed  MutationStatus = "failed"
)

// MutationKind tags a mutation with its resource and operation. The set of
// kinds is open and supplied by configuration; the core never interprets the
// tag beyond equality.
type MutationKind string

// QueuedMutation represents a write intent recorded while offline, awaiting
// replay against the dashboard API.
type QueuedMutation struct {
	ID         UUID            `db:"id" json:"id"`
	Kind       MutationKind    `db:"kind" json:"kind"`
	TargetURL  string          `db:"target_url" json:"target_url"`
	HTTPMethod string          `db:"http_method" json:"http_method"` // POST, PATCH, PUT, DELETE
	Payload    json.RawMessage `db:"payload" json:"payload"`
	Status     MutationStatus  `db:"status" json:"status"`
	Retries    int             `db:"retries" json:"retries"`
	LastError  string          `db:"last_error" json:"last_error,omitempty"`
	CreatedAt  int64           `db:"created_at" json:"created_at"` // epoch millis
}

// TableName returns the table name for QueuedMutation.
func (QueuedMutation) TableName() string {
	return "mutation_queue"
}

// CreatedAtTime returns the CreatedAt as time.Time.
func (m *QueuedMutation) CreatedAtTime() time.Time {
	return time.UnixMilli(m.CreatedAt)
}

// PayloadMap decodes the payload into a generic map. Returns an empty map
// when the payload is absent.
func (m *QueuedMutation) PayloadMap() (map[string]interface{}, error) {
	if len(m.Payload) == 0 {
		return map[string]interface{}{}, nil
	}
	var out map[string]interface{}
	if err := json.Unmarshal(m.Payload, &out); err != nil {
		return nil, fmt.Errorf("failed to unmarshal payload: %w", err)
	}
	return out, nil
}
