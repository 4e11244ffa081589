// Package queue provides the durable mutation queue backing offline writes.
//
// Queued mutations live in the mutation_queue table. The queue enforces a
// hard capacity over not-yet-confirmed records (pending, syncing, failed);
// enqueue is rejected once the limit is reached. This is the system's only
// backpressure mechanism.
package queue

import (
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/finboard/finboard/internal/errors"
	"github.com/finboard/finboard/internal/logging"
	"github.com/finboard/finboard/internal/models"
)

// DefaultMaxSize is the default capacity over non-terminal records.
const DefaultMaxSize = 100

// Stats holds point-in-time per-status counts. Synced normally reads 0
// because synced records are deleted immediately, but nothing here assumes
// that.
type Stats struct {
	Total   int `json:"total"`
	Pending int `json:"pending"`
	Syncing int `json:"syncing"`
	Synced  int `json:"synced"`
	Failed  int `json:"failed"`
}

// Store provides durable CRUD over queued mutations. Mutating operations
// assume at most one in-flight sync pass; the store itself needs no support
// for concurrent writers beyond what SQLite serializes.
type Store struct {
	db      *sql.DB
	maxSize int

	mu          sync.Mutex
	lastCreated int64 // enforces monotonic non-decreasing createdAt
	now         func() time.Time
}

// NewStore creates a Store over an already-migrated database. maxSize <= 0
// selects DefaultMaxSize.
func NewStore(db *sql.DB, maxSize int) *Store {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	return &Store{
		db:      db,
		maxSize: maxSize,
		now:     time.Now,
	}
}

// MaxSize returns the configured capacity.
func (s *Store) MaxSize() int {
	return s.maxSize
}

// Enqueue persists a draft as a pending mutation and returns its ID. Fails
// with QUEUE_FULL when the count of pending, syncing and failed records has
// reached capacity; the record is never created in that case.
func (s *Store) Enqueue(draft *models.QueuedMutation) (models.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	active, err := s.activeCount()
	if err != nil {
		return "", apperrors.Wrap(apperrors.ErrDatabase, "failed to count queue", err)
	}
	if active >= s.maxSize {
		return "", apperrors.Newf(apperrors.ErrQueueFull,
			"queue is full (max size: %d)", s.maxSize)
	}

	id := models.UUID(uuid.New().String())

	createdAt := s.now().UnixMilli()
	if createdAt < s.lastCreated {
		createdAt = s.lastCreated
	}
	s.lastCreated = createdAt

	payload := draft.Payload
	if len(payload) == 0 {
		payload = []byte("{}")
	}

	query := `
	INSERT INTO mutation_queue (id, kind, target_url, http_method, payload, status, retries, last_error, created_at)
	VALUES (?, ?, ?, ?, ?, 'pending', 0, '', ?)
	`
	_, err = s.db.Exec(query, id, draft.Kind, draft.TargetURL, draft.HTTPMethod,
		string(payload), createdAt)
	if err != nil {
		return "", apperrors.Wrap(apperrors.ErrDatabase, "failed to enqueue mutation", err)
	}

	logging.Info("Mutation enqueued", logging.Fields{
		"mutation_id": id,
		"kind":        draft.Kind,
		"method":      draft.HTTPMethod,
		"url":         draft.TargetURL,
	})

	return id, nil
}

const selectColumns = `id, kind, target_url, http_method, payload, status, retries, last_error, created_at`

// GetPending returns all records awaiting replay (pending, syncing, failed),
// ordered ascending by createdAt with insertion order breaking ties. Each
// call re-reads current state.
func (s *Store) GetPending() ([]*models.QueuedMutation, error) {
	query := fmt.Sprintf(`
	SELECT %s FROM mutation_queue
	WHERE status IN ('pending', 'syncing', 'failed')
	ORDER BY created_at ASC, rowid ASC
	`, selectColumns)

	rows, err := s.db.Query(query)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to query pending mutations", err)
	}
	defer rows.Close()

	var records []*models.QueuedMutation
	for rows.Next() {
		rec, err := scanMutation(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Get retrieves a mutation by ID. Returns nil when the record is absent.
func (s *Store) Get(id models.UUID) (*models.QueuedMutation, error) {
	query := fmt.Sprintf(`SELECT %s FROM mutation_queue WHERE id = ?`, selectColumns)

	row := s.db.QueryRow(query, id)
	rec, err := scanMutation(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// SetStatus updates the status (and optionally lastError) of a record
// without touching any other field.
func (s *Store) SetStatus(id models.UUID, status models.MutationStatus, lastError string) error {
	var err error
	if lastError != "" {
		_, err = s.db.Exec(`UPDATE mutation_queue SET status = ?, last_error = ? WHERE id = ?`,
			status, lastError, id)
	} else {
		_, err = s.db.Exec(`UPDATE mutation_queue SET status = ? WHERE id = ?`, status, id)
	}
	if err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "failed to update mutation status", err)
	}
	return nil
}

// IncrementRetry atomically increments the retry counter and returns the new
// count. A missing record is a no-op returning 0.
func (s *Store) IncrementRetry(id models.UUID) (int, error) {
	res, err := s.db.Exec(`UPDATE mutation_queue SET retries = retries + 1 WHERE id = ?`, id)
	if err != nil {
		return 0, apperrors.Wrap(apperrors.ErrDatabase, "failed to increment retries", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, apperrors.Wrap(apperrors.ErrDatabase, "failed to read affected rows", err)
	}
	if affected == 0 {
		return 0, nil
	}

	var retries int
	if err := s.db.QueryRow(`SELECT retries FROM mutation_queue WHERE id = ?`, id).Scan(&retries); err != nil {
		return 0, apperrors.Wrap(apperrors.ErrDatabase, "failed to read retries", err)
	}
	return retries, nil
}

// Remove deletes a record. Removing an absent ID is not an error.
func (s *Store) Remove(id models.UUID) error {
	if _, err := s.db.Exec(`DELETE FROM mutation_queue WHERE id = ?`, id); err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "failed to remove mutation", err)
	}
	return nil
}

// Clear deletes all records unconditionally. Administrative escape hatch,
// not used by the normal sync flow.
func (s *Store) Clear() error {
	if _, err := s.db.Exec(`DELETE FROM mutation_queue`); err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "failed to clear queue", err)
	}
	logging.Warn("Mutation queue cleared", nil)
	return nil
}

// Size returns the count of all records regardless of status.
func (s *Store) Size() (int, error) {
	var count int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM mutation_queue`).Scan(&count); err != nil {
		return 0, apperrors.Wrap(apperrors.ErrDatabase, "failed to count queue", err)
	}
	return count, nil
}

// GetStats returns point-in-time counts per status.
func (s *Store) GetStats() (*Stats, error) {
	rows, err := s.db.Query(`SELECT status, COUNT(*) FROM mutation_queue GROUP BY status`)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to read queue stats", err)
	}
	defer rows.Close()

	stats := &Stats{}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to scan queue stats", err)
		}
		stats.Total += count
		switch models.MutationStatus(status) {
		case models.StatusPending:
			stats.Pending = count
		case models.StatusSyncing:
			stats.Syncing = count
		case models.StatusSynced:
			stats.Synced = count
		case models.StatusFailed:
			stats.Failed = count
		}
	}
	return stats, rows.Err()
}

// activeCount counts records occupying queue capacity.
func (s *Store) activeCount() (int, error) {
	var count int
	err := s.db.QueryRow(
		`SELECT COUNT(*) FROM mutation_queue WHERE status IN ('pending', 'syncing', 'failed')`,
	).Scan(&count)
	return count, err
}

// SetNowFunc overrides the clock, for tests.
func (s *Store) SetNowFunc(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanMutation(row rowScanner) (*models.QueuedMutation, error) {
	var rec models.QueuedMutation
	var payload string
	err := row.Scan(&rec.ID, &rec.Kind, &rec.TargetURL, &rec.HTTPMethod,
		&payload, &rec.Status, &rec.Retries, &rec.LastError, &rec.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to scan mutation", err)
	}
	rec.Payload = []byte(payload)
	return &rec, nil
}
