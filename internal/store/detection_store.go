package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/vbonduro/detectchat/internal/domain"
)

const defaultListLimit = 50

type DetectionStore struct {
	db  *sql.DB
	now func() time.Time
}

func NewDetectionStore(db *sql.DB) *DetectionStore {
	return &DetectionStore{db: db, now: time.Now}
}

// Create inserts d, filling in ID and CreatedAt when they are unset.
func (s *DetectionStore) Create(ctx context.Context, d *domain.Detection) error {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = s.now()
	}
	labels := d.Labels
	if labels == nil {
		labels = []string{}
	}
	encoded, err := json.Marshal(labels)
	if err != nil {
		return fmt.Errorf("failed to encode labels: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO detections (
			id, chat_id, status, error_kind, error, detection_count,
			labels, prediction_uid, storage_key, storage_url, created_at_ms
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, d.ID, d.ChatID, string(d.Status), d.ErrorKind, d.Error, d.DetectionCount,
		string(encoded), d.PredictionUID, d.StorageKey, d.StorageURL, d.CreatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to create detection: %w", err)
	}
	return nil
}

func (s *DetectionStore) GetByID(ctx context.Context, id string) (*domain.Detection, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, chat_id, status, error_kind, error, detection_count,
		       labels, prediction_uid, storage_key, storage_url, created_at_ms
		FROM detections WHERE id = ?
	`, id)

	d, err := scanDetection(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get detection: %w", err)
	}
	return d, nil
}

// ListByChatID returns the newest detections for chatID first. A non-positive
// limit falls back to 50.
func (s *DetectionStore) ListByChatID(ctx context.Context, chatID string, limit int) ([]*domain.Detection, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, chat_id, status, error_kind, error, detection_count,
		       labels, prediction_uid, storage_key, storage_url, created_at_ms
		FROM detections WHERE chat_id = ?
		ORDER BY created_at_ms DESC, rowid DESC
		LIMIT ?
	`, chatID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list detections: %w", err)
	}
	defer rows.Close()

	detections := make([]*domain.Detection, 0)
	for rows.Next() {
		d, err := scanDetection(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan detection: %w", err)
		}
		detections = append(detections, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate detections: %w", err)
	}
	return detections, nil
}

// DeleteOlderThan removes detections created before cutoff and reports how
// many rows were removed.
func (s *DetectionStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM detections WHERE created_at_ms < ?
	`, cutoff.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("failed to delete detections: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanDetection(sc scanner) (*domain.Detection, error) {
	var (
		d         domain.Detection
		status    string
		labels    string
		createdMs int64
	)
	if err := sc.Scan(&d.ID, &d.ChatID, &status, &d.ErrorKind, &d.Error, &d.DetectionCount,
		&labels, &d.PredictionUID, &d.StorageKey, &d.StorageURL, &createdMs); err != nil {
		return nil, err
	}
	d.Status = domain.DetectionStatus(status)
	d.CreatedAt = time.UnixMilli(createdMs).UTC()
	if err := json.Unmarshal([]byte(labels), &d.Labels); err != nil {
		return nil, fmt.Errorf("failed to decode labels: %w", err)
	}
	return &d, nil
}
