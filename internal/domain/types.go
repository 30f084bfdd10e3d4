package domain

import "time"

type DetectionStatus string

const (
	StatusSuccess DetectionStatus = "success"
	StatusError   DetectionStatus = "error"
	StatusNoImage DetectionStatus = "no_image"
)

// Detection is the audit record written for every chat request.
type Detection struct {
	ID             string          `json:"id"`
	ChatID         string          `json:"chat_id"`
	Status         DetectionStatus `json:"status"`
	ErrorKind      string          `json:"error_kind,omitempty"`
	Error          string          `json:"error,omitempty"`
	DetectionCount int             `json:"detection_count"`
	Labels         []string        `json:"labels"`
	PredictionUID  string          `json:"prediction_uid,omitempty"`
	StorageKey     string          `json:"storage_key,omitempty"`
	StorageURL     string          `json:"storage_url,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}
