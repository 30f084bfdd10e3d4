package detect

import (
	"context"
	"errors"
	"fmt"
)

// LabelPrompt asks a vision model for one detected object label per line.
const LabelPrompt = `List every distinct physical object you can see in this image.
Respond in plain text with one short lowercase label per line and nothing else.
Repeat a label once per instance (e.g. two dogs means "dog" on two lines).
If you see no objects, respond with the single word: none`

var (
	ErrPredictionService           = errors.New("prediction service error")
	ErrMalformedPredictionResponse = errors.New("malformed prediction response")
)

// PredictionServiceError reports a failed call to the detection backend.
// Exactly one of Status (non-2xx response) or Cause (transport failure) is set.
type PredictionServiceError struct {
	Status int
	Cause  error
}

func (e *PredictionServiceError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("Prediction API error: %d", e.Status)
	}
	return fmt.Sprintf("Prediction API request failed: %v", e.Cause)
}

func (e *PredictionServiceError) Is(target error) bool { return target == ErrPredictionService }

func (e *PredictionServiceError) Unwrap() error { return e.Cause }

type Detector interface {
	Detect(ctx context.Context, in Input) (*Result, error)
}

// Metadata is passed through to the backend as auxiliary context only.
type Metadata struct {
	StorageKey string
	StorageURL string
	ChatID     string
}

type Input struct {
	Data        []byte
	ContentType string
	Filename    string
	Metadata    Metadata
}

type Result struct {
	DetectionCount int      `json:"detection_count"`
	Labels         []string `json:"labels"`
	PredictionUID  string   `json:"prediction_uid"`
}
