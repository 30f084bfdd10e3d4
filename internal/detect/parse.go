package detect

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// ParseResult decodes a prediction service response body, requiring
// detection_count (non-negative integer), labels (array of strings) and
// prediction_uid (non-empty string).
func ParseResult(body []byte) (*Result, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPredictionResponse, err)
	}

	var res Result
	if err := requireField(fields, "detection_count", &res.DetectionCount); err != nil {
		return nil, err
	}
	if res.DetectionCount < 0 {
		return nil, fmt.Errorf("%w: detection_count is negative", ErrMalformedPredictionResponse)
	}
	if err := requireField(fields, "labels", &res.Labels); err != nil {
		return nil, err
	}
	if err := requireField(fields, "prediction_uid", &res.PredictionUID); err != nil {
		return nil, err
	}
	if res.PredictionUID == "" {
		return nil, fmt.Errorf("%w: prediction_uid is empty", ErrMalformedPredictionResponse)
	}
	return &res, nil
}

func requireField(fields map[string]json.RawMessage, name string, dst any) error {
	raw, ok := fields[name]
	if !ok || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return fmt.Errorf("%w: missing %s", ErrMalformedPredictionResponse, name)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("%w: invalid %s: %v", ErrMalformedPredictionResponse, name, err)
	}
	return nil
}

// ParseLabels extracts one label per line from a vision model reply. Bullet
// and numbering prefixes are stripped, preamble lines and "none" are skipped.
func ParseLabels(raw string) []string {
	labels := make([]string, 0)

	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		// Skip common headers or non-label lines
		if strings.HasPrefix(line, "Here") || strings.HasPrefix(line, "I see") || strings.HasPrefix(line, "Based on") {
			continue
		}

		line = strings.TrimSpace(strings.TrimLeft(line, "-*•0123456789.)"))
		line = strings.Trim(line, "`\"'.,")
		if line == "" || strings.EqualFold(line, "none") {
			continue
		}
		labels = append(labels, strings.ToLower(line))
	}

	return labels
}
