package ollama

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/vbonduro/detectchat/internal/detect"
)

// OllamaDetector labels objects with a local multimodal model served by Ollama.
type OllamaDetector struct {
	host   string
	model  string
	client *http.Client
}

func NewOllamaDetector(host, model string, client *http.Client) *OllamaDetector {
	if client == nil {
		client = &http.Client{}
	}
	return &OllamaDetector{
		host:   strings.TrimSuffix(host, "/"),
		model:  model,
		client: client,
	}
}

// Detect asks the model for one label per line. Ollama responses carry no id,
// so PredictionUID is generated locally.
func (d *OllamaDetector) Detect(ctx context.Context, in detect.Input) (*detect.Result, error) {
	reqBody := map[string]any{
		"model":  d.model,
		"prompt": detect.LabelPrompt,
		"images": []string{base64.StdEncoding.EncodeToString(in.Data)},
		"stream": false,
	}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.host+"/api/generate", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, &detect.PredictionServiceError{Cause: err}
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Error("failed to close ollama response body", "error", err)
		}
	}()

	if resp.StatusCode != http.StatusOK {
		return nil, &detect.PredictionServiceError{Status: resp.StatusCode}
	}

	var respBody struct {
		Response *string `json:"response"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&respBody); err != nil {
		return nil, fmt.Errorf("%w: %v", detect.ErrMalformedPredictionResponse, err)
	}
	if respBody.Response == nil {
		return nil, fmt.Errorf("%w: missing response field", detect.ErrMalformedPredictionResponse)
	}

	labels := detect.ParseLabels(*respBody.Response)
	return &detect.Result{
		DetectionCount: len(labels),
		Labels:         labels,
		PredictionUID:  "ollama-" + uuid.NewString(),
	}, nil
}
