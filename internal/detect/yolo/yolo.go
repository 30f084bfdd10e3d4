package yolo

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"

	"github.com/vbonduro/detectchat/internal/detect"
)

const (
	DefaultService = "localhost:8080"

	// maxResponseBytes bounds how much of a prediction response is read.
	maxResponseBytes = 4 << 20
)

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

// Client posts images to a YOLO prediction service's /predict endpoint.
type Client struct {
	predictURL string
	client     *http.Client
}

func NewClient(service string, client *http.Client) *Client {
	if client == nil {
		client = &http.Client{}
	}
	return &Client{
		predictURL: PredictURL(service),
		client:     client,
	}
}

// PredictURL normalises a service address into its /predict endpoint: an
// empty address means localhost:8080, http:// is assumed when no scheme is
// given and one trailing slash is dropped.
func PredictURL(service string) string {
	if service == "" {
		service = DefaultService
	}
	if !strings.HasPrefix(service, "http") {
		service = "http://" + service
	}
	return strings.TrimSuffix(service, "/") + "/predict"
}

func (c *Client) Detect(ctx context.Context, in detect.Input) (*detect.Result, error) {
	body, contentType, err := buildForm(in)
	if err != nil {
		return nil, fmt.Errorf("failed to build prediction request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.predictURL, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &detect.PredictionServiceError{Cause: err}
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Error("failed to close prediction response body", "error", err)
		}
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &detect.PredictionServiceError{Status: resp.StatusCode}
	}

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, &detect.PredictionServiceError{Cause: fmt.Errorf("read response: %w", err)}
	}
	return detect.ParseResult(payload)
}

// buildForm encodes the image as the "file" part followed by whichever
// metadata fields are set.
func buildForm(in detect.Input) (*bytes.Buffer, string, error) {
	buf := &bytes.Buffer{}
	w := multipart.NewWriter(buf)

	filename := in.Filename
	if filename == "" {
		filename = "image.jpg"
	}
	contentType := in.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`, quoteEscaper.Replace(filename)))
	h.Set("Content-Type", contentType)
	part, err := w.CreatePart(h)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(in.Data); err != nil {
		return nil, "", err
	}

	fields := []struct{ name, value string }{
		{"s3_key", in.Metadata.StorageKey},
		{"s3_url", in.Metadata.StorageURL},
		{"chat_id", in.Metadata.ChatID},
	}
	for _, f := range fields {
		if f.value == "" {
			continue
		}
		if err := w.WriteField(f.name, f.value); err != nil {
			return nil, "", err
		}
	}

	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return buf, w.FormDataContentType(), nil
}
