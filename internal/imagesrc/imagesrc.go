// Package imagesrc turns the image string a chat client submits into raw
// bytes. Two forms are accepted and told apart by prefix: base64 data URIs
// ("data:<mime>;base64,<payload>") and http(s) URLs that are fetched.
package imagesrc

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

const DefaultContentType = "image/jpeg"

var (
	ErrInvalidImageFormat = errors.New("invalid image format")
	ErrFetch              = errors.New("failed to fetch image")
	ErrImageTooLarge      = errors.New("image too large")
)

const (
	dataURIPrefix = "data:"
	base64Marker  = ";base64,"
)

// FetchError reports a failed download of a remote image. Status is zero when
// the request never produced a response.
type FetchError struct {
	URL    string
	Status int
	Err    error
}

func (e *FetchError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("failed to fetch image: %s returned status %d", e.URL, e.Status)
	}
	return fmt.Sprintf("failed to fetch image from %s: %v", e.URL, e.Err)
}

func (e *FetchError) Is(target error) bool { return target == ErrFetch }

func (e *FetchError) Unwrap() error { return e.Err }

type DecodedImage struct {
	Data        []byte
	ContentType string
}

// Extension derives a lower-case file extension from the content subtype,
// falling back to "jpg" when the subtype is missing or unusable.
func (d *DecodedImage) Extension() string {
	mediaType, _, _ := strings.Cut(d.ContentType, ";")
	_, sub, ok := strings.Cut(strings.TrimSpace(mediaType), "/")
	if !ok {
		return "jpg"
	}
	sub = strings.ToLower(strings.TrimSpace(sub))
	if i := strings.IndexByte(sub, '+'); i >= 0 {
		sub = sub[:i]
	}
	switch sub {
	case "jpeg", "pjpeg":
		return "jpg"
	case "":
		return "jpg"
	}
	for _, r := range sub {
		if !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r == '-' || r == '.') {
			return "jpg"
		}
	}
	return sub
}

type Decoder struct {
	client   *http.Client
	timeout  time.Duration
	maxBytes int64
}

// NewDecoder returns a Decoder that fetches remote images with client. maxBytes
// caps the decoded size of both data URIs and fetched bodies. A zero timeout or
// maxBytes disables the respective limit.
func NewDecoder(client *http.Client, timeout time.Duration, maxBytes int64) *Decoder {
	if client == nil {
		client = &http.Client{}
	}
	return &Decoder{client: client, timeout: timeout, maxBytes: maxBytes}
}

func (d *Decoder) Decode(ctx context.Context, raw string) (*DecodedImage, error) {
	switch {
	case strings.HasPrefix(raw, dataURIPrefix):
		return d.decodeDataURI(raw)
	case hasHTTPScheme(raw):
		return d.fetch(ctx, raw)
	default:
		return nil, fmt.Errorf("%w: expected a base64 data URI or an http(s) URL", ErrInvalidImageFormat)
	}
}

// DecodeDataURI decodes a "data:<mime>;base64,<payload>" string, splitting at
// the first ";base64,". Parameters after the first ';' of the media type are
// dropped. Line breaks inside the payload are ignored.
func DecodeDataURI(raw string) (*DecodedImage, error) {
	rest, ok := strings.CutPrefix(raw, dataURIPrefix)
	if !ok {
		return nil, fmt.Errorf("%w: not a data URI", ErrInvalidImageFormat)
	}
	header, payload, ok := strings.Cut(rest, base64Marker)
	if !ok {
		return nil, fmt.Errorf("%w: data URI is not base64 encoded", ErrInvalidImageFormat)
	}

	contentType, _, _ := strings.Cut(header, ";")
	contentType = strings.TrimSpace(contentType)
	if contentType == "" {
		contentType = DefaultContentType
	}

	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidImageFormat, err)
	}
	return &DecodedImage{Data: data, ContentType: contentType}, nil
}

func (d *Decoder) decodeDataURI(raw string) (*DecodedImage, error) {
	img, err := DecodeDataURI(raw)
	if err != nil {
		return nil, err
	}
	if d.maxBytes > 0 && int64(len(img.Data)) > d.maxBytes {
		return nil, fmt.Errorf("%w: data URI exceeds %d bytes", ErrImageTooLarge, d.maxBytes)
	}
	return img, nil
}

func (d *Decoder) fetch(ctx context.Context, url string) (*DecodedImage, error) {
	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidImageFormat, err)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, &FetchError{URL: url, Err: err}
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Error("failed to close image response body", "error", err)
		}
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &FetchError{URL: url, Status: resp.StatusCode}
	}

	var body io.Reader = resp.Body
	if d.maxBytes > 0 {
		body = io.LimitReader(resp.Body, d.maxBytes+1)
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, &FetchError{URL: url, Err: err}
	}
	if d.maxBytes > 0 && int64(len(data)) > d.maxBytes {
		return nil, &FetchError{URL: url, Err: fmt.Errorf("%w: exceeds %d bytes", ErrImageTooLarge, d.maxBytes)}
	}

	contentType := strings.TrimSpace(resp.Header.Get("Content-Type"))
	if contentType == "" {
		contentType = DefaultContentType
	}
	return &DecodedImage{Data: data, ContentType: contentType}, nil
}

func hasHTTPScheme(s string) bool {
	lower := strings.ToLower(s)
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}
