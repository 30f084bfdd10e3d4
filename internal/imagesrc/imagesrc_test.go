package imagesrc

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var pngBytes = []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A, 0x00, 0xFF}

func TestDecodeDataURIRoundTrip(t *testing.T) {
	raw := "data:image/png;base64," + base64.StdEncoding.EncodeToString(pngBytes)

	img, err := NewDecoder(nil, 0, 0).Decode(context.Background(), raw)
	require.NoError(t, err)
	assert.Equal(t, "image/png", img.ContentType)
	assert.Equal(t, pngBytes, img.Data)
}

func TestDecodeDataURIDefaultsContentType(t *testing.T) {
	img, err := DecodeDataURI("data:;base64," + base64.StdEncoding.EncodeToString([]byte("abc")))
	require.NoError(t, err)
	assert.Equal(t, "image/jpeg", img.ContentType)
	assert.Equal(t, []byte("abc"), img.Data)
}

func TestDecodeDataURIDropsMediaTypeParameters(t *testing.T) {
	img, err := DecodeDataURI("data:image/webp;name=a.webp;base64," + base64.StdEncoding.EncodeToString([]byte("x")))
	require.NoError(t, err)
	assert.Equal(t, "image/webp", img.ContentType)
}

func TestDecodeDataURILarge(t *testing.T) {
	payload := make([]byte, 8<<20)
	for i := range payload {
		payload[i] = byte(i)
	}
	encoded := base64.StdEncoding.EncodeToString(payload)

	img, err := DecodeDataURI("data:image/png;base64," + encoded)
	require.NoError(t, err)
	assert.Equal(t, "image/png", img.ContentType)
	assert.Equal(t, payload, img.Data)

	// MIME-wrapped payloads keep decoding.
	var wrapped strings.Builder
	for i := 0; i < len(encoded); i += 76 {
		wrapped.WriteString(encoded[i:min(i+76, len(encoded))])
		wrapped.WriteString("\r\n")
	}
	img, err = DecodeDataURI("data:image/png;base64," + wrapped.String())
	require.NoError(t, err)
	assert.Equal(t, payload, img.Data)
}

func TestDecodeDataURISplitsAtFirstMarker(t *testing.T) {
	img, err := DecodeDataURI("data:image/png;base64," + base64.StdEncoding.EncodeToString([]byte(";base64,")))
	require.NoError(t, err)
	assert.Equal(t, "image/png", img.ContentType)
	assert.Equal(t, []byte(";base64,"), img.Data)
}

func TestDecodeDataURITooLarge(t *testing.T) {
	raw := "data:image/png;base64," + base64.StdEncoding.EncodeToString(make([]byte, 64))

	_, err := NewDecoder(nil, 0, 32).Decode(context.Background(), raw)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrImageTooLarge)
	assert.NotErrorIs(t, err, ErrInvalidImageFormat)

	img, err := NewDecoder(nil, 0, 64).Decode(context.Background(), raw)
	require.NoError(t, err)
	assert.Len(t, img.Data, 64)
}

func BenchmarkDecodeDataURI(b *testing.B) {
	raw := "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(make([]byte, 20<<20))
	b.SetBytes(int64(len(raw)))
	for b.Loop() {
		if _, err := DecodeDataURI(raw); err != nil {
			b.Fatal(err)
		}
	}
}

func TestDecodeDataURIInvalid(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{name: "missing base64 marker", raw: "data:image/png,iVBORw0KGgo="},
		{name: "bad payload", raw: "data:image/png;base64,!!!not-base64!!!"},
		{name: "unsupported scheme", raw: "ftp://example.com/cat.png"},
		{name: "plain text", raw: "just some words"},
		{name: "empty", raw: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewDecoder(nil, 0, 0).Decode(context.Background(), tt.raw)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidImageFormat)
		})
	}
}

func TestDecodeFetchesURL(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(pngBytes)
	}))
	defer server.Close()

	img, err := NewDecoder(server.Client(), time.Second, 0).Decode(context.Background(), server.URL+"/cat.png")
	require.NoError(t, err)
	assert.Equal(t, "image/png", img.ContentType)
	assert.Equal(t, pngBytes, img.Data)
}

func TestDecodeFetchDefaultsContentType(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Suppress net/http's content sniffing.
		w.Header()["Content-Type"] = nil
		_, _ = w.Write([]byte("raw"))
	}))
	defer server.Close()

	img, err := NewDecoder(server.Client(), 0, 0).Decode(context.Background(), server.URL)
	require.NoError(t, err)
	assert.Equal(t, "image/jpeg", img.ContentType)
}

func TestDecodeFetchNonSuccessStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer server.Close()

	_, err := NewDecoder(server.Client(), 0, 0).Decode(context.Background(), server.URL)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrFetch)

	var fetchErr *FetchError
	require.True(t, errors.As(err, &fetchErr))
	assert.Equal(t, http.StatusNotFound, fetchErr.Status)
}

func TestDecodeFetchNetworkError(t *testing.T) {
	_, err := NewDecoder(nil, time.Second, 0).Decode(context.Background(), "http://localhost:99999/cat.png")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrFetch)
}

func TestDecodeFetchTimeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	_, err := NewDecoder(server.Client(), 20*time.Millisecond, 0).Decode(context.Background(), server.URL)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrFetch)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestDecodeFetchTooLarge(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(make([]byte, 64))
	}))
	defer server.Close()

	_, err := NewDecoder(server.Client(), 0, 32).Decode(context.Background(), server.URL)
	assert.ErrorIs(t, err, ErrFetch)
	assert.ErrorIs(t, err, ErrImageTooLarge)
}

func TestExtension(t *testing.T) {
	tests := []struct {
		contentType string
		want        string
	}{
		{"image/png", "png"},
		{"image/jpeg", "jpg"},
		{"IMAGE/GIF", "gif"},
		{"image/svg+xml", "svg"},
		{"image/webp; charset=binary", "webp"},
		{"application/octet-stream", "octet-stream"},
		{"image/", "jpg"},
		{"garbage", "jpg"},
		{"", "jpg"},
		{"image/we bp", "jpg"},
	}

	for _, tt := range tests {
		t.Run(tt.contentType, func(t *testing.T) {
			img := &DecodedImage{ContentType: tt.contentType}
			assert.Equal(t, tt.want, img.Extension())
		})
	}
}
