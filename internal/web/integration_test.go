package web_test

import (
	"bufio"
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vbonduro/detectchat/internal/datastream"
	"github.com/vbonduro/detectchat/internal/db"
	"github.com/vbonduro/detectchat/internal/detect/yolo"
	"github.com/vbonduro/detectchat/internal/imagesrc"
	"github.com/vbonduro/detectchat/internal/photostore/local"
	"github.com/vbonduro/detectchat/internal/service"
	"github.com/vbonduro/detectchat/internal/store"
	"github.com/vbonduro/detectchat/internal/web"
)

const harnessMaxImageBytes = 1 << 20

// minimalJPEG starts with the JPEG magic bytes followed by zeros.
var minimalJPEG = jpegOfSize(512)

func jpegOfSize(n int) []byte {
	b := make([]byte, n)
	copy(b, []byte{0xFF, 0xD8, 0xFF, 0xE0})
	return b
}

// fakeYOLO is a /predict endpoint that records what it was sent.
type fakeYOLO struct {
	mu       sync.Mutex
	status   int
	lastFile []byte
	lastKey  string
	lastChat string
}

func (f *fakeYOLO) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/predict" || r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	if f.status != 0 {
		w.WriteHeader(f.status)
		return
	}
	if err := r.ParseMultipartForm(1 << 20); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	file, _, err := r.FormFile("file")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	defer file.Close()
	data, _ := io.ReadAll(file)

	f.mu.Lock()
	f.lastFile = data
	f.lastKey = r.FormValue("s3_key")
	f.lastChat = r.FormValue("chat_id")
	f.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	_, _ = io.WriteString(w, `{"detection_count":2,"labels":["cat","dog"],"prediction_uid":"abc123"}`)
}

type harness struct {
	app        *httptest.Server
	yolo       *fakeYOLO
	yoloServer *httptest.Server
	detections *store.DetectionStore
	photoDir   string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	fy := &fakeYOLO{}
	yoloServer := httptest.NewServer(fy)
	t.Cleanup(yoloServer.Close)

	d, err := db.OpenForTesting()
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })
	detections := store.NewDetectionStore(d)

	photoDir := t.TempDir()
	photos, err := local.NewLocalPhotoStore(photoDir, "")
	require.NoError(t, err)

	svc := service.NewChatService(
		imagesrc.NewDecoder(nil, 5*time.Second, harnessMaxImageBytes),
		photos,
		yolo.NewClient(yoloServer.URL, nil),
		detections,
		service.Options{ServiceAddress: yoloServer.URL, PredictTimeout: 5 * time.Second},
		logger,
	)
	app := httptest.NewServer(web.NewServer(svc, detections, web.Options{}, logger))
	t.Cleanup(app.Close)

	return &harness{app: app, yolo: fy, yoloServer: yoloServer, detections: detections, photoDir: photoDir}
}

func (h *harness) chat(t *testing.T, body any) (*http.Response, []string) {
	t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(t, err)

	resp, err := http.Post(h.app.URL+"/api/chat", "application/json", strings.NewReader(string(payload)))
	require.NoError(t, err)
	defer resp.Body.Close()

	var lines []string
	sc := bufio.NewScanner(resp.Body)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	require.NoError(t, sc.Err())
	return resp, lines
}

// message reassembles the text frames of a stream.
func message(t *testing.T, lines []string) string {
	t.Helper()
	var sb strings.Builder
	for _, l := range lines {
		if !strings.HasPrefix(l, "0:") {
			continue
		}
		var s string
		require.NoError(t, json.Unmarshal([]byte(l[2:]), &s))
		sb.WriteString(s)
	}
	return sb.String()
}

func dataURI(b []byte) string {
	return "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(b)
}

func TestChatEndToEnd(t *testing.T) {
	h := newHarness(t)

	resp, lines := h.chat(t, map[string]any{
		"messages": []map[string]string{{"role": "user", "content": "what do you see?"}},
		"data": map[string]any{
			"images":    []string{dataURI(minimalJPEG)},
			"chatId":    "chat-1",
			"filenames": []string{"pets.jpg"},
		},
	})

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, datastream.Version, resp.Header.Get(datastream.HeaderName))
	assert.Equal(t, datastream.ContentType, resp.Header.Get("Content-Type"))

	msg := message(t, lines)
	assert.Contains(t, msg, "**Detection Count:** 2")
	assert.Contains(t, msg, "**Detected Objects:** cat, dog")
	assert.Contains(t, msg, "**Prediction ID:** abc123")

	require.GreaterOrEqual(t, len(lines), 2)
	assert.True(t, strings.HasPrefix(lines[len(lines)-2], "e:"))
	assert.True(t, strings.HasPrefix(lines[len(lines)-1], "d:"))

	h.yolo.mu.Lock()
	assert.Equal(t, minimalJPEG, h.yolo.lastFile)
	assert.True(t, strings.HasPrefix(h.yolo.lastKey, "chats/chat-1/original/pets-"))
	assert.Equal(t, "chat-1", h.yolo.lastChat)
	key := h.yolo.lastKey
	h.yolo.mu.Unlock()

	assert.FileExists(t, filepath.Join(h.photoDir, filepath.FromSlash(key)))

	rows, err := h.detections.ListByChatID(context.Background(), "chat-1", 0)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "abc123", rows[0].PredictionUID)
	assert.Equal(t, key, rows[0].StorageKey)
}

func TestChatFromImageURL(t *testing.T) {
	h := newHarness(t)
	img := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/jpeg")
		_, _ = w.Write(minimalJPEG)
	}))
	defer img.Close()

	_, lines := h.chat(t, map[string]any{"data": map[string]any{"images": []string{img.URL + "/cat.jpg"}}})

	assert.Contains(t, message(t, lines), "**Prediction ID:** abc123")
	h.yolo.mu.Lock()
	defer h.yolo.mu.Unlock()
	assert.Equal(t, minimalJPEG, h.yolo.lastFile)
	assert.True(t, strings.HasPrefix(h.yolo.lastKey, "chats/unknown-chat/original/image-"))
}

func TestChatPredictionServiceDown(t *testing.T) {
	h := newHarness(t)
	h.yolo.status = http.StatusInternalServerError

	resp, lines := h.chat(t, map[string]any{"data": map[string]any{"images": []string{dataURI(minimalJPEG)}, "chatId": "c2"}})

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	msg := message(t, lines)
	assert.Contains(t, msg, "❌ **Object Detection Error**")
	assert.Contains(t, msg, "Prediction API error: 500")
	assert.Contains(t, msg, "reachable at "+h.yoloServer.URL)

	rows, err := h.detections.ListByChatID(context.Background(), "c2", 0)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, service.KindPredictionService, rows[0].ErrorKind)
}

func TestChatNoImage(t *testing.T) {
	h := newHarness(t)

	_, lines := h.chat(t, map[string]any{"messages": []map[string]string{{"role": "user", "content": "hi"}}})

	assert.Equal(t, service.NoImageMessage, message(t, lines))
	h.yolo.mu.Lock()
	defer h.yolo.mu.Unlock()
	assert.Nil(t, h.yolo.lastFile)
}

func TestDetectionsEndpoint(t *testing.T) {
	h := newHarness(t)
	h.chat(t, map[string]any{"data": map[string]any{"images": []string{dataURI(minimalJPEG)}, "chatId": "hist"}})
	h.chat(t, map[string]any{"data": map[string]any{"chatId": "hist"}})

	resp, err := http.Get(h.app.URL + "/api/chats/hist/detections")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Detections []struct {
			Status string `json:"status"`
		} `json:"detections"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Len(t, body.Detections, 2)
}

// TestChatClientPayloadShape posts the body the chat UI sends: the image
// appears in data.images and again as a message attachment, after earlier
// turns of history.
func TestChatClientPayloadShape(t *testing.T) {
	h := newHarness(t)
	img := jpegOfSize(harnessMaxImageBytes - 1024)
	uri := dataURI(img)
	earlier := dataURI(jpegOfSize(harnessMaxImageBytes / 2))

	resp, lines := h.chat(t, map[string]any{
		"messages": []map[string]any{
			{
				"role":    "user",
				"content": "and this one?",
				"experimental_attachments": []map[string]string{
					{"name": "earlier.jpg", "contentType": "image/jpeg", "url": earlier},
				},
			},
			{"role": "assistant", "content": "🔍 **Object Detection Results**"},
			{
				"role":    "user",
				"content": "what do you see?",
				"experimental_attachments": []map[string]string{
					{"name": "big.jpg", "contentType": "image/jpeg", "url": uri},
				},
			},
		},
		"selectedModel": "yolo",
		"data": map[string]any{
			"images":    []string{uri},
			"chatId":    "big-chat",
			"filenames": []string{"big.jpg"},
		},
	})

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, message(t, lines), "**Prediction ID:** abc123")
	h.yolo.mu.Lock()
	defer h.yolo.mu.Unlock()
	assert.Equal(t, img, h.yolo.lastFile)
}

func TestChatImageOverLimitStreamsError(t *testing.T) {
	h := newHarness(t)

	resp, lines := h.chat(t, map[string]any{
		"data": map[string]any{
			"images": []string{dataURI(jpegOfSize(harnessMaxImageBytes + 1))},
			"chatId": "too-big",
		},
	})

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, datastream.Version, resp.Header.Get(datastream.HeaderName))
	msg := message(t, lines)
	assert.Contains(t, msg, "❌ **Object Detection Error**")
	assert.Contains(t, msg, "image too large")
	assert.True(t, strings.HasPrefix(lines[len(lines)-1], "d:"))

	h.yolo.mu.Lock()
	assert.Nil(t, h.yolo.lastFile)
	h.yolo.mu.Unlock()

	rows, err := h.detections.ListByChatID(context.Background(), "too-big", 0)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, service.KindImageTooLarge, rows[0].ErrorKind)
}
