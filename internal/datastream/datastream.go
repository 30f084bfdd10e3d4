// Package datastream encodes a finished chat message in the line-oriented
// data stream protocol read by AI chat clients: one "0:" text frame per line,
// then an "e:" step-finish frame and a "d:" message-finish frame.
package datastream

import (
	"bytes"
	"encoding/json"
	"io"
	"iter"
	"net/http"
	"strings"
	"unicode/utf16"
)

const (
	HeaderName  = "X-Vercel-AI-Data-Stream"
	Version     = "v1"
	ContentType = "text/plain; charset=utf-8"

	FinishStop = "stop"

	// PromptTokens is a fixed placeholder; nothing is actually tokenized.
	PromptTokens = 10
)

// Frame is one encoded line of the stream, including its trailing newline.
type Frame []byte

type Usage struct {
	PromptTokens     int `json:"promptTokens"`
	CompletionTokens int `json:"completionTokens"`
}

type stepFinish struct {
	FinishReason string `json:"finishReason"`
	Usage        Usage  `json:"usage"`
	IsContinued  bool   `json:"isContinued"`
}

type messageFinish struct {
	FinishReason string `json:"finishReason"`
	Usage        Usage  `json:"usage"`
}

// CompletionTokens approximates usage by the message length in UTF-16 code
// units, the unit chat clients measure string length in.
func CompletionTokens(message string) int {
	n := 0
	for _, r := range message {
		n += utf16.RuneLen(r)
	}
	return n
}

// Frames yields the stream for message. Each line becomes a text frame with
// its newline re-appended, except the last. The sequence is finite and
// produces identical frames every time it is ranged over.
func Frames(message, finishReason string) iter.Seq[Frame] {
	return func(yield func(Frame) bool) {
		lines := strings.Split(message, "\n")
		for i, line := range lines {
			if i < len(lines)-1 {
				line += "\n"
			}
			if !yield(encode('0', line)) {
				return
			}
		}

		usage := Usage{PromptTokens: PromptTokens, CompletionTokens: CompletionTokens(message)}
		if !yield(encode('e', stepFinish{FinishReason: finishReason, Usage: usage})) {
			return
		}
		yield(encode('d', messageFinish{FinishReason: finishReason, Usage: usage}))
	}
}

// Write sends every frame of message to w, flushing after each one when w
// supports it.
func Write(w io.Writer, message, finishReason string) error {
	flusher, _ := w.(http.Flusher)
	for frame := range Frames(message, finishReason) {
		if _, err := w.Write(frame); err != nil {
			return err
		}
		if flusher != nil {
			flusher.Flush()
		}
	}
	return nil
}

// SetHeaders marks an HTTP response as a data stream.
func SetHeaders(h http.Header) {
	h.Set("Content-Type", ContentType)
	h.Set(HeaderName, Version)
}

func encode(prefix byte, v any) Frame {
	var buf bytes.Buffer
	buf.WriteByte(prefix)
	buf.WriteByte(':')
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	// Strings and the fixed frame structs always encode.
	_ = enc.Encode(v)
	return buf.Bytes()
}
