package claude

import (
	"context"
	"encoding/base64"
	"fmt"

	"github.com/liushuangls/go-anthropic/v2"

	"github.com/vbonduro/detectchat/internal/detect"
)

// maxTokens comfortably covers one short label per line for a busy scene.
const maxTokens = 1024

// ClaudeDetector asks a Claude vision model to label the objects in an image.
type ClaudeDetector struct {
	client *anthropic.Client
	model  string
}

func NewClaudeDetector(apiKey, model string, opts ...anthropic.ClientOption) *ClaudeDetector {
	return &ClaudeDetector{
		client: anthropic.NewClient(apiKey, opts...),
		model:  model,
	}
}

// Detect returns one label per object Claude reports. DetectionCount is the
// number of labels and PredictionUID is the Claude message id.
func (d *ClaudeDetector) Detect(ctx context.Context, in detect.Input) (*detect.Result, error) {
	resp, err := d.client.CreateMessages(ctx, anthropic.MessagesRequest{
		Model:     anthropic.Model(d.model),
		MaxTokens: maxTokens,
		Messages: []anthropic.Message{{
			Role: anthropic.RoleUser,
			Content: []anthropic.MessageContent{
				anthropic.NewImageMessageContent(anthropic.NewMessageContentSource(
					anthropic.MessagesContentSourceTypeBase64,
					normaliseMIME(in.ContentType),
					base64.StdEncoding.EncodeToString(in.Data),
				)),
				anthropic.NewTextMessageContent(detect.LabelPrompt),
			},
		}},
	})
	if err != nil {
		return nil, &detect.PredictionServiceError{Cause: err}
	}

	var text string
	for _, c := range resp.Content {
		if c.Type == anthropic.MessagesContentTypeText {
			text = c.GetText()
			break
		}
	}
	if resp.ID == "" {
		return nil, fmt.Errorf("%w: claude response has no message id", detect.ErrMalformedPredictionResponse)
	}

	labels := detect.ParseLabels(text)
	return &detect.Result{
		DetectionCount: len(labels),
		Labels:         labels,
		PredictionUID:  resp.ID,
	}, nil
}

// normaliseMIME maps browser MIME types to the values the Anthropic API accepts.
// Unknown types are coerced to jpeg.
func normaliseMIME(mimeType string) string {
	switch mimeType {
	case "image/png", "image/gif", "image/webp":
		return mimeType
	default:
		return "image/jpeg"
	}
}
