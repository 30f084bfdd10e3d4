package photostore

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

const (
	DefaultChatID        = "unknown-chat"
	DefaultExtension     = "jpg"
	defaultImageBaseName = "image"
)

var (
	unsafeChatIDChars   = regexp.MustCompile(`[^a-zA-Z0-9_-]`)
	whitespaceRuns      = regexp.MustCompile(`[\s\p{Z}]+`)
	unsafeBaseNameChars = regexp.MustCompile(`[^a-zA-Z0-9._-]`)
	dashRuns            = regexp.MustCompile(`-+`)
)

type KeyParams struct {
	ChatID            string
	OriginalFilename  string
	ExtensionFallback string
}

// BuildImageKey returns chats/{chatId}/original/{baseName}-{millis}.{ext}.
// The filename is trimmed of surrounding whitespace before the extension is
// taken, so "a.PNG " yields ".png" rather than a "PNG " extension, and a
// whitespace-only filename is treated as absent.
// Uniqueness relies on the millisecond timestamp: two uploads for the same
// chat and filename within one millisecond produce the same key.
func BuildImageKey(p KeyParams, now time.Time) string {
	chatID := p.ChatID
	if chatID == "" {
		chatID = DefaultChatID
	}
	safeChatID := unsafeChatIDChars.ReplaceAllString(chatID, "-")

	fallback := p.ExtensionFallback
	if fallback == "" {
		fallback = DefaultExtension
	}

	ext := fallback
	baseName := defaultImageBaseName
	if name := strings.TrimSpace(p.OriginalFilename); name != "" {
		baseName = name
		if dot := strings.LastIndexByte(name, '.'); dot >= 0 {
			if suffix := name[dot+1:]; suffix != "" {
				ext = suffix
			}
			if dot > 0 {
				baseName = name[:dot]
			}
		}
	}
	ext = strings.ToLower(ext)

	return fmt.Sprintf("chats/%s/original/%s-%d.%s", safeChatID, sanitizeBaseName(baseName), now.UnixMilli(), ext)
}

func sanitizeBaseName(name string) string {
	name = strings.TrimSpace(name)
	name = whitespaceRuns.ReplaceAllString(name, "-")
	name = unsafeBaseNameChars.ReplaceAllString(name, "-")
	return dashRuns.ReplaceAllString(name, "-")
}
