package webhook

import (
	"fmt"
	"net/url"
	"path"
	"strings"

	"inbox_backend/internal/inbox/domain"
)

// Extracted is the storable content of a message event.
type Extracted struct {
	Content     string
	Type        domain.MessageType
	MediaURL    string
	MediaBase64 string
	MimeType    string
	FileName    string
	// IsSystemMessage marks events with neither text nor media; callers drop them.
	IsSystemMessage bool
	Quoted          *domain.QuotedMessage
}

// Extract classifies msg and picks its textual content.
func Extract(msg RawMessage) Extracted {
	out := Extracted{
		Type:        classify(msg),
		MediaURL:    strings.TrimSpace(msg.MediaURL),
		MediaBase64: strings.TrimSpace(msg.MediaBase64),
		MimeType:    strings.TrimSpace(msg.MimeType),
		FileName:    strings.TrimSpace(msg.FileName),
		Quoted:      normalizeQuoted(msg.Quoted),
	}

	if out.Type.IsMedia() {
		out.Content = firstText(msg.Caption, msg.Body)
	} else {
		out.Content = firstText(msg.Body, msg.Caption)
		out.MediaURL, out.MediaBase64 = "", ""
	}

	hasMediaRef := out.Type.IsMedia() && (msg.HasMedia || out.MediaURL != "" || out.MediaBase64 != "")
	out.IsSystemMessage = out.Content == "" && !hasMediaRef
	return out
}

// ContentOf returns the first usable text among candidates, for payloads
// such as acks that carry no structured message.
func ContentOf(candidates ...string) string {
	return firstText(candidates...)
}

// Type keywords reported by the gateways, lowercased.
var (
	textTypes     = setOf("chat", "text", "conversation", "extendedtextmessage", "location", "locationmessage", "livelocationmessage", "buttonsresponsemessage", "listresponsemessage", "templatebuttonreplymessage")
	imageTypes    = setOf("image", "imagemessage", "sticker", "stickermessage")
	audioTypes    = setOf("audio", "audiomessage", "ptt", "voice")
	videoTypes    = setOf("video", "videomessage", "ptv", "gif")
	documentTypes = setOf("document", "documentmessage", "documentwithcaptionmessage")
	genericTypes  = setOf("", "chat", "text", "conversation", "media", "unknown")
)

var suffixTypes = map[string]domain.MessageType{
	".jpg": domain.MessageTypeImage, ".jpeg": domain.MessageTypeImage, ".png": domain.MessageTypeImage,
	".gif": domain.MessageTypeImage, ".webp": domain.MessageTypeImage,
	".mp3": domain.MessageTypeAudio, ".ogg": domain.MessageTypeAudio, ".oga": domain.MessageTypeAudio,
	".opus": domain.MessageTypeAudio, ".m4a": domain.MessageTypeAudio, ".wav": domain.MessageTypeAudio,
	".aac": domain.MessageTypeAudio,
	".mp4": domain.MessageTypeVideo, ".mov": domain.MessageTypeVideo, ".3gp": domain.MessageTypeVideo,
	".webm": domain.MessageTypeVideo, ".mkv": domain.MessageTypeVideo,
}

func classify(msg RawMessage) domain.MessageType {
	key := strings.ToLower(strings.TrimSpace(msg.Type))
	flagged := msg.HasMedia || msg.MediaURL != "" || msg.MediaBase64 != ""
	if _, generic := genericTypes[key]; generic && flagged {
		return inferMediaType(msg.MimeType, msg.MediaURL)
	}
	if t, ok := typeFromKeyword(key); ok {
		return t
	}
	if flagged {
		return inferMediaType(msg.MimeType, msg.MediaURL)
	}
	return domain.MessageTypeText
}

func typeFromKeyword(key string) (domain.MessageType, bool) {
	switch {
	case contains(imageTypes, key):
		return domain.MessageTypeImage, true
	case contains(audioTypes, key):
		return domain.MessageTypeAudio, true
	case contains(videoTypes, key):
		return domain.MessageTypeVideo, true
	case contains(documentTypes, key):
		return domain.MessageTypeDocument, true
	case contains(textTypes, key):
		return domain.MessageTypeText, true
	default:
		return "", false
	}
}

// inferMediaType reads the MIME prefix, then the URL suffix. Anything else
// is a document.
func inferMediaType(mimeType, rawURL string) domain.MessageType {
	switch m := strings.ToLower(mimeType); {
	case strings.HasPrefix(m, "image/"):
		return domain.MessageTypeImage
	case strings.HasPrefix(m, "audio/"):
		return domain.MessageTypeAudio
	case strings.HasPrefix(m, "video/"):
		return domain.MessageTypeVideo
	case m != "":
		return domain.MessageTypeDocument
	}
	if rawURL != "" {
		p := rawURL
		if u, err := url.Parse(rawURL); err == nil {
			p = u.Path
		}
		if t, ok := suffixTypes[strings.ToLower(path.Ext(p))]; ok {
			return t
		}
	}
	return domain.MessageTypeDocument
}

func normalizeQuoted(q *RawQuoted) *domain.QuotedMessage {
	if q == nil {
		return nil
	}
	id := strings.TrimSpace(q.SerializedID)
	if id == "" && q.ID != "" {
		id = fmt.Sprintf("%t_%s_%s", q.FromMe, q.Remote, q.ID)
	}
	if id == "" {
		return nil
	}
	kind := q.Type
	if t, ok := typeFromKeyword(strings.ToLower(q.Type)); ok {
		kind = string(t)
	}
	return &domain.QuotedMessage{
		ID:   id,
		Body: firstText(q.Body),
		From: q.From,
		Type: kind,
	}
}

func firstText(candidates ...string) string {
	for _, c := range candidates {
		c = strings.TrimSpace(c)
		if c != "" && !LooksLikeBase64(c) {
			return c
		}
	}
	return ""
}

// Base64 renditions of binary magic bytes.
var base64Signatures = []string{
	"/9j/",        // JPEG
	"iVBORw0KGgo", // PNG
	"R0lGOD",      // GIF
	"UklGR",       // WEBP and other RIFF
	"JVBERi0",     // PDF
	"T2dnUw",      // OGG
	"AAAAIGZ0eXA", // MP4
	"AAAAGGZ0eXA",
	"AAAAHGZ0eXA",
}

const (
	signatureMinLength = 100
	base64RunLength    = 500
)

// LooksLikeBase64 reports whether s is an encoded binary rather than text:
// it starts with a known signature and is longer than 100 chars, or it
// holds a run of 500+ base64 alphabet chars.
func LooksLikeBase64(s string) bool {
	if len(s) > signatureMinLength {
		for _, sig := range base64Signatures {
			if strings.HasPrefix(s, sig) {
				return true
			}
		}
	}
	if len(s) < base64RunLength {
		return false
	}
	run := 0
	for i := 0; i < len(s); i++ {
		if isBase64Char(s[i]) {
			run++
			if run >= base64RunLength {
				return true
			}
			continue
		}
		run = 0
	}
	return false
}

func isBase64Char(c byte) bool {
	return (c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9') ||
		c == '+' || c == '/' || c == '='
}

func contains(set map[string]struct{}, key string) bool {
	_, ok := set[key]
	return ok
}
