package webhook

import (
	"strings"
	"testing"

	"inbox_backend/internal/inbox/domain"
)

func TestLooksLikeBase64(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want bool
	}{
		{"plain text", "Bom dia! Tudo bem?", false},
		{"short jpeg prefix", "/9j/4AAQ", false},
		{"jpeg signature", "/9j/" + strings.Repeat("A", 120), true},
		{"png signature", "iVBORw0KGgo" + strings.Repeat("B", 100), true},
		{"pdf signature", "JVBERi0" + strings.Repeat("C", 100), true},
		{"mp4 signature", "AAAAIGZ0eXA" + strings.Repeat("D", 100), true},
		{"long alphabet run", strings.Repeat("QUJD", 130), true},
		{"long text with spaces", strings.Repeat("palavra ", 100), false},
		{"long url", "https://example.com/" + strings.Repeat("a.b/", 150), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := LooksLikeBase64(tt.in); got != tt.want {
				t.Fatalf("LooksLikeBase64 = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestExtractRejectsBase64Body(t *testing.T) {
	blob := "/9j/" + strings.Repeat("A", 600)

	got := Extract(RawMessage{Type: "image", Body: blob, HasMedia: true, MediaURL: "http://gw/file.jpg"})
	if got.Content != "" {
		t.Fatalf("base64 body must not become content, got %d chars", len(got.Content))
	}
	if got.Type != domain.MessageTypeImage || got.IsSystemMessage {
		t.Fatalf("unexpected extraction %+v", got)
	}

	got = Extract(RawMessage{Type: "chat", Body: blob})
	if !got.IsSystemMessage {
		t.Fatalf("text message with only base64 must be a system message")
	}
}

func TestExtractPrefersCaptionForMedia(t *testing.T) {
	got := Extract(RawMessage{Type: "image", Body: "thumbnail", Caption: "legenda", HasMedia: true})
	if got.Content != "legenda" {
		t.Fatalf("content = %q, want caption", got.Content)
	}
	got = Extract(RawMessage{Type: "chat", Body: "texto", Caption: "ignored"})
	if got.Content != "texto" || got.Type != domain.MessageTypeText {
		t.Fatalf("unexpected text extraction %+v", got)
	}
}

func TestExtractInfersTypeForGenericMedia(t *testing.T) {
	tests := []struct {
		name string
		msg  RawMessage
		want domain.MessageType
	}{
		{"mime prefix", RawMessage{Type: "chat", HasMedia: true, MimeType: "audio/ogg; codecs=opus"}, domain.MessageTypeAudio},
		{"url suffix", RawMessage{Type: "chat", HasMedia: true, MediaURL: "http://gw/files/x.MP4?sig=1"}, domain.MessageTypeVideo},
		{"unknown suffix", RawMessage{Type: "chat", HasMedia: true, MediaURL: "http://gw/files/x.pdf"}, domain.MessageTypeDocument},
		{"sticker", RawMessage{Type: "sticker", HasMedia: true}, domain.MessageTypeImage},
		{"voice note", RawMessage{Type: "ptt", HasMedia: true}, domain.MessageTypeAudio},
		{"evolution document", RawMessage{Type: "documentMessage", HasMedia: true}, domain.MessageTypeDocument},
		{"plain text", RawMessage{Type: "conversation", Body: "oi"}, domain.MessageTypeText},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Extract(tt.msg).Type; got != tt.want {
				t.Fatalf("type = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestExtractMarksEmptyEventsAsSystem(t *testing.T) {
	if got := Extract(RawMessage{Type: "chat"}); !got.IsSystemMessage {
		t.Fatalf("empty text event must be a system message")
	}
	if got := Extract(RawMessage{Type: "image", HasMedia: true}); got.IsSystemMessage {
		t.Fatalf("media without caption is not a system message")
	}
}

func TestExtractReconstructsQuotedID(t *testing.T) {
	got := Extract(RawMessage{Type: "chat", Body: "sim", Quoted: &RawQuoted{
		ID: "ABC", Remote: "5511999999999@c.us", FromMe: true, Body: "Confirma?", Type: "extendedTextMessage",
	}})
	want := domain.QuotedMessage{ID: "true_5511999999999@c.us_ABC", Body: "Confirma?", Type: "text"}
	if got.Quoted == nil || *got.Quoted != want {
		t.Fatalf("quoted = %+v, want %+v", got.Quoted, want)
	}

	got = Extract(RawMessage{Type: "chat", Body: "sim", Quoted: &RawQuoted{SerializedID: "false_x@c.us_Q"}})
	if got.Quoted == nil || got.Quoted.ID != "false_x@c.us_Q" {
		t.Fatalf("serialized id must be kept, got %+v", got.Quoted)
	}
}
