package media

import (
	"context"
	"encoding/base64"
	"errors"
	"strings"
	"testing"
	"time"

	"inbox_backend/internal/adapters/storage"
	"inbox_backend/internal/gateway"
	"inbox_backend/internal/inbox/domain"
	"inbox_backend/platform/logger"

	"github.com/google/uuid"
)

var pngBytes = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n', 0, 0, 0, 0x0d, 'I', 'H', 'D', 'R', 0, 0, 0, 1, 0, 0, 0, 1, 8, 6, 0, 0, 0}

var jpegBytes = []byte{0xff, 0xd8, 0xff, 0xe0, 0x00, 0x10, 'J', 'F', 'I', 'F', 0x00, 0x01}

func TestSniffExtension(t *testing.T) {
	tests := []struct {
		name     string
		data     []byte
		declared string
		want     string
	}{
		{"png magic", pngBytes, "", "png"},
		{"jpeg magic beats wrong declaration", jpegBytes, "application/pdf", "jpg"},
		{"declared type when bytes unknown", []byte{0x01, 0x02, 0x03}, "application/pdf", "pdf"},
		{"declared with parameters", []byte{0x01, 0x02, 0x03}, "audio/mpeg; charset=binary", "mp3"},
		{"unknown everything", []byte{0x01, 0x02, 0x03}, "", UnknownExtension},
		{"empty input", nil, "", UnknownExtension},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SniffExtension(tt.data, tt.declared); got != tt.want {
				t.Fatalf("SniffExtension = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRewriteLoopback(t *testing.T) {
	base := "https://waha.example.com:8443"
	tests := map[string]string{
		"http://localhost:3000/api/files/a.jpg?x=1": "https://waha.example.com:8443/api/files/a.jpg?x=1",
		"http://127.0.0.1/f.ogg":                    "https://waha.example.com:8443/f.ogg",
		"http://[::1]:3000/f.ogg":                   "https://waha.example.com:8443/f.ogg",
		"http://0.0.0.0:3000/f.ogg":                 "https://waha.example.com:8443/f.ogg",
		"https://mmg.whatsapp.net/f.enc":            "https://mmg.whatsapp.net/f.enc",
	}
	for in, want := range tests {
		if got := RewriteLoopback(in, base); got != want {
			t.Fatalf("RewriteLoopback(%q) = %q, want %q", in, got, want)
		}
	}
	if got := RewriteLoopback("http://localhost/x", ""); got != "http://localhost/x" {
		t.Fatalf("missing base must leave url unchanged, got %q", got)
	}
}

func TestDecodeBase64(t *testing.T) {
	raw := base64.StdEncoding.EncodeToString(pngBytes)
	for _, in := range []string{raw, "data:image/png;base64," + raw, strings.TrimRight(raw, "=")} {
		data, err := DecodeBase64(in)
		if err != nil || len(data) != len(pngBytes) {
			t.Fatalf("DecodeBase64(%q...) failed: %v", in[:10], err)
		}
	}
	if _, err := DecodeBase64("not base64!!"); err == nil {
		t.Fatalf("expected error for invalid input")
	}
}

type fakeFetcher struct {
	calls     []string
	downloads map[string][]byte
	payload   gateway.MediaPayload
	fetchErr  error
}

func (f *fakeFetcher) Download(_ context.Context, _ domain.Instance, rawURL string, _ int64) (gateway.Download, error) {
	f.calls = append(f.calls, "download:"+rawURL)
	data, ok := f.downloads[rawURL]
	if !ok {
		return gateway.Download{}, gateway.ErrNotFound
	}
	return gateway.Download{Data: data}, nil
}

func (f *fakeFetcher) FetchMessageMedia(_ context.Context, _ domain.Instance, _, messageID string, _ int64) (gateway.MediaPayload, error) {
	f.calls = append(f.calls, "fetch:"+messageID)
	return f.payload, f.fetchErr
}

func newPipeline(f Fetcher, store storage.StorageService) *Pipeline {
	p := NewPipeline(f, store, "inbox-media", time.Second, logger.Nop())
	p.now = func() time.Time { return time.UnixMilli(1700000000000) }
	return p
}

func TestStoreUsesEventURLFirst(t *testing.T) {
	fetcher := &fakeFetcher{downloads: map[string][]byte{"https://gw.example.com/f.png": pngBytes}}
	store := storage.NewMemoryService(1 << 20)
	leadID := uuid.New()

	got, err := newPipeline(fetcher, store).Store(context.Background(), Source{
		Instance:  domain.Instance{BaseURL: "https://gw.example.com"},
		LeadID:    leadID,
		MessageID: "ABC",
		URL:       "http://localhost:3000/f.png",
		Base64:    base64.StdEncoding.EncodeToString(jpegBytes),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	wantKey := "leads/" + leadID.String() + "/1700000000000.png"
	if got.Ref != "storage://inbox-media/"+wantKey || got.MimeType != "image/png" {
		t.Fatalf("unexpected stored %+v", got)
	}
	if _, ok := store.Object("inbox-media", wantKey); !ok {
		t.Fatalf("object not uploaded under %s", wantKey)
	}
	if len(fetcher.calls) != 1 {
		t.Fatalf("later sources must not run after success: %v", fetcher.calls)
	}
}

func TestStoreFallsBackInOrder(t *testing.T) {
	fetcher := &fakeFetcher{
		downloads: map[string][]byte{"https://gw.example.com/fetched.jpg": jpegBytes},
		payload:   gateway.MediaPayload{URL: "http://127.0.0.1:3000/fetched.jpg"},
	}
	store := storage.NewMemoryService(1 << 20)

	got, err := newPipeline(fetcher, store).Store(context.Background(), Source{
		Instance:  domain.Instance{BaseURL: "https://gw.example.com"},
		LeadID:    uuid.New(),
		MessageID: "ABC",
		URL:       "https://expired.example.com/f.jpg",
		Base64:    "%%%not-base64%%%",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.HasSuffix(got.Ref, ".jpg") {
		t.Fatalf("unexpected ref %q", got.Ref)
	}
	want := []string{"download:https://expired.example.com/f.jpg", "fetch:ABC", "download:https://gw.example.com/fetched.jpg"}
	if strings.Join(fetcher.calls, "|") != strings.Join(want, "|") {
		t.Fatalf("unexpected acquisition order %v", fetcher.calls)
	}
}

func TestStoreInlineBase64(t *testing.T) {
	store := storage.NewMemoryService(1 << 20)
	got, err := newPipeline(&fakeFetcher{}, store).Store(context.Background(), Source{
		LeadID: uuid.New(),
		Base64: "data:image/png;base64," + base64.StdEncoding.EncodeToString(pngBytes),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.HasSuffix(got.Ref, ".png") || store.Len() != 1 {
		t.Fatalf("unexpected result %+v", got)
	}
}

func TestStoreDegradesWithoutSources(t *testing.T) {
	fetcher := &fakeFetcher{fetchErr: errors.New("gateway down")}
	_, err := newPipeline(fetcher, storage.NewMemoryService(1<<20)).Store(context.Background(), Source{
		LeadID:    uuid.New(),
		MessageID: "ABC",
	})
	if !errors.Is(err, ErrNoMedia) {
		t.Fatalf("expected ErrNoMedia, got %v", err)
	}

	_, err = newPipeline(fetcher, nil).Store(context.Background(), Source{LeadID: uuid.New()})
	if !errors.Is(err, ErrStorageDisabled) {
		t.Fatalf("expected ErrStorageDisabled, got %v", err)
	}
}

func TestDiscardRemovesStoredObject(t *testing.T) {
	store := storage.NewMemoryService(1 << 20)
	p := newPipeline(&fakeFetcher{}, store)

	got, err := p.Store(context.Background(), Source{
		LeadID: uuid.New(),
		Base64: base64.StdEncoding.EncodeToString(pngBytes),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := p.Discard(context.Background(), got.Ref); err != nil {
		t.Fatalf("discard failed: %v", err)
	}
	if store.Len() != 0 {
		t.Fatalf("expected the object to be removed, %d left", store.Len())
	}
	if err := p.Discard(context.Background(), "https://cdn.example.com/a.png"); err == nil {
		t.Fatalf("expected an error for a non-storage locator")
	}
}
