package storage

import (
	"bytes"
	"context"
	"testing"
)

func TestValidateSize(t *testing.T) {
	tests := []struct {
		name    string
		size    int64
		max     int64
		wantErr bool
	}{
		{"within cap", 10, 100, false},
		{"at cap", 100, 100, false},
		{"over cap", 101, 100, true},
		{"empty", 0, 100, true},
		{"unknown size", -1, 100, false},
		{"no cap", 1 << 30, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := validateSize(tt.size, tt.max); (err != nil) != tt.wantErr {
				t.Fatalf("validateSize(%d, %d) err = %v", tt.size, tt.max, err)
			}
		})
	}
}

func TestInlineDispositionUsesKeyBaseName(t *testing.T) {
	if got := inlineDisposition("leads/abc/1700000000000.jpg"); got != "inline; filename=1700000000000.jpg" {
		t.Fatalf("disposition = %q", got)
	}
}

func TestMemoryServiceRoundTrip(t *testing.T) {
	svc := NewMemoryService(1024)
	ctx := context.Background()
	data := []byte("%PDF-1.4")

	if err := svc.PutObject(ctx, "inbox-media", "leads/x/1.pdf", "application/pdf", bytes.NewReader(data), int64(len(data))); err != nil {
		t.Fatalf("put: %v", err)
	}
	obj, ok := svc.Object("inbox-media", "leads/x/1.pdf")
	if !ok || obj.ContentType != "application/pdf" || !bytes.Equal(obj.Data, data) {
		t.Fatalf("stored object = %+v ok=%v", obj, ok)
	}
	url, err := svc.GenerateDownloadURL(ctx, "inbox-media", "leads/x/1.pdf")
	if err != nil || url.FileKey != "leads/x/1.pdf" {
		t.Fatalf("presign = %+v err=%v", url, err)
	}
	if _, err := svc.GenerateDownloadURL(ctx, "inbox-media", "missing"); err == nil {
		t.Fatalf("expected error for a missing object")
	}
	if err := svc.PutObject(ctx, "inbox-media", "big", "", bytes.NewReader(make([]byte, 2048)), 2048); err == nil {
		t.Fatalf("expected size cap to reject the upload")
	}
}
