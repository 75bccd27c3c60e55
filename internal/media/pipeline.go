// Package media acquires message media from wherever the gateway put it,
// stores it in object storage under a per-lead key and returns an internal
// storage locator. Public URLs are never persisted.
package media

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"inbox_backend/internal/adapters/storage"
	"inbox_backend/internal/gateway"
	"inbox_backend/internal/inbox/domain"
	"inbox_backend/platform/logger"

	"github.com/google/uuid"
)

var (
	// ErrNoMedia means no acquisition source produced any bytes.
	ErrNoMedia = errors.New("media: no source produced content")
	// ErrStorageDisabled means object storage is not configured.
	ErrStorageDisabled = errors.New("media: object storage not configured")
)

// Fetcher is the part of the gateway client the pipeline uses.
type Fetcher interface {
	Download(ctx context.Context, inst domain.Instance, rawURL string, maxBytes int64) (gateway.Download, error)
	FetchMessageMedia(ctx context.Context, inst domain.Instance, chatID, messageID string, maxBytes int64) (gateway.MediaPayload, error)
}

// Source describes where a message's media might be found.
type Source struct {
	Instance  domain.Instance
	LeadID    uuid.UUID
	ChatID    string
	MessageID string
	URL       string
	Base64    string
	MimeType  string
	FileName  string
}

// Stored is the result of a successful upload.
type Stored struct {
	Ref      string
	MimeType string
	Size     int64
}

type Pipeline struct {
	fetcher        Fetcher
	store          storage.StorageService
	bucket         string
	maxBytes       int64
	storageTimeout time.Duration
	log            *logger.Logger
	now            func() time.Time
}

// NewPipeline wires the pipeline. store may be nil, in which case Store
// always returns ErrStorageDisabled.
func NewPipeline(fetcher Fetcher, store storage.StorageService, bucket string, storageTimeout time.Duration, log *logger.Logger) *Pipeline {
	var maxBytes int64
	if store != nil {
		maxBytes = store.GetMaxFileSize()
	}
	return &Pipeline{
		fetcher:        fetcher,
		store:          store,
		bucket:         bucket,
		maxBytes:       maxBytes,
		storageTimeout: storageTimeout,
		log:            log.WithComponent("media"),
		now:            time.Now,
	}
}

// Discard removes media previously returned by Store. It is used when the
// upload ends up attached to no message.
func (p *Pipeline) Discard(ctx context.Context, ref string) error {
	if p.store == nil {
		return ErrStorageDisabled
	}
	bucket, key, ok := domain.ParseStorageLocator(ref)
	if !ok {
		return fmt.Errorf("discard media: invalid locator %q", ref)
	}
	ctx, cancel := context.WithTimeout(ctx, p.storageTimeout)
	defer cancel()
	return p.store.RemoveObject(ctx, bucket, key)
}

type acquired struct {
	data     []byte
	mimeType string
	via      string
}

// Store acquires the media described by src and uploads it. Acquisition tries
// the event URL, then inline base64, then a fetch-by-message-id through the
// gateway; each failure is logged and the next source is tried.
func (p *Pipeline) Store(ctx context.Context, src Source) (Stored, error) {
	if p.store == nil {
		return Stored{}, ErrStorageDisabled
	}

	got, err := p.acquire(ctx, src)
	if err != nil {
		return Stored{}, err
	}

	mimeType := SniffMIME(got.data, firstNonEmpty(src.MimeType, got.mimeType))
	ext := SniffExtension(got.data, mimeType)
	key := fmt.Sprintf("leads/%s/%d.%s", src.LeadID, p.now().UnixMilli(), ext)

	uploadCtx, cancel := context.WithTimeout(ctx, p.storageTimeout)
	defer cancel()
	if err := p.store.PutObject(uploadCtx, p.bucket, key, mimeType, bytes.NewReader(got.data), int64(len(got.data))); err != nil {
		return Stored{}, fmt.Errorf("upload media: %w", err)
	}

	p.log.Info("media: stored",
		slog.String("lead_id", src.LeadID.String()),
		slog.String("key", key),
		slog.String("mime_type", mimeType),
		slog.String("via", got.via),
		slog.Int("size", len(got.data)),
	)
	return Stored{Ref: domain.StorageLocator(p.bucket, key), MimeType: mimeType, Size: int64(len(got.data))}, nil
}

func (p *Pipeline) acquire(ctx context.Context, src Source) (acquired, error) {
	if src.URL != "" {
		got, err := p.download(ctx, src.Instance, src.URL)
		if err == nil {
			got.via = "event_url"
			return got, nil
		}
		p.log.Warn("media: event url failed", slog.String("error", err.Error()))
	}

	if src.Base64 != "" {
		data, err := DecodeBase64(src.Base64)
		if err == nil && p.withinLimit(len(data)) {
			return acquired{data: data, mimeType: src.MimeType, via: "inline_base64"}, nil
		}
		if err == nil {
			err = gateway.ErrResponseTooLarge
		}
		p.log.Warn("media: inline base64 unusable", slog.String("error", err.Error()))
	}

	if src.MessageID != "" && p.fetcher != nil {
		payload, err := p.fetcher.FetchMessageMedia(ctx, src.Instance, src.ChatID, src.MessageID, p.maxBytes)
		if err == nil {
			got, err := p.fromPayload(ctx, src.Instance, payload)
			if err == nil {
				got.via = "gateway_fetch"
				return got, nil
			}
			p.log.Warn("media: gateway payload unusable", slog.String("error", err.Error()))
		} else {
			p.log.Warn("media: gateway fetch failed", slog.String("error", err.Error()))
		}
	}

	return acquired{}, ErrNoMedia
}

func (p *Pipeline) fromPayload(ctx context.Context, inst domain.Instance, payload gateway.MediaPayload) (acquired, error) {
	if payload.URL != "" {
		got, err := p.download(ctx, inst, payload.URL)
		if err == nil {
			if got.mimeType == "" {
				got.mimeType = payload.MimeType
			}
			return got, nil
		}
		if payload.Base64 == "" {
			return acquired{}, err
		}
	}
	data, err := DecodeBase64(payload.Base64)
	if err != nil {
		return acquired{}, err
	}
	if !p.withinLimit(len(data)) {
		return acquired{}, gateway.ErrResponseTooLarge
	}
	return acquired{data: data, mimeType: payload.MimeType}, nil
}

func (p *Pipeline) download(ctx context.Context, inst domain.Instance, rawURL string) (acquired, error) {
	if p.fetcher == nil {
		return acquired{}, errors.New("no fetcher configured")
	}
	dl, err := p.fetcher.Download(ctx, inst, RewriteLoopback(rawURL, inst.BaseURL), p.maxBytes)
	if err != nil {
		return acquired{}, err
	}
	return acquired{data: dl.Data, mimeType: dl.ContentType}, nil
}

func (p *Pipeline) withinLimit(n int) bool {
	return n > 0 && (p.maxBytes <= 0 || int64(n) <= p.maxBytes)
}

// DecodeBase64 decodes standard or URL-safe base64, padded or not, tolerating
// a data-URI prefix and embedded whitespace.
func DecodeBase64(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "data:") {
		if _, payload, ok := strings.Cut(s, ","); ok {
			s = payload
		}
	}
	s = strings.Map(func(r rune) rune {
		if r == '\n' || r == '\r' || r == ' ' || r == '\t' {
			return -1
		}
		return r
	}, s)
	if s == "" {
		return nil, errors.New("empty base64 payload")
	}

	for _, enc := range []*base64.Encoding{base64.StdEncoding, base64.RawStdEncoding, base64.URLEncoding, base64.RawURLEncoding} {
		if data, err := enc.DecodeString(s); err == nil {
			return data, nil
		}
	}
	return nil, errors.New("invalid base64 payload")
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
