package service

import (
	"context"
	"errors"

	"inbox_backend/internal/adapters/storage"
	"inbox_backend/internal/inbox/domain"
	"inbox_backend/internal/inbox/repository"
	"inbox_backend/platform/apperr"

	"github.com/google/uuid"
)

// MediaLinks mints short-lived download URLs for stored message media.
type MediaLinks struct {
	messages repository.MessageStore
	storage  storage.StorageService
}

func NewMediaLinks(messages repository.MessageStore, storageSvc storage.StorageService) *MediaLinks {
	return &MediaLinks{messages: messages, storage: storageSvc}
}

// DownloadURL returns a presigned URL for the media of a tenant's message.
func (l *MediaLinks) DownloadURL(ctx context.Context, tenantID, messageID uuid.UUID) (*storage.PresignedURL, error) {
	if l.storage == nil {
		return nil, apperr.Unavailable("media storage is not configured")
	}
	msg, err := l.messages.GetMessage(ctx, tenantID, messageID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperr.NotFound("message not found")
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "load message", err)
	}
	if !msg.HasMedia() {
		return nil, apperr.NotFound("message has no media")
	}

	bucket, key, ok := domain.ParseStorageLocator(*msg.MediaRef)
	if !ok {
		return nil, apperr.Internal("invalid media reference")
	}
	url, err := l.storage.GenerateDownloadURL(ctx, bucket, key)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindUnavailable, "media storage unavailable", err)
	}
	return url, nil
}
