package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
	"time"
)

// MemoryObject is one object held by MemoryService.
type MemoryObject struct {
	ContentType string
	Data        []byte
}

// MemoryService is an in-process StorageService for tests and local runs
// without MinIO.
type MemoryService struct {
	mu          sync.Mutex
	objects     map[string]MemoryObject
	maxFileSize int64
}

func NewMemoryService(maxFileSize int64) *MemoryService {
	return &MemoryService{objects: make(map[string]MemoryObject), maxFileSize: maxFileSize}
}

func (s *MemoryService) PutObject(_ context.Context, bucket, key, contentType string, reader io.Reader, size int64) error {
	if err := validateSize(size, s.maxFileSize); err != nil {
		return err
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[bucket+"/"+key] = MemoryObject{ContentType: contentType, Data: bytes.Clone(data)}
	return nil
}

func (s *MemoryService) RemoveObject(_ context.Context, bucket, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, bucket+"/"+key)
	return nil
}

func (s *MemoryService) GenerateDownloadURL(_ context.Context, bucket, fileKey string) (*PresignedURL, error) {
	s.mu.Lock()
	_, ok := s.objects[bucket+"/"+fileKey]
	s.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("object %s/%s not found", bucket, fileKey)
	}
	return &PresignedURL{
		URL:       fmt.Sprintf("memory://%s/%s", bucket, fileKey),
		FileKey:   fileKey,
		ExpiresAt: time.Now().Add(PresignedURLTTL),
	}, nil
}

func (s *MemoryService) EnsureBucketExists(context.Context, string) error { return nil }

func (s *MemoryService) ValidateFileSize(sizeBytes int64) error {
	return validateSize(sizeBytes, s.maxFileSize)
}

func (s *MemoryService) GetMaxFileSize() int64 { return s.maxFileSize }

// Object returns a stored object by bucket and key.
func (s *MemoryService) Object(bucket, key string) (MemoryObject, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	obj, ok := s.objects[bucket+"/"+key]
	return obj, ok
}

// Len returns the number of stored objects.
func (s *MemoryService) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.objects)
}
