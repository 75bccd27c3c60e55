package storage

import "fmt"

// ValidateFileSize checks if the file size is within limits.
func (s *MinIOService) ValidateFileSize(sizeBytes int64) error {
	return validateSize(sizeBytes, s.maxFileSize)
}

// validateSize rejects empty objects and objects above the cap. A negative
// size means unknown and is left to the upload to enforce.
func validateSize(sizeBytes, maxFileSize int64) error {
	if sizeBytes == 0 {
		return fmt.Errorf("object is empty")
	}
	if maxFileSize > 0 && sizeBytes > maxFileSize {
		return fmt.Errorf("object size %d bytes exceeds maximum of %d bytes", sizeBytes, maxFileSize)
	}
	return nil
}
