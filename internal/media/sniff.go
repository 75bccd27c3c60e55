package media

import (
	"mime"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// UnknownExtension is used when neither the bytes nor the declared type say
// what a file is.
const UnknownExtension = "bin"

const genericMIME = "application/octet-stream"

// SniffMIME classifies data by its magic bytes. When the bytes are not
// recognized it falls back to declared, then to application/octet-stream.
func SniffMIME(data []byte, declared string) string {
	detected := mimetype.Detect(data)
	if detected != nil && !isGeneric(detected.String()) {
		return baseType(detected.String())
	}
	if d := baseType(declared); d != "" {
		return d
	}
	return genericMIME
}

// SniffExtension returns a file extension without the leading dot. It never
// fails: unrecognized content yields UnknownExtension.
func SniffExtension(data []byte, declared string) string {
	detected := mimetype.Detect(data)
	if detected != nil && !isGeneric(detected.String()) && detected.Extension() != "" {
		return strings.TrimPrefix(detected.Extension(), ".")
	}
	if ext := extensionForMIME(baseType(declared)); ext != "" {
		return ext
	}
	return UnknownExtension
}

func extensionForMIME(m string) string {
	if m == "" || m == genericMIME {
		return ""
	}
	if known := mimetype.Lookup(m); known != nil && known.Extension() != "" {
		return strings.TrimPrefix(known.Extension(), ".")
	}
	if exts, err := mime.ExtensionsByType(m); err == nil && len(exts) > 0 {
		return strings.TrimPrefix(exts[0], ".")
	}
	return ""
}

// isGeneric reports detections that carry no information beyond "some bytes"
// or "some text".
func isGeneric(m string) bool {
	b := baseType(m)
	return b == genericMIME || b == "text/plain"
}

func baseType(m string) string {
	m, _, _ = strings.Cut(m, ";")
	return strings.ToLower(strings.TrimSpace(m))
}
