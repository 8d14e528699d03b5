package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"
)

const (
	KindWardrobe = "wardrobe"
	KindAvatar   = "avatar"
)

// Asset is a derived image that reached the upload collaborator.
type Asset struct {
	ID         string
	Kind       string
	SourceName string
	SourceHash string
	ObjectKey  string
	URL        string
	MIMEType   string
	Width      int
	Height     int
	Bytes      int64
	CreatedAt  time.Time
}

func (a Asset) Validate() error {
	if strings.TrimSpace(a.ID) == "" {
		return errors.New("id is required")
	}
	if a.Kind != KindWardrobe && a.Kind != KindAvatar {
		return fmt.Errorf("unsupported kind: %s", a.Kind)
	}
	if strings.TrimSpace(a.SourceHash) == "" {
		return errors.New("source_hash is required")
	}
	if strings.TrimSpace(a.ObjectKey) == "" {
		return errors.New("object_key is required")
	}
	if a.Width <= 0 || a.Height <= 0 {
		return fmt.Errorf("invalid dimensions %dx%d", a.Width, a.Height)
	}
	if a.Bytes <= 0 {
		return errors.New("bytes must be positive")
	}
	return nil
}

// HashSource identifies an original upload by content.
func HashSource(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// ObjectKey is where the derived asset of a source is stored.
func ObjectKey(kind, sourceHash, mimeType string) string {
	return path.Join(kind, sourceHash+extensionFor(mimeType))
}

func extensionFor(mimeType string) string {
	switch mimeType {
	case "image/png":
		return ".png"
	case "image/gif":
		return ".gif"
	default:
		return ".jpg"
	}
}
