package pipeline

import (
	"fmt"
	"slices"
	"strings"
)

const (
	MaxAvatarFileSize   = 5 << 20
	MaxWardrobeFileSize = 10 << 20

	MIMEJPEG = "image/jpeg"
	MIMEPNG  = "image/png"
	MIMEGIF  = "image/gif"
	MIMEWEBP = "image/webp"
	MIMEHEIF = "image/heif"
)

// AcceptedImageTypes is the allow-list for avatar uploads.
var AcceptedImageTypes = []string{MIMEJPEG, MIMEPNG, MIMEGIF}

// File is an image handed to the pipeline by its caller.
type File struct {
	Name string
	Type string
	Data []byte
}

func (f File) Size() int64 {
	return int64(len(f.Data))
}

// Limits are the validation rules applied before any decode is attempted.
type Limits struct {
	MaxFileSize   int64
	AcceptedTypes []string
}

func AvatarLimits() Limits {
	return Limits{
		MaxFileSize:   MaxAvatarFileSize,
		AcceptedTypes: AcceptedImageTypes,
	}
}

func WardrobeLimits() Limits {
	return Limits{
		MaxFileSize:   MaxWardrobeFileSize,
		AcceptedTypes: []string{MIMEJPEG, MIMEPNG, MIMEGIF, MIMEWEBP, MIMEHEIF},
	}
}

// Validate checks size first, then type. It never touches the pixel data.
func (l Limits) Validate(f File) error {
	maxSize := l.MaxFileSize
	if maxSize <= 0 {
		maxSize = MaxWardrobeFileSize
	}
	if f.Size() > maxSize {
		return newError(
			CodeFileTooLarge,
			fmt.Sprintf("file size exceeds maximum limit of %dMB", maxSize>>20),
			nil,
		)
	}

	mimeType := normalizeMIME(f.Type)
	if !strings.HasPrefix(mimeType, "image/") {
		return newError(CodeUnsupportedType, "file is not an image", nil)
	}
	if len(l.AcceptedTypes) > 0 && !slices.Contains(l.AcceptedTypes, mimeType) {
		return newError(CodeUnsupportedType, fmt.Sprintf("image type %q is not accepted", mimeType), nil)
	}
	return nil
}

func normalizeMIME(mimeType string) string {
	mimeType = strings.ToLower(strings.TrimSpace(mimeType))
	if i := strings.IndexByte(mimeType, ';'); i >= 0 {
		mimeType = strings.TrimSpace(mimeType[:i])
	}
	switch mimeType {
	case "image/jpg", "image/pjpeg":
		return MIMEJPEG
	case "image/heic":
		return MIMEHEIF
	default:
		return mimeType
	}
}
