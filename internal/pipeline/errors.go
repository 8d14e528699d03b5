package pipeline

import (
	"errors"
	"fmt"
)

type Code string

const (
	CodeLoadFailed           Code = "LOAD_FAILED"
	CodeInvalidFormat        Code = "INVALID_FORMAT"
	CodeCanvasCreationFailed Code = "CANVAS_CREATION_FAILED"
	CodeBlobCreationFailed   Code = "BLOB_CREATION_FAILED"
	CodeFileTooLarge         Code = "FILE_TOO_LARGE"
	CodeUnsupportedType      Code = "UNSUPPORTED_TYPE"
)

const fallbackUserMessage = "Failed to process image"

var userMessages = map[Code]string{
	CodeLoadFailed:           "Failed to load image",
	CodeInvalidFormat:        "Invalid image format",
	CodeCanvasCreationFailed: "Failed to create image canvas",
	CodeBlobCreationFailed:   "Failed to create image data",
	CodeFileTooLarge:         "Image file is too large",
	CodeUnsupportedType:      "Unsupported image type",
}

// ProcessingError is the single error type surfaced by the pipeline. Message
// is for logs; end users get UserMessage(Code).
type ProcessingError struct {
	Code    Code
	Message string
	Err     error
}

func (e *ProcessingError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *ProcessingError) Unwrap() error {
	return e.Err
}

func newError(code Code, message string, err error) *ProcessingError {
	return &ProcessingError{Code: code, Message: message, Err: err}
}

// CodeOf returns the code of the first ProcessingError in err's chain.
func CodeOf(err error) (Code, bool) {
	var pe *ProcessingError
	if errors.As(err, &pe) {
		return pe.Code, true
	}
	return "", false
}

// IsRetryable reports whether err is a transient pipeline failure.
func IsRetryable(err error) bool {
	code, ok := CodeOf(err)
	if !ok {
		return false
	}
	switch code {
	case CodeLoadFailed, CodeBlobCreationFailed:
		return true
	default:
		return false
	}
}

// UserMessage maps a code to its fixed user-facing text.
func UserMessage(code Code) string {
	if msg, ok := userMessages[code]; ok {
		return msg
	}
	return fallbackUserMessage
}

// UserMessageFor never exposes internal error text.
func UserMessageFor(err error) string {
	code, ok := CodeOf(err)
	if !ok {
		return fallbackUserMessage
	}
	return UserMessage(code)
}
