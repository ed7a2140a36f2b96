// Package ingest turns uploaded files into text that can be placed in a
// prompt: page text for documents, base64 PNG for images.
package ingest

import (
	"errors"
	"fmt"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

type Type string

const (
	TypeDocument Type = "document"
	TypeImage    Type = "image"
)

var (
	ErrUnsupportedType = errors.New("unsupported file type")
	ErrEmptyFile       = errors.New("empty file")
)

// Error reports a file that could not be parsed as its declared type.
type Error struct {
	Type Type
	MIME string
	Err  error
}

func (e *Error) Error() string {
	if e.MIME != "" {
		return fmt.Sprintf("ingest %s (%s): %v", e.Type, e.MIME, e.Err)
	}
	return fmt.Sprintf("ingest %s: %v", e.Type, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// ParseType maps a declared upload type to a Type. "pdf" is accepted as a
// document alias.
func ParseType(s string) (Type, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "document", "pdf":
		return TypeDocument, nil
	case "image":
		return TypeImage, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedType, s)
}

// Ingest extracts prompt content from data.
func Ingest(data []byte, t Type) (string, error) {
	if t != TypeDocument && t != TypeImage {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedType, string(t))
	}
	if len(data) == 0 {
		return "", &Error{Type: t, Err: ErrEmptyFile}
	}
	mime := mimetype.Detect(data)
	switch t {
	case TypeDocument:
		if !mime.Is("application/pdf") {
			return "", &Error{Type: t, MIME: mime.String(), Err: errors.New("not a PDF document")}
		}
		text, err := extractText(data)
		if err != nil {
			return "", &Error{Type: t, MIME: mime.String(), Err: err}
		}
		return text, nil
	default:
		enc, err := encodeImage(data)
		if err != nil {
			return "", &Error{Type: t, MIME: mime.String(), Err: err}
		}
		return enc, nil
	}
}

// Detect returns the sniffed MIME type of data.
func Detect(data []byte) string {
	return mimetype.Detect(data).String()
}
