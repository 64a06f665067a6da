package document

import (
	"strings"

	"github.com/google/uuid"
)

// MIME types for the formats the editor round-trips.
const (
	MIMEWord         = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	MIMESpreadsheet  = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	MIMEPresentation = "application/vnd.openxmlformats-officedocument.presentationml.presentation"
	MIMEPDF          = "application/pdf"
	MIMEDefault      = "application/octet-stream"
)

// NewKey returns a fresh document key: a random UUID as 32 lowercase hex
// characters. It never looks at the filename or the content.
func NewKey() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// BaseName strips any directory part from a client-supplied filename,
// treating both slash and backslash as separators.
func BaseName(filename string) string {
	if i := strings.LastIndexAny(filename, `/\`); i >= 0 {
		filename = filename[i+1:]
	}
	return strings.TrimSpace(filename)
}

// Extension returns the part of filename after the last dot, exactly as
// given, or "" when there is no dot.
func Extension(filename string) string {
	i := strings.LastIndexByte(filename, '.')
	if i < 0 {
		return ""
	}
	return filename[i+1:]
}

// ContentType maps an extension to its MIME type. Unknown extensions map to
// MIMEDefault, so the result is never empty.
func ContentType(ext string) string {
	switch strings.ToLower(ext) {
	case "docx":
		return MIMEWord
	case "xlsx":
		return MIMESpreadsheet
	case "pptx":
		return MIMEPresentation
	case "pdf":
		return MIMEPDF
	default:
		return MIMEDefault
	}
}

// ObjectName is the store key for a document: "{key}.{ext}", or just the key
// when there is no extension.
func ObjectName(key, ext string) string {
	if ext == "" {
		return key
	}
	return key + "." + ext
}

// SplitObjectName recovers the document key and extension from a stored
// object name. A leading dot is part of the key, not an extension separator.
func SplitObjectName(name string) (key, ext string) {
	i := strings.LastIndexByte(name, '.')
	if i <= 0 {
		return name, ""
	}
	return name[:i], name[i+1:]
}
