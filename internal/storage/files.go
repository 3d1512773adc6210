package storage

import (
	"errors"
	"path"
	"strings"
	"time"
	"unicode"
)

// ErrNotFound is returned when an object does not exist.
var ErrNotFound = errors.New("storage: object not found")

// ErrUnsupportedType is returned for uploads outside the supported document types.
var ErrUnsupportedType = errors.New("storage: unsupported file type")

// Object metadata keys. S3 lowercases user metadata names.
const (
	MetaTitle       = "title"
	MetaDescription = "description"
	MetaPrice       = "price"
	MetaPages       = "pages"
	MetaTopics      = "topics"
	MetaFileType    = "filetype"
)

// Metadata length caps applied on upload.
var metadataLimits = map[string]int{
	MetaTitle:       200,
	MetaDescription: 500,
	MetaPrice:       20,
	MetaPages:       10,
	MetaTopics:      500,
}

var contentTypes = map[string]string{
	".pdf":  "application/pdf",
	".ppt":  "application/vnd.ms-powerpoint",
	".pptx": "application/vnd.openxmlformats-officedocument.presentationml.presentation",
	".doc":  "application/msword",
	".docx": "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	".xls":  "application/vnd.ms-excel",
	".xlsx": "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
}

// Object describes a stored file.
type Object struct {
	Key          string
	Name         string
	Size         int64
	LastModified time.Time
	ContentType  string
	Metadata     map[string]string
}

// Meta returns a metadata value regardless of the case the backend used.
func (o Object) Meta(name string) string {
	if v, ok := o.Metadata[name]; ok {
		return v
	}
	for k, v := range o.Metadata {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return ""
}

// FileType returns the recorded file type, falling back to the content type.
func (o Object) FileType() string {
	if ft := o.Meta(MetaFileType); ft != "" {
		return ft
	}
	return o.ContentType
}

// IsSupported reports whether name has a supported document extension.
func IsSupported(name string) bool {
	_, ok := contentTypes[strings.ToLower(path.Ext(name))]
	return ok
}

// ContentTypeFor maps a file name to its document content type.
func ContentTypeFor(name string) (string, bool) {
	ct, ok := contentTypes[strings.ToLower(path.Ext(name))]
	return ct, ok
}

// SupportedExtensions lists the accepted extensions, for error messages.
func SupportedExtensions() []string {
	return []string{".pdf", ".ppt", ".pptx", ".doc", ".docx", ".xls", ".xlsx"}
}

// SanitizeMetadata makes value safe to carry in an object metadata header:
// whitespace controls become spaces, other non-printable or non-ASCII runes
// are dropped, and the result is trimmed and capped at limit bytes.
func SanitizeMetadata(value string, limit int) string {
	var b strings.Builder
	for _, r := range value {
		switch {
		case r == '\r' || r == '\n' || r == '\t':
			b.WriteByte(' ')
		case r >= 0x20 && r <= 0x7e:
			b.WriteRune(r)
		}
	}
	out := strings.TrimSpace(b.String())
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// SanitizeAll applies the per-field caps to an upload's metadata.
func SanitizeAll(md map[string]string) map[string]string {
	out := make(map[string]string, len(md))
	for k, v := range md {
		key := strings.ToLower(k)
		out[key] = SanitizeMetadata(v, metadataLimits[key])
	}
	return out
}

// SafeName reduces a client file name to its base name with only letters,
// digits, dot, dash and underscore.
func SafeName(name string) string {
	base := path.Base(strings.ReplaceAll(name, "\\", "/"))
	var b strings.Builder
	for _, r := range base {
		switch {
		case r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)):
			b.WriteRune(r)
		case r == '.' || r == '-' || r == '_':
			b.WriteRune(r)
		case unicode.IsSpace(r):
			b.WriteByte('_')
		}
	}
	out := strings.Trim(b.String(), ".")
	if out == "" {
		return "file"
	}
	return out
}

func baseName(key string) string {
	if i := strings.LastIndex(key, "/"); i >= 0 {
		return key[i+1:]
	}
	return key
}
