package document

import (
	"encoding/json"
	"time"
)

// Descriptor is what callers get back for a stored document. Extension and
// ContentType are always derived, never set independently.
type Descriptor struct {
	Key         string    `json:"fileKey"`
	DisplayName string    `json:"fileName"`
	Extension   string    `json:"fileType"`
	ContentType string    `json:"contentType"`
	URL         string    `json:"fileUrl"`
	CreatedAt   time.Time `json:"-"`
}

func newDescriptor(key, displayName, ext string, createdAt time.Time) *Descriptor {
	return &Descriptor{
		Key:         key,
		DisplayName: displayName,
		Extension:   ext,
		ContentType: ContentType(ext),
		CreatedAt:   createdAt,
	}
}

// ObjectName is the store key this descriptor lives under.
func (d *Descriptor) ObjectName() string {
	return ObjectName(d.Key, d.Extension)
}

// MarshalJSON adds uploadTime (unix millis, 0 when unknown) and a formatted
// copy for display.
func (d Descriptor) MarshalJSON() ([]byte, error) {
	type plain Descriptor
	out := struct {
		plain
		UploadTime          int64  `json:"uploadTime"`
		UploadTimeFormatted string `json:"uploadTimeFormatted,omitempty"`
	}{plain: plain(d)}

	if !d.CreatedAt.IsZero() {
		out.UploadTime = d.CreatedAt.UnixMilli()
		out.UploadTimeFormatted = d.CreatedAt.Format(time.DateTime)
	}
	return json.Marshal(out)
}
