package callback

import (
	"bytes"
	"encoding/json"
	"net/url"
	"path"
	"strings"

	"github.com/wuyou/docbridge/internal/document"
	"github.com/wuyou/docbridge/internal/errs"
)

// Event is one decoded callback. It is consumed once and never stored.
type Event struct {
	Status        Status
	Key           string
	URL           string
	FileType      string
	Users         []string
	ForceSaveType *int
}

type payload struct {
	Status        *int     `json:"status"`
	Key           string   `json:"key"`
	URL           string   `json:"url"`
	FileType      string   `json:"filetype"`
	Users         []string `json:"users"`
	ForceSaveType *int     `json:"forcesavetype"`
}

// ParseEvent decodes a callback body. It fails with ErrKindMalformedCallback
// when the body is not JSON, when status or key is missing, or when a
// save-class status lacks a usable download URL or file type.
func ParseEvent(body []byte) (*Event, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, malformed("empty callback body")
	}

	var p payload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, errs.Wrap(errs.ErrKindMalformedCallback, "callback body is not valid JSON", err)
	}
	if p.Status == nil {
		return nil, malformed("missing status")
	}
	if p.Key == "" {
		return nil, malformed("missing key")
	}
	if strings.ContainsAny(p.Key, "/\\") {
		return nil, malformed("key must not contain path separators")
	}

	ev := &Event{
		Status:        Status(*p.Status),
		Key:           p.Key,
		URL:           p.URL,
		FileType:      strings.TrimPrefix(p.FileType, "."),
		Users:         p.Users,
		ForceSaveType: p.ForceSaveType,
	}

	if Classify(ev.Status) == ActionPersist {
		if err := ev.validateDownload(); err != nil {
			return nil, err
		}
	}
	return ev, nil
}

// validateDownload checks the fields a save needs. A missing file type is
// recovered from the download URL's path when possible.
func (e *Event) validateDownload() error {
	if e.URL == "" {
		return malformed("missing url for " + e.Status.String())
	}
	u, err := url.Parse(e.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return malformed("url must be an absolute http(s) URL")
	}
	if e.FileType == "" {
		e.FileType = document.Extension(path.Base(u.Path))
	}
	if e.FileType == "" {
		return malformed("missing filetype")
	}
	if strings.ContainsAny(e.FileType, "/\\") {
		return malformed("filetype must not contain path separators")
	}
	return nil
}

// ObjectName is where the saved document is written.
func (e *Event) ObjectName() string {
	return document.ObjectName(e.Key, e.FileType)
}

func malformed(msg string) error {
	return errs.New(errs.ErrKindMalformedCallback, msg)
}
