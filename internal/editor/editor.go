// Package editor builds the configuration object the document server's
// JavaScript API needs to open a stored document.
package editor

import (
	"encoding/json"
	"strings"

	"github.com/wuyou/docbridge/internal/document"
	"github.com/wuyou/docbridge/internal/errs"
	"github.com/wuyou/docbridge/internal/token"
)

// Editor modes.
const (
	ModeEdit = "edit"
	ModeView = "view"
)

// Document types understood by the editor.
const (
	TypeWord  = "word"
	TypeCell  = "cell"
	TypeSlide = "slide"
	TypePDF   = "pdf"
)

var documentTypes = map[string]string{
	"doc": TypeWord, "docx": TypeWord, "docm": TypeWord, "dot": TypeWord, "dotx": TypeWord,
	"odt": TypeWord, "rtf": TypeWord, "txt": TypeWord, "html": TypeWord, "epub": TypeWord,
	"xls": TypeCell, "xlsx": TypeCell, "xlsm": TypeCell, "xlt": TypeCell, "xltx": TypeCell,
	"ods": TypeCell, "csv": TypeCell,
	"ppt": TypeSlide, "pptx": TypeSlide, "pptm": TypeSlide, "pot": TypeSlide, "potx": TypeSlide,
	"odp": TypeSlide,
	"pdf": TypePDF,
}

// DocumentType maps a file extension to the editor's document type.
// ok is false for extensions the editor cannot open.
func DocumentType(ext string) (string, bool) {
	t, ok := documentTypes[strings.ToLower(ext)]
	return t, ok
}

// User identifies who opens the editor.
type User struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type Permissions struct {
	Edit     bool `json:"edit"`
	Download bool `json:"download"`
}

type Document struct {
	FileType    string      `json:"fileType"`
	Key         string      `json:"key"`
	Title       string      `json:"title"`
	URL         string      `json:"url"`
	Permissions Permissions `json:"permissions"`
}

type EditorConfig struct {
	CallbackURL string `json:"callbackUrl"`
	Mode        string `json:"mode"`
	Lang        string `json:"lang,omitempty"`
	User        User   `json:"user"`
}

// Config is the object handed to DocsAPI.DocEditor.
type Config struct {
	DocumentType string       `json:"documentType"`
	Document     Document     `json:"document"`
	EditorConfig EditorConfig `json:"editorConfig"`
	Token        string       `json:"token,omitempty"`

	// DocumentServerURL tells the page where to load api.js from. It is not
	// part of the signed configuration.
	DocumentServerURL string `json:"documentServerUrl,omitempty"`
}

// Builder produces editor configurations. It is immutable after New.
type Builder struct {
	documentServerURL string
	callbackURL       string
	lang              string
	signer            *token.Signer
}

// New returns a Builder. signer may be nil when the document server runs
// without JWT.
func New(documentServerURL, callbackURL, lang string, signer *token.Signer) *Builder {
	return &Builder{
		documentServerURL: strings.TrimRight(documentServerURL, "/"),
		callbackURL:       callbackURL,
		lang:              lang,
		signer:            signer,
	}
}

// Build returns the configuration for opening desc in mode.
func (b *Builder) Build(desc *document.Descriptor, mode string, user User) (*Config, error) {
	if desc == nil || desc.Key == "" {
		return nil, errs.New(errs.ErrKindInvalidInput, "document is required")
	}
	if desc.URL == "" {
		return nil, errs.New(errs.ErrKindInvalidInput, "document has no retrieval URL")
	}
	docType, ok := DocumentType(desc.Extension)
	if !ok {
		return nil, errs.New(errs.ErrKindInvalidInput, "unsupported document type \""+desc.Extension+"\"")
	}

	switch mode {
	case "":
		mode = ModeEdit
	case ModeEdit, ModeView:
	default:
		return nil, errs.New(errs.ErrKindInvalidInput, "mode must be edit or view")
	}
	if user.ID == "" {
		user.ID = "anonymous"
	}
	if user.Name == "" {
		user.Name = user.ID
	}

	cfg := &Config{
		DocumentType: docType,
		Document: Document{
			FileType: strings.ToLower(desc.Extension),
			Key:      desc.Key,
			Title:    desc.DisplayName,
			URL:      desc.URL,
			Permissions: Permissions{
				Edit:     mode == ModeEdit,
				Download: true,
			},
		},
		EditorConfig: EditorConfig{
			CallbackURL: b.callbackURL,
			Mode:        mode,
			Lang:        b.lang,
			User:        user,
		},
	}

	if b.signer.Enabled() {
		signed, err := b.sign(cfg)
		if err != nil {
			return nil, err
		}
		cfg.Token = signed
	}
	cfg.DocumentServerURL = b.documentServerURL
	return cfg, nil
}

// sign covers the configuration as the editor sees it, without the token
// itself or the api.js location.
func (b *Builder) sign(cfg *Config) (string, error) {
	raw, err := json.Marshal(cfg)
	if err != nil {
		return "", errs.Wrap(errs.ErrKindUnknown, "failed to encode editor config", err)
	}
	var claims map[string]interface{}
	if err := json.Unmarshal(raw, &claims); err != nil {
		return "", errs.Wrap(errs.ErrKindUnknown, "failed to encode editor config", err)
	}
	return b.signer.Sign(claims)
}
