package editor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wuyou/docbridge/internal/document"
	"github.com/wuyou/docbridge/internal/errs"
	"github.com/wuyou/docbridge/internal/token"
)

func descriptor(ext string) *document.Descriptor {
	return &document.Descriptor{
		Key:         "0123456789abcdef0123456789abcdef",
		DisplayName: "report." + ext,
		Extension:   ext,
		URL:         "http://minio:9000/documents/x",
	}
}

func TestDocumentType(t *testing.T) {
	tests := []struct {
		ext  string
		want string
		ok   bool
	}{
		{"docx", TypeWord, true},
		{"DOCX", TypeWord, true},
		{"xlsx", TypeCell, true},
		{"csv", TypeCell, true},
		{"pptx", TypeSlide, true},
		{"pdf", TypePDF, true},
		{"zip", "", false},
		{"", "", false},
	}

	for _, tt := range tests {
		got, ok := DocumentType(tt.ext)
		assert.Equal(t, tt.want, got, tt.ext)
		assert.Equal(t, tt.ok, ok, tt.ext)
	}
}

func TestBuilder_Build(t *testing.T) {
	b := New("http://ds.local/", "http://bridge/api/onlyoffice/callback", "en", nil)

	cfg, err := b.Build(descriptor("xlsx"), "", User{ID: "u1"})
	require.NoError(t, err)

	assert.Equal(t, TypeCell, cfg.DocumentType)
	assert.Equal(t, "xlsx", cfg.Document.FileType)
	assert.Equal(t, "0123456789abcdef0123456789abcdef", cfg.Document.Key)
	assert.Equal(t, "report.xlsx", cfg.Document.Title)
	assert.True(t, cfg.Document.Permissions.Edit)
	assert.Equal(t, ModeEdit, cfg.EditorConfig.Mode)
	assert.Equal(t, "http://bridge/api/onlyoffice/callback", cfg.EditorConfig.CallbackURL)
	assert.Equal(t, User{ID: "u1", Name: "u1"}, cfg.EditorConfig.User)
	assert.Equal(t, "http://ds.local", cfg.DocumentServerURL)
	assert.Empty(t, cfg.Token)
}

func TestBuilder_ViewMode(t *testing.T) {
	cfg, err := New("", "cb", "", nil).Build(descriptor("pdf"), ModeView, User{})
	require.NoError(t, err)

	assert.False(t, cfg.Document.Permissions.Edit)
	assert.Equal(t, "anonymous", cfg.EditorConfig.User.ID)
}

func TestBuilder_Rejects(t *testing.T) {
	b := New("", "cb", "", nil)

	_, err := b.Build(descriptor("zip"), ModeEdit, User{})
	assert.True(t, errs.IsInvalidInput(err))

	_, err = b.Build(descriptor("docx"), "review", User{})
	assert.True(t, errs.IsInvalidInput(err))

	noURL := descriptor("docx")
	noURL.URL = ""
	_, err = b.Build(noURL, ModeEdit, User{})
	assert.True(t, errs.IsInvalidInput(err))

	_, err = b.Build(nil, ModeEdit, User{})
	assert.True(t, errs.IsInvalidInput(err))
}

func TestBuilder_SignsConfig(t *testing.T) {
	signer := token.New("s3cret")
	cfg, err := New("http://ds", "cb", "", signer).Build(descriptor("docx"), ModeEdit, User{ID: "u1"})
	require.NoError(t, err)
	require.NotEmpty(t, cfg.Token)

	claims, err := signer.Verify(cfg.Token)
	require.NoError(t, err)

	assert.Equal(t, TypeWord, claims["documentType"])
	doc := claims["document"].(map[string]interface{})
	assert.Equal(t, "0123456789abcdef0123456789abcdef", doc["key"])
	assert.NotContains(t, claims, "documentServerUrl")
	assert.NotContains(t, claims, "token")
}
