package utils

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLogger(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "server.log")

	logger, err := NewLogger(LoggerConfig{Level: "debug", OutputPath: path, Format: "json", Service: "approval-engine"})
	require.NoError(t, err)
	logger.Info("hello")
	require.NoError(t, logger.Sync())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"service":"approval-engine"`)
	assert.Contains(t, string(data), `"timestamp"`)

	_, err = NewLogger(LoggerConfig{Level: "loud"})
	assert.Error(t, err)

	logger, err = NewLogger(LoggerConfig{Format: "console", OutputPath: "stderr"})
	require.NoError(t, err)
	assert.NotNil(t, logger)
}

func TestValidateIdentifier(t *testing.T) {
	tests := []struct {
		id      string
		wantErr bool
	}{
		{id: "t1"},
		{id: "user@example.com"},
		{id: "ou_3f9a-b1:x"},
		{id: "", wantErr: true},
		{id: "-leading", wantErr: true},
		{id: "has space", wantErr: true},
		{id: strings.Repeat("a", 129), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			err := ValidateIdentifier("tenant", tt.id)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestSanitizeText(t *testing.T) {
	assert.Equal(t, "ok\nfine", SanitizeText("  ok\x00\n\x07fine "))
	assert.Len(t, []rune(SanitizeText(strings.Repeat("é", MaxTextLength+10))), MaxTextLength)
}
