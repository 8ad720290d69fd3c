package utils

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLogger_JSONFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "server.log")
	logger, err := NewLogger(LoggerConfig{Level: "info", OutputPath: path, Format: "json", Service: "letters"})
	require.NoError(t, err)

	logger.Debug("hidden")
	logger.Info("visible")
	require.NoError(t, logger.Sync())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 1)

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	assert.Equal(t, "visible", entry["msg"])
	assert.Equal(t, "letters", entry["service"])
	assert.Contains(t, entry, "timestamp")
}

func TestNewLogger_UnknownFormat(t *testing.T) {
	_, err := NewLogger(LoggerConfig{Format: "xml"})
	assert.Error(t, err)
}

func TestValidateIdentifier(t *testing.T) {
	for _, ok := range []string{"S1", "jane.doe@univ.edu", "fac-042"} {
		assert.NoError(t, ValidateIdentifier(ok), ok)
	}
	for _, bad := range []string{"", "-lead", "has space", "a/b", strings.Repeat("x", MaxIdentifierLength+1)} {
		assert.Error(t, ValidateIdentifier(bad), bad)
	}
}

func TestValidateLarkOpenID(t *testing.T) {
	assert.NoError(t, ValidateLarkOpenID(""))
	assert.NoError(t, ValidateLarkOpenID("ou_7d8a6e6df7621556ce0d21922b676706"))
	assert.Error(t, ValidateLarkOpenID("on_123"))
}

func TestSanitizeString(t *testing.T) {
	assert.Equal(t, "Dr.\tSmith\nHOD", SanitizeString("  Dr.\tSmith\x00\nHOD\x07 "))
}
