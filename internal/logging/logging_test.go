package logging

import (
	"bytes"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErr(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{
			name: "non-nil error",
			err:  errors.New("boom"),
			want: "boom",
		},
		{
			name: "nil error omitted",
			err:  nil,
			want: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := slog.New(slog.NewTextHandler(&buf, nil))
			logger.Info("op failed", Err(tt.err))

			if tt.want == "" {
				assert.NotContains(t, buf.String(), KeyError+"=")
			} else {
				assert.Contains(t, buf.String(), tt.want)
			}
		})
	}
}

func TestSanitizeToken(t *testing.T) {
	assert.Equal(t, "<empty>", SanitizeToken(""))
	got := SanitizeToken("ya29.secret-token")
	assert.NotContains(t, got, "secret")
	assert.Contains(t, got, "17 chars")
}

func TestNewLevels(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, "warn")
	logger.Info("hidden")
	logger.Warn("visible")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.True(t, strings.Contains(out, "visible"))
}
