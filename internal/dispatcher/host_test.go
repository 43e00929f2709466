package dispatcher

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractHost(t *testing.T) {
	t.Parallel()

	tests := []struct {
		rawURL string
		want   string
	}{
		{"http://localhost:8080/webhook", "localhost:8080"},
		{"https://hooks.example.dev/giftforge?token=abc", "hooks.example.dev"},
		{"https://hooks.example.dev:8443/a/b", "hooks.example.dev:8443"},
		{"://invalid", "://invalid"},
		{"relative/path", "relative/path"},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.rawURL, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, extractHost(tt.rawURL))
		})
	}
}
