package summarizer

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCleanOutput(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "  A summary.\n", "A summary."},
		{"markdown fence", "```markdown\nA summary.\n```", "A summary."},
		{"bare fence", "```\nA summary.\n```\n", "A summary."},
		{"single line fence", "```A summary.```", "A summary."},
		{"marker untouched", "INAPPROPRIATE", "INAPPROPRIATE"},
		{"empty", "   ", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, cleanOutput(tt.in))
		})
	}
}
