package htmltext

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConvert(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain text", "  just words  ", "just words"},
		{"paragraph", "<p>Join us for pizza</p>", "Join us for pizza"},
		{"entities", "<p>Faculty &amp; staff</p>", "Faculty & staff"},
		{"line break", "<p>Bring ID<br>Arrive early</p>", "Bring ID\nArrive early"},
		{"nested", "<div><strong>Note:</strong> <em>RSVP</em> required</div>\n", "Note: RSVP required"},
		{"empty", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Convert(tt.in))
		})
	}
}
