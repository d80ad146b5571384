package posts

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSlugify(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"Hello, World!", "hello-world"},
		{"  My First Post  ", "my-first-post"},
		{"already-a-slug", "already-a-slug"},
		{"Ünïcödé gets stripped", "n-c-d-gets-stripped"},
		{"multiple   spaces", "multiple-spaces"},
		{"---leading and trailing---", "leading-and-trailing"},
		{"2024 Year In Review", "2024-year-in-review"},
		{"!!!", "untitled"},
		{"", "untitled"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, Slugify(tt.input), "input %q", tt.input)
	}
}
