package posts

import (
	"regexp"
	"strings"
)

var slugInvalid = regexp.MustCompile(`[^a-z0-9]+`)

// Slugify derives a URL slug from free text: lowercase, non-alphanumeric
// runs collapsed to a single dash, leading and trailing dashes trimmed.
func Slugify(input string) string {
	normalized := strings.ToLower(strings.TrimSpace(input))
	normalized = slugInvalid.ReplaceAllString(normalized, "-")
	normalized = strings.Trim(normalized, "-")

	if normalized == "" {
		return "untitled"
	}
	return normalized
}
