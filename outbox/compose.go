package outbox

import (
	"fmt"
	"regexp"
	"strings"

	"letterpress/models"
)

// Excerpt length for notification bodies, in characters.
const excerptMaxLength = 160

var (
	codeFenceRe  = regexp.MustCompile("(?s)```.*?```")
	inlineCodeRe = regexp.MustCompile("`[^`]*`")
	imageRe      = regexp.MustCompile(`!\[[^\]]*\]\([^)]+\)`)
	linkRe       = regexp.MustCompile(`\[([^\]]+)\]\([^)]+\)`)
	headingRe    = regexp.MustCompile(`(?m)^#+\s+`)
	markerRe     = regexp.MustCompile(`[*_>~\-]+`)
	spaceRe      = regexp.MustCompile(`\s+`)
)

// BuildExcerpt reduces markdown to a short plain-text preview: code fences,
// inline code and images dropped, links reduced to their text, heading and
// emphasis markers stripped, whitespace collapsed, truncated with an
// ellipsis.
func BuildExcerpt(contentMd string) string {
	text := codeFenceRe.ReplaceAllString(contentMd, " ")
	text = inlineCodeRe.ReplaceAllString(text, " ")
	text = imageRe.ReplaceAllString(text, " ")
	text = linkRe.ReplaceAllString(text, "$1")
	text = headingRe.ReplaceAllString(text, "")
	text = markerRe.ReplaceAllString(text, " ")
	text = strings.TrimSpace(spaceRe.ReplaceAllString(text, " "))

	runes := []rune(text)
	if len(runes) <= excerptMaxLength {
		return text
	}
	return string(runes[:excerptMaxLength-3]) + "..."
}

// BuildPostURL returns the canonical URL of a post on its site.
func BuildPostURL(siteDomain, postSlug string) string {
	return fmt.Sprintf("https://%s/posts/%s", siteDomain, postSlug)
}

// BuildUnsubscribeURL returns the unsubscribe page scoped to the site.
func BuildUnsubscribeURL(siteDomain string) string {
	return fmt.Sprintf("https://%s/unsubscribe", siteDomain)
}

// BuildSubject is "<post title> | <site name>".
func BuildSubject(siteName, postTitle string) string {
	return fmt.Sprintf("%s | %s", postTitle, siteName)
}

// BuildBody assembles the plain-text notification: announcement line,
// title, excerpt, post URL and unsubscribe URL.
func BuildBody(siteName, siteDomain, postTitle, postSlug, contentMd string) string {
	return strings.Join([]string{
		fmt.Sprintf("%s published a new post:", siteName),
		"",
		postTitle,
		"",
		BuildExcerpt(contentMd),
		"",
		"Read: " + BuildPostURL(siteDomain, postSlug),
		"",
		"Unsubscribe: " + BuildUnsubscribeURL(siteDomain),
	}, "\n")
}

// FromAddress formats the site's sender, with the display name when
// configured.
func FromAddress(site *models.Site) string {
	if site.EmailSenderName != "" {
		return fmt.Sprintf("%s <%s>", site.EmailSenderName, site.EmailFrom)
	}
	return site.EmailFrom
}
