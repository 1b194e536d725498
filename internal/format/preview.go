package format

import (
	"html"
	"regexp"
	"strings"
)

const (
	previewMaxChars = 200
	previewMaxLines = 2
)

var (
	urlRE           = regexp.MustCompile(`(?i)https?://\S+`)
	textURLRE       = regexp.MustCompile(`(?i)\[https?://[^\]]+\]|https?://\S+`)
	htmlLinebreakRE = regexp.MustCompile(`(?is)<br\s*/?>|</p\s*>`)
	htmlTagRE       = regexp.MustCompile(`(?is)<[^>]+>`)
	cidRE           = regexp.MustCompile(`(?i)\[cid:[^\]]+\]|cid:[\w.@-]+`)
	noiseLineRE     = regexp.MustCompile(`(?i)^\[?(cid|image|img):`)
)

// ExtractURL returns the first http(s) URL found in text, or "".
func ExtractURL(text string) string {
	return urlRE.FindString(text)
}

func cleanMailText(text string) string {
	cleaned := strings.ReplaceAll(text, " ", " ")
	if strings.Contains(cleaned, "<") && strings.Contains(cleaned, ">") {
		cleaned = htmlLinebreakRE.ReplaceAllString(cleaned, "\n")
		cleaned = htmlTagRE.ReplaceAllString(cleaned, " ")
		cleaned = html.UnescapeString(cleaned)
	}
	cleaned = textURLRE.ReplaceAllString(cleaned, " ")
	cleaned = cidRE.ReplaceAllString(cleaned, " ")
	return cleaned
}

// BuildPreview reduces a raw mail body (plain text or HTML) to a short
// notification preview: tags, inline-image references and URLs stripped,
// at most two non-empty lines, capped at 200 characters.
func BuildPreview(body string) string {
	cleaned := cleanMailText(body)

	var lines []string
	for _, line := range strings.Split(cleaned, "\n") {
		stripped := strings.TrimSpace(line)
		if stripped == "" {
			continue
		}
		if noiseLineRE.MatchString(stripped) {
			continue
		}
		lines = append(lines, stripped)
		if len(lines) >= previewMaxLines {
			break
		}
	}

	preview := strings.Join(lines, "\n")
	if rs := []rune(preview); len(rs) > previewMaxChars {
		preview = strings.TrimRight(string(rs[:previewMaxChars]), " \t\n")
	}
	return preview
}

// ContainsKeyword reports whether text contains any of the keywords,
// case-insensitively. An empty keyword list never matches.
func ContainsKeyword(text string, keywords []string) bool {
	if len(keywords) == 0 {
		return false
	}
	lowered := strings.ToLower(text)
	for _, kw := range keywords {
		if kw == "" {
			continue
		}
		if strings.Contains(lowered, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}
