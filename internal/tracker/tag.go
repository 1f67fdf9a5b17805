package tracker

import (
	"regexp"
	"strings"
	"unicode"
)

const tagPrefix = "sync-ref/"

var tagPattern = regexp.MustCompile(`sync-ref/(linear|jira)(-comment)?/([A-Za-z0-9_-]+)`)

// Tag is the identity tag embedded in a mirrored description to name the
// entity it mirrors.
func Tag(system System, id string) string {
	return tagPrefix + string(system) + "/" + id
}

// CommentTag is the identity tag embedded in a mirrored comment body.
func CommentTag(system System, commentID string) string {
	return tagPrefix + string(system) + "-comment/" + commentID
}

// FindTag returns the id carried by the first entity tag of system in text.
func FindTag(text string, system System) (string, bool) {
	for _, m := range tagPattern.FindAllStringSubmatch(text, -1) {
		if m[1] == string(system) && m[2] == "" {
			return m[3], true
		}
	}
	return "", false
}

// ContainsTag reports whether text carries tag whole, not as the prefix of
// a longer id.
func ContainsTag(text, tag string) bool {
	for _, m := range tagPattern.FindAllString(text, -1) {
		if m == tag {
			return true
		}
	}
	return false
}

// HasTag reports whether text carries any entity tag, of either system.
func HasTag(text string) bool {
	for _, m := range tagPattern.FindAllStringSubmatch(text, -1) {
		if m[2] == "" {
			return true
		}
	}
	return false
}

// HasCommentTag reports whether text is a mirrored comment.
func HasCommentTag(text string) bool {
	for _, m := range tagPattern.FindAllStringSubmatch(text, -1) {
		if m[2] != "" {
			return true
		}
	}
	return false
}

// StripTags removes every identity tag from text and trims the blank space
// left behind at the end.
func StripTags(text string) string {
	out := tagPattern.ReplaceAllString(text, "")
	return strings.TrimRightFunc(out, unicode.IsSpace)
}

// AppendTag places tag as the final paragraph of text.
func AppendTag(text, tag string) string {
	text = strings.TrimRightFunc(text, unicode.IsSpace)
	if text == "" {
		return tag
	}
	return text + "\n\n" + tag
}

// EndsWithTag reports whether the last non-blank content of text is tag.
func EndsWithTag(text, tag string) bool {
	return strings.HasSuffix(strings.TrimRightFunc(text, unicode.IsSpace), tag)
}

// Normalize keeps only letters and digits, absorbing the whitespace and
// punctuation drift of a markup round-trip.
func Normalize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// SameText compares two markdown bodies after tag stripping and
// normalization.
func SameText(a, b string) bool {
	return Normalize(StripTags(a)) == Normalize(StripTags(b))
}
