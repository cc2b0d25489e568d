package ai

import (
	"regexp"
	"strings"
)

// Models occasionally ignore the plain-text instruction, so generated answers
// get a cleanup pass stripping leftover markdown before anything downstream
// sees them.
var (
	reBulletStar    = regexp.MustCompile(`(?m)^\* `)
	reBulletDash    = regexp.MustCompile(`(?m)^- `)
	reBoldPrefix    = regexp.MustCompile(`(?m)^\*\*`)
	reBold          = regexp.MustCompile(`\*\*(.*?)\*\*`)
	reUnderlineBold = regexp.MustCompile(`__(.*?)__`)
	reItalicStar    = regexp.MustCompile(`\*([^*\n]+)\*`)
	reItalicUnder   = regexp.MustCompile(`_([^_\n]+)_`)
	reHeading       = regexp.MustCompile(`(?m)^#{1,6}\s+`)
	reInlineCode    = regexp.MustCompile("`([^`]+)`")
	reCodeFence     = regexp.MustCompile("(?s)```.*?```")
	reLink          = regexp.MustCompile(`\[([^\]]+)\]\([^)]+\)`)
	reRule          = regexp.MustCompile(`(?m)^[*_]{3,}$`)
	reBlockquote    = regexp.MustCompile(`(?m)^>\s+`)
	reBlankRuns     = regexp.MustCompile(`\n{3,}`)
)

// Sanitize strips markdown artifacts from an answer and normalizes bullets.
func Sanitize(text string) string {
	out := text
	out = reCodeFence.ReplaceAllString(out, "")
	out = reBulletStar.ReplaceAllString(out, "• ")
	out = reBulletDash.ReplaceAllString(out, "• ")
	out = reBoldPrefix.ReplaceAllString(out, "")
	out = reBold.ReplaceAllString(out, "$1")
	out = reUnderlineBold.ReplaceAllString(out, "$1")
	out = reItalicStar.ReplaceAllString(out, "$1")
	out = reItalicUnder.ReplaceAllString(out, "$1")
	out = reHeading.ReplaceAllString(out, "")
	out = reInlineCode.ReplaceAllString(out, "$1")
	out = reLink.ReplaceAllString(out, "$1")
	out = reRule.ReplaceAllString(out, "")
	out = reBlockquote.ReplaceAllString(out, "")
	out = reBlankRuns.ReplaceAllString(out, "\n\n")
	return strings.TrimSpace(out)
}
