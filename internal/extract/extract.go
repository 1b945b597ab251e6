// Package extract pulls the HTML payload out of a model's free-form
// text response. It is safe to call on a partial stream and idempotent
// on its own output, so the streaming accumulator can be re-extracted
// after every chunk.
package extract

import (
	"regexp"
	"strings"
)

var (
	// reFenceHTML matches a closed fence explicitly tagged as html.
	reFenceHTML = regexp.MustCompile("(?s)```(?:html|HTML)[ \t]*\n(.*?)```")
	// reFenceAny matches any closed fence, tagged or not.
	reFenceAny = regexp.MustCompile("(?s)```[a-zA-Z]*[ \t]*\n(.*?)```")
	// reFenceOpen matches an opening fence with no closing fence yet.
	reFenceOpen = regexp.MustCompile("(?s)```[a-zA-Z]*[ \t]*\n(.*)$")
	// rePreamble matches conversational lead-ins followed by a blank line.
	rePreamble = regexp.MustCompile(`^\s*(?:Here is|Here's|This is|Okay|Sure|Certainly)[^\n]*\n\s*\n`)
)

// Code returns the best-guess HTML payload from raw model text.
// Preference order: a closed html-tagged fence, any closed fence, the
// tail of an unclosed fence (partial stream), then the raw text with
// known preambles stripped. The result never contains fence markers,
// so Code(Code(x)) == Code(x).
func Code(raw string) string {
	if m := reFenceHTML.FindStringSubmatch(raw); m != nil {
		return strings.TrimSpace(m[1])
	}
	if m := reFenceAny.FindStringSubmatch(raw); m != nil {
		return strings.TrimSpace(m[1])
	}
	if m := reFenceOpen.FindStringSubmatch(raw); m != nil {
		return strings.TrimSpace(m[1])
	}
	// Strip to a fixpoint: the model sometimes stacks lead-ins
	// ("Okay" then "Here is ..."), and a single pass would leave a
	// preamble for the next call to find.
	out := raw
	for {
		next := rePreamble.ReplaceAllString(out, "")
		if next == out {
			break
		}
		out = next
	}
	return strings.TrimSpace(out)
}
