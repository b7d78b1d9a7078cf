package messaging

import (
	"regexp"

	"github.com/valyala/fastjson"
)

var (
	blankRe    = regexp.MustCompile(`^\s*$`)
	escapeRe   = regexp.MustCompile(`\\(?:["\\/bfnrt]|u[0-9a-fA-F]{4})`)
	literalRe  = regexp.MustCompile(`"[^"\\\n\r]*"|true|false|null|-?\d+(?:\.\d*)?(?:[eE][+-]?\d+)?`)
	openerRe   = regexp.MustCompile(`(?:^|:|,)(?:\s*\[)+`)
	residualRe = regexp.MustCompile(`^[\],:{}\s]*$`)
)

// IsJSON reports whether s is a JSON text.
//
// The structural check reduces s to its punctuation: escapes, literals and
// array openers are stripped, and only brackets, braces, colons, commas and
// whitespace may remain. Most log lines are rejected there without being
// parsed. Candidates that pass are confirmed by a full validation, so a true
// result always parses.
func IsJSON(s string) bool {
	if blankRe.MatchString(s) {
		return false
	}

	reduced := escapeRe.ReplaceAllString(s, "@")
	reduced = literalRe.ReplaceAllString(reduced, "]")
	reduced = openerRe.ReplaceAllString(reduced, "")

	if !residualRe.MatchString(reduced) {
		return false
	}

	return fastjson.Validate(s) == nil
}
