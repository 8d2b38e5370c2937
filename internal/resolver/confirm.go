// File: internal/resolver/confirm.go
package resolver

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/xkilldash9x/vigil-cli/api/schemas"
)

// confirmationPhrases are the affirmative replies that accept a suggested target.
var confirmationPhrases = []string{
	"yes", "correct", "right", "that's right", "that is correct", "yes it is",
	"yes it's", "yes its", "yep", "yeah", "ok", "okay", "confirmed", "confirm",
	"that's it", "that is it", "exactly",
}

// rejectionPhrases are the negative replies that turn down a suggested target.
var rejectionPhrases = []string{
	"no", "nope", "nah", "wrong", "incorrect", "not correct", "not right",
	"not that", "not it", "that's not it", "not this one", "neither",
}

var (
	confirmationRegex = wholePhraseRegex(confirmationPhrases)
	rejectionRegex    = wholePhraseRegex(rejectionPhrases)
)

func wholePhraseRegex(phrases []string) *regexp.Regexp {
	quoted := make([]string, len(phrases))
	for i, p := range phrases {
		quoted[i] = regexp.QuoteMeta(p)
	}
	return regexp.MustCompile(`(?i)(?:^|[^a-z'])(?:` + strings.Join(quoted, "|") + `)(?:$|[^a-z'])`)
}

var selectionRegex = regexp.MustCompile(`^\s*#?(\d{1,2})[.)]?\s*$`)

// IsConfirmation reports whether a reply contains an affirmative phrase as a
// whole word ("ok" matches "ok, go ahead" but not "look").
func IsConfirmation(reply string) bool {
	return confirmationRegex.MatchString(strings.TrimSpace(reply))
}

// IsRejection reports whether a reply contains a negative phrase as a whole
// word ("no, wrong company" matches, "know" does not).
func IsRejection(reply string) bool {
	return rejectionRegex.MatchString(strings.TrimSpace(reply))
}

// SelectCandidate interprets a numeric reply ("2", "#2", "2.") as a 1-based
// pick from candidates.
func SelectCandidate(reply string, candidates []schemas.EntityCandidate) (schemas.EntityCandidate, bool) {
	m := selectionRegex.FindStringSubmatch(reply)
	if len(m) < 2 {
		return schemas.EntityCandidate{}, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil || n < 1 || n > len(candidates) {
		return schemas.EntityCandidate{}, false
	}
	return candidates[n-1], true
}
