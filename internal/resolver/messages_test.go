package resolver

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/xkilldash9x/vigil-cli/api/schemas"
)

func TestCandidatesMessage(t *testing.T) {
	msg := CandidatesMessage([]schemas.EntityCandidate{
		{LegalName: "Acme (Pty) Ltd", Country: "South Africa", Domain: "acme.co.za", ASN: "AS37000", IPRanges: []string{"196.1.0.0/16", "41.0.0.0/8"}, Confidence: 0.72},
		{Domain: "acme.com", Confidence: 0.6},
	})

	want := "I found 2 potential matching companies/organizations:\n\n" +
		"1. Acme (Pty) Ltd – South Africa – domain: acme.co.za – ASN: AS37000 – IP ranges: 196.1.0.0/16, 41.0.0.0/8 – confidence: 72%\n" +
		"2. acme.com – domain: acme.com – confidence: 60%\n" +
		"\nWhich company are you referring to? (Enter 1-2 or provide more details)"
	assert.Equal(t, want, msg)
}

func TestConfirmationMessage(t *testing.T) {
	info := schemas.EntityInfo{
		LegalName:  "Acme (Pty) Ltd",
		Country:    "South Africa",
		Domain:     "acme.co.za",
		Confidence: 0.85,
	}

	want := "You are referring to:\n" +
		"- Legal Name: Acme (Pty) Ltd\n" +
		"- Country: South Africa\n" +
		"- Domain: acme.co.za\n" +
		"\nConfidence: 8/10\n" +
		"\nIs this correct?"
	assert.Equal(t, want, ConfirmationMessage(info, nil))

	withConflicts := ConfirmationMessage(info, []string{"Multiple different domains found"})
	assert.Contains(t, withConflicts, "\nNote: Found some conflicts: Multiple different domains found\n")
}

func TestNeedMoreInfoMessage(t *testing.T) {
	msg := NeedMoreInfoMessage("acme", []string{"q1", "q2", "q3", "q4"})
	assert.Contains(t, msg, "I need more information to identify acme.\n\n")
	assert.Contains(t, msg, "Please provide one of the following:\n1. q1\n2. q2\n3. q3\n\n")
	assert.NotContains(t, msg, "q4")
	assert.Contains(t, msg, "- The domain name (e.g., example.com)\n")
	assert.Contains(t, msg, "- Additional context like company location or industry")

	bare := NeedMoreInfoMessage("", nil)
	assert.NotContains(t, bare, "Please provide one of the following")
	assert.Contains(t, bare, "identify the target.")
}
