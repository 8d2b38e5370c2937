// File: internal/resolver/messages.go
package resolver

import (
	"fmt"
	"strings"

	"github.com/xkilldash9x/vigil-cli/api/schemas"
)

// -- Clarification Messages --

const (
	msgSearchFailed     = "Note: Web search failed: %s"
	msgAutoSearchFailed = "Note: Automatic domain search failed: %s. Please provide the domain name."
	msgNoValidDomain    = "Note: Could not find a valid domain from search results. Please provide the domain name."
	msgVerifiedFromDB   = "Found verified target from database: %s"
	msgSearching        = "Searching for information about %s... Please provide more details if available."
	msgRejected         = "Understood, %s is not the target."

	alternativesBlock = "Alternatively, you can provide:\n" +
		"- The domain name (e.g., example.com)\n" +
		"- The IP address (e.g., 192.168.1.1)\n" +
		"- The website URL (e.g., https://example.com)\n" +
		"- Additional context like company location or industry"
)

// CandidatesMessage lists candidates for a numbered selection.
func CandidatesMessage(candidates []schemas.EntityCandidate) string {
	var b strings.Builder
	fmt.Fprintf(&b, "I found %d potential matching companies/organizations:\n\n", len(candidates))
	for i, c := range candidates {
		name := c.LegalName
		if name == "" {
			name = c.Domain
		}
		fmt.Fprintf(&b, "%d. %s", i+1, name)
		if c.Country != "" {
			fmt.Fprintf(&b, " – %s", c.Country)
		}
		if c.Domain != "" {
			fmt.Fprintf(&b, " – domain: %s", c.Domain)
		}
		if c.ASN != "" {
			fmt.Fprintf(&b, " – ASN: %s", c.ASN)
		}
		if len(c.IPRanges) > 0 {
			fmt.Fprintf(&b, " – IP ranges: %s", strings.Join(c.IPRanges, ", "))
		}
		fmt.Fprintf(&b, " – confidence: %d%%\n", int(c.Confidence*100))
	}
	fmt.Fprintf(&b, "\nWhich company are you referring to? (Enter 1-%d or provide more details)", len(candidates))
	return b.String()
}

// ConfirmationMessage renders a validated entity for a yes/no confirmation.
func ConfirmationMessage(info schemas.EntityInfo, conflicts []string) string {
	var b strings.Builder
	b.WriteString("You are referring to:\n")
	if info.LegalName != "" {
		fmt.Fprintf(&b, "- Legal Name: %s\n", info.LegalName)
	}
	if info.Country != "" {
		fmt.Fprintf(&b, "- Country: %s\n", info.Country)
	}
	if info.Domain != "" {
		fmt.Fprintf(&b, "- Domain: %s\n", info.Domain)
	}
	if info.ASN != "" {
		fmt.Fprintf(&b, "- ASN: %s\n", info.ASN)
	}
	if len(info.IPRanges) > 0 {
		fmt.Fprintf(&b, "- IP Ranges: %s\n", strings.Join(info.IPRanges, ", "))
	}
	fmt.Fprintf(&b, "\nConfidence: %d/10\n", int(info.Confidence*10))
	if len(conflicts) > 0 {
		fmt.Fprintf(&b, "\nNote: Found some conflicts: %s\n", strings.Join(conflicts, ", "))
	}
	b.WriteString("\nIs this correct?")
	return b.String()
}

// NeedMoreInfoMessage asks for free-text clarification, with up to three
// specific questions ahead of the generic alternatives.
func NeedMoreInfoMessage(target string, questions []string) string {
	if target == "" {
		target = "the target"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "I need more information to identify %s.\n\n", target)
	if len(questions) > 0 {
		b.WriteString("Please provide one of the following:\n")
		for i, q := range questions {
			if i == 3 {
				break
			}
			fmt.Fprintf(&b, "%d. %s\n", i+1, q)
		}
		b.WriteString("\n")
	}
	b.WriteString(alternativesBlock)
	return b.String()
}

// clarifyingQuestions builds the questions asked when only part of an
// identity is known.
func clarifyingQuestions(company, location string) []string {
	var qs []string
	if company != "" && location == "" {
		qs = append(qs, fmt.Sprintf("In which country or city is %s located?", company))
	}
	if company == "" {
		qs = append(qs, "What is the name of the company or organization?")
	}
	qs = append(qs, "What is the official website of the organization?")
	return qs
}
