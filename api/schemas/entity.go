package schemas

import (
	"strings"
)

// -- Target Resolution Schemas --

// EntityCandidate is a possible target identity produced by candidate lookup.
type EntityCandidate struct {
	Domain         string   `json:"domain"`
	Source         string   `json:"source"`
	Confidence     float64  `json:"confidence"`
	LegalName      string   `json:"legal_name,omitempty"`
	Country        string   `json:"country,omitempty"`
	ASN            string   `json:"asn,omitempty"`
	IPRanges       []string `json:"ip_ranges,omitempty"`
	Context        string   `json:"context,omitempty"`
	ConversationID string   `json:"conversation_id,omitempty"`
}

// EntityInfo is the structured identity extracted from search evidence.
type EntityInfo struct {
	LegalName  string   `json:"legal_name"`
	Country    string   `json:"country"`
	Domain     string   `json:"domain"`
	ASN        string   `json:"asn,omitempty"`
	IPRanges   []string `json:"ip_ranges,omitempty"`
	Confidence float64  `json:"confidence"`
}

// IsValid requires a non-trivial domain string.
func (e EntityInfo) IsValid() bool {
	return len(strings.TrimSpace(e.Domain)) > 3
}

// Clamp bounds Confidence to [0,1].
func (e EntityInfo) Clamp() EntityInfo {
	switch {
	case e.Confidence < 0:
		e.Confidence = 0
	case e.Confidence > 1:
		e.Confidence = 1
	}
	return e
}

// ValidationResult is the outcome of cross-checking one or more EntityInfo values.
type ValidationResult struct {
	Valid         bool        `json:"valid"`
	Confidence    float64     `json:"confidence"`
	Conflicts     []string    `json:"conflicts,omitempty"`
	ValidatedInfo *EntityInfo `json:"validated_info,omitempty"`
}

// FailedValidation returns an invalid result carrying reason as its only conflict.
func FailedValidation(reason string) ValidationResult {
	return ValidationResult{Conflicts: []string{reason}}
}
