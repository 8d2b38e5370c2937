// File: internal/authz/mode.go
package authz

import (
	"fmt"
	"strings"
	"sync"
)

// ExecutionMode is the safety profile bounding which tool capability tags may run.
type ExecutionMode string

const (
	ModePassive     ExecutionMode = "passive"     // OSINT only, no packets sent to the target.
	ModeCooperative ExecutionMode = "cooperative" // Scanning allowed within the authorized scope.
	ModeSimulation  ExecutionMode = "simulation"  // Lab environment, destructive tooling allowed.
)

// Capability tags declared by tools.
const (
	TagPassive     = "passive"
	TagActive      = "active"
	TagDestructive = "destructive"
)

var modeOrder = []ExecutionMode{ModePassive, ModeCooperative, ModeSimulation}

var modeTags = map[ExecutionMode][]string{
	ModePassive:     {TagPassive},
	ModeCooperative: {TagPassive, TagActive},
	ModeSimulation:  {TagPassive, TagActive, TagDestructive},
}

var modeDescriptions = map[ExecutionMode]string{
	ModePassive:     "OSINT only, no packets sent, legally safe. Use for public information gathering only.",
	ModeCooperative: "Scanner allowed, authenticated scan, limited scope. Use for authorized network scanning.",
	ModeSimulation:  "Lab/digital twin, replay attack chain, no production impact. Use for safe exploit testing.",
}

// ParseMode parses a mode name case-insensitively.
func ParseMode(s string) (ExecutionMode, error) {
	m := ExecutionMode(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := modeTags[m]; !ok {
		return "", fmt.Errorf("unknown execution mode %q (expected passive, cooperative or simulation)", s)
	}
	return m, nil
}

// AllowedTags returns the capability tags permitted in mode.
func (m ExecutionMode) AllowedTags() []string {
	return append([]string(nil), modeTags[m]...)
}

// Description returns a human-readable summary of the mode.
func (m ExecutionMode) Description() string {
	if d, ok := modeDescriptions[m]; ok {
		return d
	}
	return "Unknown mode"
}

// IsToolCompatible reports whether a tool with the given capability tags may
// run in mode. A tool with no tags is always compatible; otherwise at least
// one of its tags must be allowed.
func IsToolCompatible(toolTags []string, mode ExecutionMode) bool {
	if len(toolTags) == 0 {
		return true
	}
	for _, tag := range toolTags {
		for _, allowed := range modeTags[mode] {
			if strings.EqualFold(tag, allowed) {
				return true
			}
		}
	}
	return false
}

// ModeManager tracks the execution mode per conversation.
type ModeManager struct {
	mu          sync.RWMutex
	defaultMode ExecutionMode
	modes       map[string]ExecutionMode
}

// NewModeManager creates a manager that falls back to defaultMode.
func NewModeManager(defaultMode ExecutionMode) *ModeManager {
	if _, ok := modeTags[defaultMode]; !ok {
		defaultMode = ModeCooperative
	}
	return &ModeManager{defaultMode: defaultMode, modes: make(map[string]ExecutionMode)}
}

// Mode returns the conversation's mode, or the default.
func (m *ModeManager) Mode(conversationID string) ExecutionMode {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if mode, ok := m.modes[conversationID]; ok && conversationID != "" {
		return mode
	}
	return m.defaultMode
}

// SetMode sets the mode for a conversation, or the default when
// conversationID is empty. The returned warning is non-empty when the switch
// narrows tool availability.
func (m *ModeManager) SetMode(conversationID string, mode ExecutionMode) (string, error) {
	if _, ok := modeTags[mode]; !ok {
		return "", fmt.Errorf("unknown execution mode %q", mode)
	}
	from := m.Mode(conversationID)
	warning := ValidateModeSwitch(from, mode)

	m.mu.Lock()
	defer m.mu.Unlock()
	if conversationID == "" {
		m.defaultMode = mode
	} else {
		m.modes[conversationID] = mode
	}
	return warning, nil
}

// ValidateModeSwitch returns a warning when moving to a more restrictive mode.
func ValidateModeSwitch(from, to ExecutionMode) string {
	fromIdx, toIdx := -1, -1
	for i, m := range modeOrder {
		if m == from {
			fromIdx = i
		}
		if m == to {
			toIdx = i
		}
	}
	if fromIdx >= 0 && toIdx >= 0 && toIdx < fromIdx {
		return fmt.Sprintf("Downgrading from %s to %s may limit tool availability", from, to)
	}
	return ""
}
