// File: internal/authz/autonomy_test.go
package authz

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

var allLevels = []AutonomyLevel{LevelManual, LevelCopilot, LevelSemiAuto, LevelFullAuto}

func newTestController(t *testing.T, level AutonomyLevel) *AutonomyController {
	t.Helper()
	return NewAutonomyController(level, nil, NewAuditLog(DefaultAuditCapacity), zaptest.NewLogger(t))
}

func TestAutonomyPolicy_UnknownActionRequiresFullAuto(t *testing.T) {
	p := DefaultAutonomyPolicy()
	for _, action := range []string{"launch_missiles", "zzz", ""} {
		assert.Equal(t, LevelFullAuto, p.RequiredLevel(action), "action %q", action)
	}

	c := newTestController(t, LevelManual)
	for _, lvl := range allLevels {
		c.SetLevel("c1", lvl)
		assert.Equal(t, lvl == LevelFullAuto, c.CanExecute("launch_missiles", "c1"), "level %s", lvl)
	}
}

func TestAutonomyPolicy_PartialMatch(t *testing.T) {
	p := DefaultAutonomyPolicy()
	cases := map[string]AutonomyLevel{
		"whois":               LevelCopilot,
		"WHOIS":               LevelCopilot,
		"dns_enum":            LevelCopilot,
		"subdomain_discovery": LevelCopilot,
		"nmap_scan":           LevelSemiAuto,
		"nuclei":              LevelSemiAuto,
		"metasploit_exploit":  LevelFullAuto,
		"sqlmap":              LevelFullAuto,
	}
	for action, want := range cases {
		assert.Equal(t, want, p.RequiredLevel(action), "action %q", action)
	}
}

func TestAutonomyPolicy_SetKeepsPosition(t *testing.T) {
	p := DefaultAutonomyPolicy()
	p.Set("nmap", LevelCopilot)
	assert.Equal(t, LevelCopilot, p.RequiredLevel("nmap"))
	p.Set("custom_recon", LevelManual)
	assert.Equal(t, LevelManual, p.RequiredLevel("custom_recon"))
}

func TestAutonomyController_MonotonicGating(t *testing.T) {
	c := newTestController(t, LevelManual)
	for _, action := range []string{"whois", "nmap_scan", "metasploit_exploit"} {
		required := c.Policy().RequiredLevel(action)
		for _, lvl := range allLevels {
			c.SetLevel("c1", lvl)
			assert.Equal(t, lvl >= required, c.CanExecute(action, "c1"), "action %s at %s", action, lvl)
		}
	}
}

func TestAutonomyController_GateMessagesAndAudit(t *testing.T) {
	c := newTestController(t, LevelCopilot)

	ok, msg := c.Gate("whois", map[string]any{"target": "example.com"}, "c1")
	assert.True(t, ok)
	assert.Equal(t, "Auto-executing: whois (level COPILOT)", msg)

	ok, msg = c.Gate("nmap_scan", nil, "c1")
	assert.False(t, ok)
	assert.Equal(t, "Action 'nmap_scan' requires level SEMI_AUTO, current level is COPILOT. User confirmation needed.", msg)

	entries := c.AuditLog().Entries(0)
	require.Len(t, entries, 2)
	assert.Equal(t, "auto_execute", entries[0].Event)
	assert.Equal(t, "confirmation_required", entries[1].Event)
	assert.Equal(t, "SEMI_AUTO", entries[1].Payload["required_level"])
}

func TestAutonomyController_SetLevel(t *testing.T) {
	c := newTestController(t, LevelCopilot)
	c.SetLevel("c1", LevelSemiAuto)

	assert.Equal(t, LevelSemiAuto, c.Level("c1"))
	assert.Equal(t, LevelCopilot, c.Level("c2"), "other conversations keep the default")

	c.SetLevel("", LevelManual)
	assert.Equal(t, LevelManual, c.Level("c2"))

	entries := c.AuditLog().Entries(0)
	require.Len(t, entries, 2)
	assert.Equal(t, "level_change", entries[0].Event)
	assert.Equal(t, "COPILOT", entries[0].Payload["old_level"])
	assert.Equal(t, "SEMI_AUTO", entries[0].Payload["new_level"])
}

func TestAutonomyController_RequestConfirmation(t *testing.T) {
	ctx := context.Background()
	details := map[string]any{"target": "example.com"}

	t.Run("no callback denies", func(t *testing.T) {
		c := newTestController(t, LevelManual)
		assert.False(t, c.RequestConfirmation(ctx, "nmap_scan", details))
		assert.Equal(t, 0, c.AuditLog().Len())
	})

	for _, tc := range []struct {
		reply string
		want  bool
	}{
		{"yes", true}, {" Y ", true}, {"ok", true}, {"approve", true}, {"", true},
		{"no", false}, {"maybe", false},
	} {
		t.Run("reply "+tc.reply, func(t *testing.T) {
			c := newTestController(t, LevelManual)
			var gotMessage string
			c.SetConfirmationCallback(func(_ context.Context, message string, _ map[string]any) (string, error) {
				gotMessage = message
				return tc.reply, nil
			})

			assert.Equal(t, tc.want, c.RequestConfirmation(ctx, "nmap_scan", details))
			assert.Equal(t, "Execute nmap_scan on example.com?", gotMessage)

			entries := c.AuditLog().Entries(0)
			require.Len(t, entries, 1)
			assert.Equal(t, "user_response", entries[0].Event)
			assert.Equal(t, tc.want, entries[0].Payload["approved"])
		})
	}

	t.Run("callback error denies", func(t *testing.T) {
		c := newTestController(t, LevelManual)
		c.SetConfirmationCallback(func(context.Context, string, map[string]any) (string, error) {
			return "yes", errors.New("terminal closed")
		})
		assert.False(t, c.RequestConfirmation(ctx, "nmap_scan", details))
	})

	t.Run("message without details", func(t *testing.T) {
		c := newTestController(t, LevelManual)
		var gotMessage string
		c.SetConfirmationCallback(func(_ context.Context, message string, _ map[string]any) (string, error) {
			gotMessage = message
			return "y", nil
		})
		c.RequestConfirmation(ctx, "whois", nil)
		assert.Equal(t, "Execute whois?", gotMessage)

		c.RequestConfirmation(ctx, "whois", map[string]any{})
		assert.Equal(t, "Execute whois on unknown?", gotMessage)
	})
}

func TestAutonomyController_ActionsForLevel(t *testing.T) {
	c := newTestController(t, LevelManual)

	assert.Empty(t, c.ActionsForLevel(LevelManual))
	copilot := c.ActionsForLevel(LevelCopilot)
	assert.Equal(t, []string{"amass", "censys", "dns", "recon", "shodan", "subdomain", "theharvester", "whois"}, copilot)
	assert.Len(t, c.ActionsForLevel(LevelSemiAuto), 17)
	assert.Len(t, c.ActionsForLevel(LevelFullAuto), 25)
}

func TestParseLevel(t *testing.T) {
	cases := map[string]AutonomyLevel{
		"manual": LevelManual, "0": LevelManual,
		"copilot": LevelCopilot, "semi-auto": LevelSemiAuto, "SEMI_AUTO": LevelSemiAuto,
		"full auto": LevelFullAuto, "3": LevelFullAuto,
	}
	for in, want := range cases {
		got, err := ParseLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseLevel("yolo")
	assert.Error(t, err)

	assert.Equal(t, "Copilot - Recon auto, exploits need approval", LevelCopilot.Description())
	assert.Equal(t, "LEVEL_9", AutonomyLevel(9).String())
}
