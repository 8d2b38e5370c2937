package store

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/vigil-cli/api/schemas"
	"github.com/xkilldash9x/vigil-cli/internal/config"
)

// Both local backends must behave the same way behind schemas.MemoryStore.
func TestMemoryStoreBackends(t *testing.T) {
	backends := map[string]func(t *testing.T) schemas.MemoryStore{
		"memory": func(t *testing.T) schemas.MemoryStore { return NewMemoryStore() },
		"sqlite": func(t *testing.T) schemas.MemoryStore {
			s, err := NewLocalStore(filepath.Join(t.TempDir(), "vigil.db"), zaptest.NewLogger(t))
			require.NoError(t, err)
			return s
		},
	}

	for name, open := range backends {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := open(t)
			t.Cleanup(func() { _ = s.Close() })

			// Verified targets
			domain, err := s.GetVerifiedTarget(ctx, "conv-1")
			require.NoError(t, err)
			assert.Empty(t, domain)

			require.NoError(t, s.SaveVerifiedTarget(ctx, "conv-1", "example.com"))
			require.NoError(t, s.SaveVerifiedTarget(ctx, "conv-1", "acme.co.za"))
			domain, err = s.GetVerifiedTarget(ctx, "conv-1")
			require.NoError(t, err)
			assert.Equal(t, "acme.co.za", domain, "a second save replaces the target")

			time.Sleep(2 * time.Millisecond)
			require.NoError(t, s.SaveVerifiedTarget(ctx, "conv-2", "example.org"))
			targets, err := s.ListVerifiedTargets(ctx, 10)
			require.NoError(t, err)
			require.Len(t, targets, 2)
			assert.Equal(t, "example.org", targets[0].Domain, "newest first")

			// Tool results keep insertion order and honour the limit.
			for i := 0; i < 5; i++ {
				require.NoError(t, s.SaveToolResult(ctx, "conv-1", schemas.ToolResult{
					ExecutionID: fmt.Sprintf("exec-%d", i),
					ToolName:    "dns_enum",
					Success:     i%2 == 0,
					StartedAt:   time.Now(),
				}))
			}
			recent, err := s.RecentToolResults(ctx, "conv-1", 3)
			require.NoError(t, err)
			require.Len(t, recent, 3)
			assert.Equal(t, []string{"exec-2", "exec-3", "exec-4"}, []string{recent[0].ExecutionID, recent[1].ExecutionID, recent[2].ExecutionID})

			none, err := s.RecentToolResults(ctx, "conv-unknown", 3)
			require.NoError(t, err)
			assert.Empty(t, none)

			// Agent context snapshots round trip.
			loaded, err := s.LoadAgentContext(ctx, "conv-1")
			require.NoError(t, err)
			assert.Nil(t, loaded)

			snapshot := schemas.AgentContext{
				Domain:          "acme.co.za",
				Subdomains:      []string{"mail.acme.co.za"},
				OpenPorts:       []schemas.PortFinding{{Host: "acme.co.za", Port: 443, Protocol: "tcp", Service: "https"}},
				AuthorizedScope: []string{"acme.co.za"},
				LastUpdated:     time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC),
			}
			require.NoError(t, s.SaveAgentContext(ctx, "conv-1", snapshot))
			loaded, err = s.LoadAgentContext(ctx, "conv-1")
			require.NoError(t, err)
			require.NotNil(t, loaded)
			if diff := cmp.Diff(snapshot, *loaded); diff != "" {
				t.Errorf("agent context mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestOpen(t *testing.T) {
	ctx := context.Background()
	logger := zaptest.NewLogger(t)

	s, err := Open(ctx, config.DatabaseConfig{Driver: config.DriverMemory}, logger)
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, s)

	s, err = Open(ctx, config.DatabaseConfig{Driver: config.DriverSQLite, SQLitePath: filepath.Join(t.TempDir(), "nested", "vigil.db")}, logger)
	require.NoError(t, err)
	assert.IsType(t, &LocalStore{}, s)
	require.NoError(t, s.Close())

	_, err = Open(ctx, config.DatabaseConfig{Driver: "oracle"}, logger)
	assert.ErrorContains(t, err, "unsupported database driver")
}
