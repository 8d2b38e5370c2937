// File: internal/authz/audit_test.go
package authz

import (
	"bytes"
	"fmt"
	"sync"
	"testing"

	json "github.com/json-iterator/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuditLog_RetainsMostRecent(t *testing.T) {
	log := NewAuditLog(DefaultAuditCapacity)
	for i := 0; i < 1500; i++ {
		log.Append("event", map[string]any{"seq": i})
	}

	require.Equal(t, 1000, log.Len())
	entries := log.Entries(0)
	require.Len(t, entries, 1000)
	for i, e := range entries {
		assert.Equal(t, 500+i, e.Payload["seq"], "entries must be oldest first")
	}

	last := log.Entries(3)
	require.Len(t, last, 3)
	assert.Equal(t, 1497, last[0].Payload["seq"])
	assert.Equal(t, 1499, last[2].Payload["seq"])
}

func TestAuditLog_PartiallyFilled(t *testing.T) {
	log := NewAuditLog(5)
	for i := 0; i < 3; i++ {
		log.Append(fmt.Sprintf("e%d", i), nil)
	}
	entries := log.Entries(10)
	require.Len(t, entries, 3)
	assert.Equal(t, "e0", entries[0].Event)
	assert.Equal(t, "e2", entries[2].Event)
	assert.NotEmpty(t, entries[0].ID)
	assert.Equal(t, "UTC", entries[0].Timestamp.Location().String())
}

func TestAuditLog_ConcurrentAppend(t *testing.T) {
	log := NewAuditLog(100)
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				log.Append("concurrent", nil)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 100, log.Len())
}

func TestAuditLog_Export(t *testing.T) {
	log := NewAuditLog(10)
	log.Append("level_change", map[string]any{"new_level": "COPILOT"})

	var buf bytes.Buffer
	require.NoError(t, log.Export(&buf))

	var decoded []AuditEntry
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	require.Len(t, decoded, 1)
	assert.Equal(t, "level_change", decoded[0].Event)
	assert.Equal(t, "COPILOT", decoded[0].Payload["new_level"])
}
