// File: internal/tools/registry_test.go
package tools

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/vigil-cli/api/schemas"
	"github.com/xkilldash9x/vigil-cli/internal/config"
)

func TestLoadRegistry_EmbeddedCatalog(t *testing.T) {
	reg, err := LoadRegistry(config.ToolsConfig{}, zaptest.NewLogger(t))
	require.NoError(t, err)

	// Every name the planner tables refer to must resolve.
	for _, name := range []string{
		"whois_lookup", "dns_enum", "dns_lookup", "subdomain_discovery", "amass_enum",
		"nmap_scan", "ssl_scan", "shodan_search", "metasploit_exploit", "sql_injection_test",
	} {
		_, ok := reg.Get(name)
		assert.True(t, ok, "catalog is missing %s", name)
	}

	nmap, ok := reg.Get("NMAP")
	require.True(t, ok, "aliases resolve case-insensitively")
	assert.Equal(t, "nmap_scan", nmap.Name)
	assert.Equal(t, []string{"active"}, nmap.Mode)
	assert.Equal(t, "scanning", nmap.Category)

	_, quick, ok := nmap.Command("")
	require.True(t, ok)
	assert.Equal(t, 120*time.Second, quick.Timeout)

	whois, ok := reg.Get("whois")
	require.True(t, ok)
	_, lookup, _ := whois.Command("")
	assert.True(t, lookup.IsSuccess(1), "whois exits 1 on partial records")

	shodan, _ := reg.Get("shodan")
	assert.True(t, shodan.NeedsAuthorization())

	exploit, _ := reg.Get("metasploit")
	assert.Equal(t, "high", exploit.EffectiveRisk())
	assert.Equal(t, []string{"destructive"}, exploit.Mode)
}

func TestRegistry_ListSorted(t *testing.T) {
	reg, err := LoadRegistry(config.ToolsConfig{}, zaptest.NewLogger(t))
	require.NoError(t, err)

	list := reg.List()
	require.Equal(t, reg.Len(), len(list))
	for i := 1; i < len(list); i++ {
		assert.Less(t, list[i-1].Name, list[i].Name)
	}
}

func TestRegistry_OverlayCatalog(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tools.yaml")
	overlay := `
tools:
  - name: nmap_scan
    description: Custom nmap
    category: scanning
    aliases: [nmap]
    mode: [passive]
    executable: /opt/nmap
    commands:
      quick:
        args: ["-sn", "{target}"]
        timeout: 10s
  - name: gobuster_dir
    description: Directory brute force
    category: web
    mode: [active]
    executable: gobuster
    commands:
      dir:
        args: ["dir", "-u", "{url}"]
`
	require.NoError(t, os.WriteFile(path, []byte(overlay), 0o600))

	reg, err := LoadRegistry(config.ToolsConfig{CatalogPath: path}, zaptest.NewLogger(t))
	require.NoError(t, err)

	nmap, ok := reg.Get("nmap")
	require.True(t, ok)
	assert.Equal(t, "/opt/nmap", nmap.Executable)
	assert.Equal(t, []string{"passive"}, nmap.Mode)
	_, ok = reg.Get("port_scan")
	assert.False(t, ok, "replacing a tool drops its old aliases")

	_, ok = reg.Get("gobuster_dir")
	assert.True(t, ok)
}

func TestLoadRegistry_MissingCatalog(t *testing.T) {
	_, err := LoadRegistry(config.ToolsConfig{CatalogPath: filepath.Join(t.TempDir(), "nope.yaml")}, zaptest.NewLogger(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read tool catalog")
}

func TestRegistry_RegisterConflicts(t *testing.T) {
	reg := NewRegistry(zaptest.NewLogger(t))
	require.NoError(t, reg.Register(schemas.ToolDefinition{Name: "whois_lookup", Aliases: []string{"whois"}}))

	err := reg.Register(schemas.ToolDefinition{Name: "other", Aliases: []string{"whois"}})
	assert.ErrorContains(t, err, "already used by 'whois_lookup'")

	err = reg.Register(schemas.ToolDefinition{Name: "whois"})
	assert.ErrorContains(t, err, "already an alias")

	err = reg.Register(schemas.ToolDefinition{Name: "dns", Aliases: []string{"whois_lookup"}})
	assert.ErrorContains(t, err, "collides with a tool name")

	assert.Error(t, reg.Register(schemas.ToolDefinition{Name: "  "}))
	assert.Error(t, reg.LoadYAML([]byte("tools: [")))
}

func TestByCategoryAndNames(t *testing.T) {
	reg, err := LoadRegistry(config.ToolsConfig{}, zaptest.NewLogger(t))
	require.NoError(t, err)

	recon := ByCategory(reg, "RECON")
	require.NotEmpty(t, recon)
	assert.Equal(t, 1, recon[0].Priority)
	for _, def := range recon {
		assert.Equal(t, "recon", def.Category)
	}
	assert.Empty(t, ByCategory(reg, "nonexistent"))

	names := Names(reg)
	assert.Contains(t, names, "nmap")
	assert.Contains(t, names, "nmap_scan")
	assert.Contains(t, names, "sqlmap")
}
