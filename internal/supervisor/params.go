// File: internal/supervisor/params.go
package supervisor

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/xkilldash9x/vigil-cli/internal/tools"
)

var (
	// "ports 80,443", "port 8080", "ports 1-1024 and 3306"
	portListRegex = regexp.MustCompile(`(?i)\bports?\s*:?\s*(\d{1,5}(?:\s*-\s*\d{1,5})?(?:\s*(?:,|and)\s*\d{1,5}(?:\s*-\s*\d{1,5})?)*)`)
	portItemRegex = regexp.MustCompile(`(\d{1,5})(?:\s*-\s*(\d{1,5}))?`)
)

// Parameters derives executor parameters for a target, adding the first port
// list found in texts.
func Parameters(target string, texts ...string) map[string]string {
	params := tools.TargetParameters(target)
	for _, text := range texts {
		if ports := extractPorts(text); ports != "" {
			params["ports"] = ports
			break
		}
	}
	return params
}

// extractPorts returns a normalized comma-separated port list, or "" when
// the text names no valid ports.
func extractPorts(text string) string {
	m := portListRegex.FindStringSubmatch(text)
	if len(m) < 2 {
		return ""
	}
	var items []string
	seen := make(map[string]bool)
	for _, item := range portItemRegex.FindAllStringSubmatch(m[1], -1) {
		lo, err := strconv.Atoi(item[1])
		if err != nil || lo < 1 || lo > 65535 {
			continue
		}
		spec := item[1]
		if item[2] != "" {
			hi, err := strconv.Atoi(item[2])
			if err != nil || hi < lo || hi > 65535 {
				continue
			}
			spec = item[1] + "-" + item[2]
		}
		if !seen[spec] {
			seen[spec] = true
			items = append(items, spec)
		}
	}
	return strings.Join(items, ",")
}
