package util

import (
	"regexp"
	"strings"
)

var toolNameUnsafe = regexp.MustCompile(`[^a-zA-Z0-9_-]+`)

// ToolName builds a provider safe tool name (letters, digits, '_' and '-',
// at most 64 characters) from a prefix and an agent id.
func ToolName(prefix, agentID string) string {
	name := prefix + strings.Trim(toolNameUnsafe.ReplaceAllString(agentID, "_"), "_")
	if len(name) > 64 {
		name = name[:64]
	}
	return name
}
