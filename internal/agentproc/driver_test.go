// Copyright (C) 2026 Ariadne Build Contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package agentproc

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTimeoutMultiplier(t *testing.T) {
	require.Equal(t, 1.5, TimeoutMultiplier("Deploy to staging"))
	require.Equal(t, 1.5, TimeoutMultiplier("integration_test"))
	require.Equal(t, 1.0, TimeoutMultiplier("foundation"))
}

func TestBuildArgsIncludesAllowedToolsAndMCPConfig(t *testing.T) {
	args := buildArgs(Invocation{
		Model:         "claude-3-opus-20240229",
		MaxTurns:      10,
		OutputFormat:  "stream-json",
		AllowedTools:  []string{"create", "write"},
		MCPConfigPath: "/tmp/.mcp.json",
	})
	require.Contains(t, args, "--allowed-tools")
	require.Contains(t, args, "create,write")
	require.Contains(t, args, "--mcp-config")
}
