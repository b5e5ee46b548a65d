//go:build windows
// +build windows

// Copyright (c) 2026 Patchfleet Team
// Patchfleet - fleet inventory and patch orchestration
// This source code is licensed under the MIT license found in the LICENSE file.

package remote

import (
	"os"

	"github.com/Microsoft/go-winio"
	"github.com/davidmz/go-pageant"
	"golang.org/x/crypto/ssh/agent"
)

// getSSHAgent locates an agent on Windows: Pageant-compatible agents first,
// then the OpenSSH agent named pipe (SSH_AUTH_SOCK or the default pipe).
func getSSHAgent() agent.Agent {
	if pageant.Available() {
		return pageant.New()
	}

	pipe := os.Getenv("SSH_AUTH_SOCK")
	if pipe == "" {
		pipe = `\\.\pipe\openssh-ssh-agent`
	}
	agentConn, err := winio.DialPipe(pipe, nil)
	if err == nil && agentConn != nil {
		return agent.NewClient(agentConn)
	}
	return nil
}
