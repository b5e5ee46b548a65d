// Copyright (c) 2026 Patchfleet Team
// Patchfleet - fleet inventory and patch orchestration
// This source code is licensed under the MIT license found in the LICENSE file.

// package remote runs commands on the fleet's control node over SSH. The
// control node hosts the management agent client (mco) that reaches every
// managed host.
package remote // import "github.com/toeirei/patchfleet/internal/remote"

import (
	"context"
	"net"
	"strconv"
)

// Command is one command line for the control node.
type Command struct {
	Line string
	// PTY requests a pseudo terminal for the command.
	PTY bool
}

func (c Command) String() string { return c.Line }

// Session executes commands on one connected control node. Run returns the
// command's standard output or fails; a command that exits non-zero is a
// remote command failure.
type Session interface {
	Run(ctx context.Context, cmd Command) (string, error)
	Close() error
}

// Target describes how to reach and authenticate against a control node.
type Target struct {
	Address  string
	Port     int
	Username string
	// PrivateKey is a PEM encoded key. When empty, or when the key is
	// rejected, the SSH agent is tried.
	PrivateKey []byte
	Passphrase []byte
}

// Addr returns host:port, defaulting the port to 22.
func (t Target) Addr() string {
	host, port, err := net.SplitHostPort(t.Address)
	if err == nil {
		return net.JoinHostPort(host, port)
	}
	p := t.Port
	if p == 0 {
		p = 22
	}
	return net.JoinHostPort(t.Address, strconv.Itoa(p))
}

// Dialer opens sessions to control nodes.
type Dialer interface {
	Dial(ctx context.Context, target Target) (Session, error)
}

// CredentialProvider resolves the control node target of an owner.
type CredentialProvider interface {
	Target(owner string) (Target, error)
}
