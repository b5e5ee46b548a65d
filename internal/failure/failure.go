// Copyright (c) 2026 Patchfleet Team
// Patchfleet - fleet inventory and patch orchestration
// This source code is licensed under the MIT license found in the LICENSE file.

// Package failure classifies errors raised while running fleet jobs so the
// job layer can report a stable failure kind and a localized message.
package failure

import (
	"errors"
	"fmt"
)

// Kind is the category of a job failure.
type Kind string

const (
	KindConnection    Kind = "connection"
	KindHostKey       Kind = "host_key"
	KindRemoteCommand Kind = "remote_command"
	KindParse         Kind = "parse"
	KindVerification  Kind = "verification"
	KindTargetNotLive Kind = "target_not_live"
	KindFeed          Kind = "feed"
	KindInternal      Kind = "internal"
)

// Error is a classified error. Op names the failing step, Host the remote
// host where relevant.
type Error struct {
	Kind Kind
	Op   string
	Host string
	Err  error
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Op != "" {
		msg = e.Op
	}
	if e.Host != "" {
		msg += " [" + e.Host + "]"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// New returns a classified error.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Newf returns a classified error with a formatted cause.
func Newf(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// OnHost returns a copy of e scoped to host.
func (e *Error) OnHost(host string) *Error {
	c := *e
	c.Host = host
	return &c
}

// Connection wraps a transport, authentication or timeout error.
func Connection(op string, err error) error { return New(KindConnection, op, err) }

// HostKey wraps a host-key verification error.
func HostKey(op string, err error) error { return New(KindHostKey, op, err) }

// RemoteCommand wraps a command that exited with an error.
func RemoteCommand(op string, err error) error { return New(KindRemoteCommand, op, err) }

// Parse wraps a structural parse error.
func Parse(op string, err error) error { return New(KindParse, op, err) }

// KindOf returns the kind of the first classified error in err's chain, or
// KindInternal when nothing in the chain is classified.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindInternal
}

// Is reports whether err is classified as kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
