// Copyright (c) 2026 Patchfleet Team
// Patchfleet - fleet inventory and patch orchestration
// This source code is licensed under the MIT license found in the LICENSE file.

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/toeirei/patchfleet/internal/cve"
	"github.com/toeirei/patchfleet/internal/db"
	"github.com/toeirei/patchfleet/internal/i18n"
	"github.com/toeirei/patchfleet/internal/jobs"
	"github.com/toeirei/patchfleet/internal/metrics"
	"github.com/toeirei/patchfleet/internal/patch"
	"github.com/toeirei/patchfleet/internal/remote"
	"github.com/toeirei/patchfleet/internal/state"
	"golang.org/x/crypto/ssh"
	"golang.org/x/term"
)

// Hooks for tests.
var (
	newDialer = func(keys remote.HostKeyStore, cfg remote.ConnectionConfig) remote.Dialer {
		return remote.NewSSHDialer(keys, cfg)
	}
	newCredentials = func(profiles map[string]remote.Profile) remote.CredentialProvider {
		return remote.ProfileProvider{Profiles: profiles}
	}
	newFeed = func(baseURL string) cve.Feed {
		return cve.NewRedHatFeed(baseURL, appConfig.Feed.Timeout)
	}
)

// passphrases remembers passphrases typed at the terminal until the command
// finishes.
var passphrases = state.NewPassphraseCache()

// services is the wired job machinery of one command run.
type services struct {
	Store      db.Store
	Metrics    *metrics.Metrics
	Queue      jobs.Queue
	Dispatcher *jobs.Dispatcher
	Runner     *jobs.Runner
	Worker     *jobs.Worker
	// Local is true when the queue lives in this process.
	Local bool
}

// newServices wires the configured queue and a runner. With interactive set
// an encrypted key without configured passphrase is unlocked from the
// terminal.
func newServices(ctx context.Context, interactive bool) (*services, error) {
	policy, err := patch.ParsePolicy(appConfig.Patch.UpdatePolicy)
	if err != nil {
		return nil, err
	}

	s := &services{Store: store, Metrics: metrics.New()}
	switch appConfig.Queue.Driver {
	case "", "local":
		s.Queue = jobs.NewLocalQueue(0)
		s.Local = true
	case "amqp":
		if appConfig.Queue.URL == "" {
			return nil, errors.New("queue.url is required for the amqp driver")
		}
		q, err := jobs.NewAMQPQueue(ctx, appConfig.Queue.URL)
		if err != nil {
			return nil, err
		}
		s.Queue = q
	default:
		return nil, fmt.Errorf("unknown queue driver %q", appConfig.Queue.Driver)
	}

	creds := newCredentials(appConfig.Profiles)
	if interactive {
		creds = promptingCredentials{CredentialProvider: creds, cache: passphrases, in: os.Stdin, out: os.Stderr}
	}
	dialer := newDialer(store, remote.ConnectionConfig{
		ConnectTimeout: appConfig.Transport.ConnectTimeout,
		CommandTimeout: appConfig.Transport.CommandTimeout,
	})

	s.Dispatcher = jobs.NewDispatcher(store, s.Queue, s.Metrics)
	s.Runner = jobs.NewRunner(store, dialer, creds, newFeed(appConfig.Feed.BaseURL), policy, s.Metrics)
	s.Worker = jobs.NewWorker(s.Queue, s.Runner, store, appConfig.Queue.Concurrency, s.Metrics)
	return s, nil
}

func (s *services) Close() error { return s.Queue.Close() }

// promptingCredentials asks for the passphrase of an encrypted key when no
// passphrase is configured and stdin is a terminal. An answer is asked once
// per owner and kept in cache.
type promptingCredentials struct {
	remote.CredentialProvider
	cache *state.PassphraseCache
	in    *os.File
	out   io.Writer
}

func (p promptingCredentials) Target(owner string) (remote.Target, error) {
	t, err := p.CredentialProvider.Target(owner)
	if err != nil || len(t.PrivateKey) == 0 || len(t.Passphrase) > 0 {
		return t, err
	}
	_, perr := ssh.ParsePrivateKey(t.PrivateKey)
	var missing *ssh.PassphraseMissingError
	if !errors.As(perr, &missing) {
		return t, nil
	}
	if cached := p.cache.Get(owner); cached != nil {
		t.Passphrase = cached
		return t, nil
	}
	fd := int(p.in.Fd())
	if !term.IsTerminal(fd) {
		return t, nil
	}
	fmt.Fprint(p.out, i18n.T("cli.passphrase.prompt", owner))
	pass, err := term.ReadPassword(fd)
	fmt.Fprintln(p.out)
	if err != nil {
		return t, fmt.Errorf("read passphrase: %w", err)
	}
	p.cache.Set(owner, pass)
	t.Passphrase = pass
	return t, nil
}
