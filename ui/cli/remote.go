// Copyright (c) 2026 Patchfleet Team
// Patchfleet - fleet inventory and patch orchestration
// This source code is licensed under the MIT license found in the LICENSE file.

package cli

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/toeirei/patchfleet/internal/fleet"
	"github.com/toeirei/patchfleet/internal/i18n"
	"github.com/toeirei/patchfleet/internal/remote"
	"golang.org/x/crypto/ssh"
)

// getRemoteHostKey is overridden in tests.
var getRemoteHostKey = remote.GetRemoteHostKey

// promptIn is where confirmations are read from.
var promptIn io.Reader = os.Stdin

// newCheckCmd validates a profile the way a first connection would: it dials
// the control node and lists the hosts answering the management agent.
func newCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Check the connection to the control node and list live hosts",
		RunE: func(cmd *cobra.Command, args []string) error {
			owner, err := resolveOwner()
			if err != nil {
				return err
			}
			svc, err := newServices(cmd.Context(), true)
			if err != nil {
				return err
			}
			defer func() { _ = svc.Close() }()

			target, err := svc.Runner.Credentials.Target(owner)
			if err != nil {
				return err
			}
			sess, err := svc.Runner.Dialer.Dial(cmd.Context(), target)
			if err != nil {
				return err
			}
			defer func() { _ = sess.Close() }()

			live, err := fleet.Live(cmd.Context(), sess)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, i18n.T("cli.check.live", len(live)))
			for _, h := range live {
				fmt.Fprintf(out, "  %s\n", h)
			}
			return nil
		},
	}
}

func newTrustHostCmd() *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "trust-host",
		Short: "Pin the host key of the owner's control node",
		Long: `Connects to the control node of the owner, shows the fingerprint of its host
key and stores the key as trusted after confirmation. Patchfleet refuses to
talk to a control node whose key is not pinned.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			owner, err := resolveOwner()
			if err != nil {
				return err
			}
			prof, ok := appConfig.Profiles[owner]
			if !ok || prof.Address == "" {
				return fmt.Errorf("no control node profile configured for owner %q", owner)
			}
			addr := remote.Target{Address: prof.Address, Port: prof.Port}.Addr()
			host := remote.HostKeyID(addr)
			out := cmd.OutOrStdout()

			fmt.Fprintln(out, i18n.T("cli.trust.fetching", addr))
			key, err := getRemoteHostKey(addr, appConfig.Transport.ConnectTimeout)
			if err != nil {
				return err
			}
			keyStr := strings.TrimSpace(string(ssh.MarshalAuthorizedKey(key)))
			fmt.Fprintln(out, i18n.T("cli.trust.fingerprint", host, ssh.FingerprintSHA256(key)))

			reader := bufio.NewReader(promptIn)
			known, err := store.GetKnownHostKey(cmd.Context(), host)
			if err != nil {
				return err
			}
			switch {
			case known == keyStr:
				fmt.Fprintln(out, i18n.T("cli.trust.unchanged", host))
				return nil
			case known != "":
				if !yes && !confirm(out, reader, i18n.T("cli.trust.replace", host)) {
					fmt.Fprintln(out, i18n.T("cli.trust.cancelled"))
					return nil
				}
				if err := store.DeleteKnownHostKey(cmd.Context(), host); err != nil {
					return err
				}
			default:
				if !yes && !confirm(out, reader, i18n.T("cli.trust.confirm")) {
					fmt.Fprintln(out, i18n.T("cli.trust.cancelled"))
					return nil
				}
			}
			if err := store.AddKnownHostKey(cmd.Context(), host, keyStr); err != nil {
				return err
			}
			fmt.Fprintln(out, i18n.T("cli.trust.pinned", host))
			return nil
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Trust the key without asking")
	return cmd
}

// confirm prints prompt and reads one answer line.
func confirm(w io.Writer, r *bufio.Reader, prompt string) bool {
	fmt.Fprint(w, prompt)
	answer, _ := r.ReadString('\n')
	switch strings.TrimSpace(strings.ToLower(answer)) {
	case "y", "yes", "j", "ja":
		return true
	}
	return false
}
