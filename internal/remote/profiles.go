// Copyright (c) 2026 Patchfleet Team
// Patchfleet - fleet inventory and patch orchestration
// This source code is licensed under the MIT license found in the LICENSE file.

package remote

import (
	"fmt"
	"os"
)

// Profile is the configured control node of one owner.
type Profile struct {
	Address       string `mapstructure:"address" yaml:"address"`
	Port          int    `mapstructure:"port" yaml:"port"`
	Username      string `mapstructure:"username" yaml:"username"`
	KeyFile       string `mapstructure:"key_file" yaml:"key_file"`
	PassphraseEnv string `mapstructure:"passphrase_env" yaml:"passphrase_env"`
}

// readKeyFile is overridden in tests.
var readKeyFile = os.ReadFile

// ProfileProvider resolves targets from configured profiles.
type ProfileProvider struct {
	Profiles map[string]Profile
}

// Target implements CredentialProvider.
func (p ProfileProvider) Target(owner string) (Target, error) {
	prof, ok := p.Profiles[owner]
	if !ok {
		return Target{}, fmt.Errorf("no control node profile configured for owner %q", owner)
	}
	if prof.Address == "" || prof.Username == "" {
		return Target{}, fmt.Errorf("profile %q needs address and username", owner)
	}
	t := Target{Address: prof.Address, Port: prof.Port, Username: prof.Username}
	if prof.KeyFile != "" {
		key, err := readKeyFile(prof.KeyFile)
		if err != nil {
			return Target{}, fmt.Errorf("read key file of profile %q: %w", owner, err)
		}
		t.PrivateKey = key
	}
	if prof.PassphraseEnv != "" {
		t.Passphrase = []byte(os.Getenv(prof.PassphraseEnv))
	}
	return t, nil
}
