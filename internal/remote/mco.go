// Copyright (c) 2026 Patchfleet Team
// Patchfleet - fleet inventory and patch orchestration
// This source code is licensed under the MIT license found in the LICENSE file.

package remote

import (
	"fmt"
	"regexp"
	"strings"
)

// Management agent command lines run on the control node.
const (
	pingLine         = `mco ping`
	releaseInfoLine  = `mco shell run "(cat /etc/*-release && uname -msr) | sed '/^\s*$/d'"`
	installedLine    = `mco shell run "rpm -qa --qf '%{NAME} %{VERSION}-%{RELEASE}\n' || dpkg-query -W -f='\${Package} \${Version}\n'"`
	checkUpdatesLine = `mco rpc package checkupdates`
	updateLine       = `mco rpc package update package=%s`
)

// identPattern is the character set accepted for host and package names
// placed on a command line.
var identPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._+:~@-]*$`)

// ValidateIdentifier rejects names that could escape the command line.
func ValidateIdentifier(kind, v string) error {
	if len(v) > 255 || !identPattern.MatchString(v) {
		return fmt.Errorf("invalid %s name %q", kind, v)
	}
	return nil
}

func scoped(line string, hosts []string) (Command, error) {
	var b strings.Builder
	b.WriteString(line)
	for _, h := range hosts {
		if err := ValidateIdentifier("host", h); err != nil {
			return Command{}, err
		}
		b.WriteString(" -I ")
		b.WriteString(h)
	}
	return Command{Line: b.String()}, nil
}

// PingCommand probes which hosts answer the management agent.
func PingCommand() Command { return Command{Line: pingLine} }

// ReleaseInfoCommand prints os-release data and `uname -msr` per host.
func ReleaseInfoCommand(hosts ...string) (Command, error) { return scoped(releaseInfoLine, hosts) }

// InstalledCommand lists installed packages with rpm, falling back to dpkg.
func InstalledCommand(hosts ...string) (Command, error) { return scoped(installedLine, hosts) }

// CheckUpdatesCommand asks the package agent for outdated packages.
func CheckUpdatesCommand(hosts ...string) (Command, error) {
	cmd, err := scoped(checkUpdatesLine, hosts)
	cmd.PTY = true
	return cmd, err
}

// UpdatePackageCommand updates one package on one host.
func UpdatePackageCommand(pkg, host string) (Command, error) {
	if err := ValidateIdentifier("package", pkg); err != nil {
		return Command{}, err
	}
	if host == "" {
		return Command{}, fmt.Errorf("update of %s needs a target host", pkg)
	}
	return scoped(fmt.Sprintf(updateLine, pkg), []string{host})
}
