// Copyright (c) 2026 Patchfleet Team
// Patchfleet - fleet inventory and patch orchestration
// This source code is licensed under the MIT license found in the LICENSE file.

package model

import "strings"

// PackageManagerKind is the closed set of package manager families that drive
// update and vulnerability semantics.
type PackageManagerKind int

const (
	// PackageManagerUnsupported covers every identifier we do not know.
	PackageManagerUnsupported PackageManagerKind = iota
	PackageManagerRPM
	PackageManagerDebian
)

// String returns a stable name for the kind.
func (k PackageManagerKind) String() string {
	switch k {
	case PackageManagerRPM:
		return "rpm"
	case PackageManagerDebian:
		return "debian"
	case PackageManagerUnsupported:
		return "unsupported"
	}
	return "unsupported"
}

// ParsePackageManager maps the identifier reported by the agent onto a kind.
func ParsePackageManager(id string) PackageManagerKind {
	switch strings.ToLower(strings.TrimSpace(id)) {
	case "yum", "dnf", "rpm":
		return PackageManagerRPM
	case "apt", "apt-get", "dpkg":
		return PackageManagerDebian
	default:
		return PackageManagerUnsupported
	}
}

// archSuffixes are the architecture tags package managers append to names
// (yum: "openssh.x86_64", apt: "openssl:amd64").
var archSuffixes = []string{
	"x86_64", "i386", "i486", "i586", "i686", "noarch", "aarch64", "armv7hl",
	"ppc64le", "ppc64", "s390x", "amd64", "arm64", "armhf", "armel", "all", "src",
}

// CanonicalPackageName strips a trailing architecture tag from a package name.
// Package identity is always the stripped name.
func CanonicalPackageName(name string) string {
	name = strings.TrimSpace(name)
	i := strings.LastIndexAny(name, ".:")
	if i <= 0 || i == len(name)-1 {
		return name
	}
	arch := name[i+1:]
	for _, a := range archSuffixes {
		if arch == a {
			return name[:i]
		}
	}
	return name
}
