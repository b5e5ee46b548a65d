// Copyright (c) 2026 Patchfleet Team
// Patchfleet - fleet inventory and patch orchestration
// This source code is licensed under the MIT license found in the LICENSE file.

package parser

import (
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/toeirei/patchfleet/internal/failure"
)

var liveHosts = []string{"puppet-master.server", "managed.server"}

const pingOutput = `puppet-master.server                     time=124.04 ms
managed.server                           time=119.36 ms


---- ping statistics ----
2 replies max: 124.04 min: 119.36 avg: 121.70
`

const releaseOutput = `
2 / 2

managed.server:
DISTRIB_ID=Ubuntu
DISTRIB_RELEASE=16.04
DISTRIB_CODENAME=xenial
DISTRIB_DESCRIPTION="Ubuntu 16.04.4 LTS"
NAME="Ubuntu"
VERSION="16.04.4 LTS (Xenial Xerus)"
ID=ubuntu
ID_LIKE=debian
PRETTY_NAME="Ubuntu 16.04.4 LTS"
VERSION_ID="16.04"
HOME_URL="http://www.ubuntu.com/"
VERSION_CODENAME=xenial
UBUNTU_CODENAME=xenial
Linux 4.4.0-127-generic x86_64

puppet-master.server:
CentOS Linux release 7.5.1804 (Core)
NAME="CentOS Linux"
VERSION="7 (Core)"
ID="centos"
ID_LIKE="rhel fedora"
VERSION_ID="7"
PRETTY_NAME="CentOS Linux 7 (Core)"
ANSI_COLOR="0;31"
CPE_NAME="cpe:/o:centos:centos:7"
CentOS Linux release 7.5.1804 (Core)
CentOS Linux release 7.5.1804 (Core)
Linux 3.10.0-862.2.3.el7.x86_64 x86_64


Finished processing ` + "\x1b[32m2\x1b[0m / \x1b[32m2\x1b[0m" + ` hosts in 129.34 ms
`

const installedOutput = `
2 / 2

managed.server:
app-1 5.4.0-6ubuntu1~16.04.10
app-2 1:2.4.47-2
app-3 1:7.2p2-4ubuntu2.4
app-4 1:9.9p2-4ubuntu2.4
    STDERR:
sh: 1: rpm: not found

puppet-master.server:
app-1 4.01-17.el7
gpg-pubkey f4a80eb5-53a7ff4b
app-2 7.4p1-16.el7
app-3 1.10.2-13.el7



Finished processing 2 / 2 hosts in 1166.34 ms
`

const updatesOutput = `Discovering hosts using the mc method for 2 second(s) .... 2

 ` + "\x1b[32m*\x1b[0m" + ` [ ============================================================> ] 2 / 2


managed.server
           Exit Code: 0
   Outdated Packages: [{:package=>"app-2",
                        :version=>"1:9.9.9",
                        :repo=>"Ubuntu:16.04/xenial-updates [amd64]"},
                       {:package=>"app-3",
                        :version=>"1:9.1.2",
                        :repo=>"Ubuntu:16.04/xenial-updates [amd64]"}]
              Output: Reading package lists...
     Package Manager: apt

puppet-master.server
           Exit Code: 100
   Outdated Packages: [{:package=>"app-1",
                        :version=>"1:9.9.9",
                        :repo=>"updates"},
                       {:package=>"gpg-pubkey",
                        :version=>"1",
                        :repo=>nil}]
              Output:
                      app-1               1:9.9.9                    updates
     Package Manager: yum



Finished processing 2 / 2 hosts in 3142.49 ms
`

func assertParseFailure(t *testing.T, err error) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected parse failure, got nil")
	}
	if !failure.Is(err, failure.KindParse) {
		t.Fatalf("expected parse kind, got %q (%v)", failure.KindOf(err), err)
	}
	var se *SyntaxError
	if !errors.As(err, &se) {
		t.Fatalf("expected *SyntaxError in chain: %v", err)
	}
}

func TestParseLiveness(t *testing.T) {
	hosts, err := ParseLiveness(pingOutput)
	if err != nil {
		t.Fatalf("ParseLiveness: %v", err)
	}
	if !reflect.DeepEqual(hosts, liveHosts) {
		t.Fatalf("unexpected hosts: %v", hosts)
	}
}

func TestParseLiveness_CRLFAndEmpty(t *testing.T) {
	hosts, err := ParseLiveness("a.example time=1 ms\r\nb.example time=2 ms\r\n\r\nfooter\r\n")
	if err != nil {
		t.Fatalf("ParseLiveness: %v", err)
	}
	if !reflect.DeepEqual(hosts, []string{"a.example", "b.example"}) {
		t.Fatalf("unexpected hosts: %v", hosts)
	}

	hosts, err = ParseLiveness("")
	if err != nil || len(hosts) != 0 {
		t.Fatalf("expected no hosts and no error, got %v %v", hosts, err)
	}
}

func TestParseLiveness_MissingTiming(t *testing.T) {
	_, err := ParseLiveness("a.example time=1 ms\nlonely\n\n")
	assertParseFailure(t, err)
}

func TestParseReleaseInfo(t *testing.T) {
	info, err := ParseReleaseInfo(releaseOutput, liveHosts)
	if err != nil {
		t.Fatalf("ParseReleaseInfo: %v", err)
	}
	want := map[string]OSInfo{
		"puppet-master.server": {Name: "CentOS Linux 7 (Core)", Version: "7 (Core)", Kernel: "Linux 3.10.0-862.2.3.el7.x86_64 x86_64"},
		"managed.server":       {Name: "Ubuntu 16.04.4 LTS", Version: "16.04.4 LTS (Xenial Xerus)", Kernel: "Linux 4.4.0-127-generic x86_64"},
	}
	if !reflect.DeepEqual(info, want) {
		t.Fatalf("unexpected info:\n got %#v\nwant %#v", info, want)
	}
}

func TestParseReleaseInfo_IgnoresUnknownHosts(t *testing.T) {
	out := "spurious.host:\nPRETTY_NAME=\"Nope\"\nLinux x\n\nmanaged.server:\nPRETTY_NAME=\"Debian\"\nVERSION=\"12\"\nLinux 6.1 x86_64\n\n"
	info, err := ParseReleaseInfo(out, []string{"managed.server"})
	if err != nil {
		t.Fatalf("ParseReleaseInfo: %v", err)
	}
	if len(info) != 1 || info["managed.server"].Name != "Debian" {
		t.Fatalf("unexpected info: %#v", info)
	}
}

func TestParseReleaseInfo_Failures(t *testing.T) {
	cases := map[string]string{
		"unterminated": "managed.server:\nPRETTY_NAME=\"Debian\"\nLinux 6.1",
		"missing host": "\n",
		"duplicate":    "managed.server:\nLinux a\n\nmanaged.server:\nLinux b\n\n",
	}
	for name, out := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseReleaseInfo(out, []string{"managed.server"})
			assertParseFailure(t, err)
		})
	}
}

func TestParseInstalled(t *testing.T) {
	got, err := ParseInstalled(installedOutput, liveHosts)
	if err != nil {
		t.Fatalf("ParseInstalled: %v", err)
	}
	want := map[string][]InstalledPackage{
		"puppet-master.server": {
			{"app-1", "4.01-17.el7"},
			{"app-2", "7.4p1-16.el7"},
			{"app-3", "1.10.2-13.el7"},
		},
		"managed.server": {
			{"app-1", "5.4.0-6ubuntu1~16.04.10"},
			{"app-2", "1:2.4.47-2"},
			{"app-3", "1:7.2p2-4ubuntu2.4"},
			{"app-4", "1:9.9p2-4ubuntu2.4"},
		},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("unexpected packages:\n got %#v\nwant %#v", got, want)
	}
}

func TestParseInstalled_SplitsOnFirstWhitespaceRun(t *testing.T) {
	got, err := ParseInstalled("h:\nkernel  \t 3.10.0 extra\n\n", []string{"h"})
	if err != nil {
		t.Fatalf("ParseInstalled: %v", err)
	}
	want := []InstalledPackage{{Name: "kernel", Version: "3.10.0 extra"}}
	if !reflect.DeepEqual(got["h"], want) {
		t.Fatalf("unexpected split: %#v", got["h"])
	}
}

func TestParseInstalled_MalformedLine(t *testing.T) {
	_, err := ParseInstalled("h:\njustaname\n\n", []string{"h"})
	assertParseFailure(t, err)
}

func TestParseInstalled_EveryLiveHostNeedsABlock(t *testing.T) {
	// managed.server answered ping but printed nothing
	out := "\n1 / 1\n\npuppet-master.server:\napp-1 4.01-17.el7\n\nFinished processing hosts\n"
	_, err := ParseInstalled(out, liveHosts)
	assertParseFailure(t, err)
	var se *SyntaxError
	if !errors.As(err, &se) || !strings.Contains(se.Msg, "managed.server") {
		t.Fatalf("expected the missing host to be named, got %v", err)
	}

	got, err := ParseInstalled("h:\n\n", []string{"h"})
	if err != nil {
		t.Fatalf("an empty block is still a block: %v", err)
	}
	if pkgs, ok := got["h"]; !ok || len(pkgs) != 0 {
		t.Fatalf("unexpected result: %#v", got)
	}
}

func TestParseUpdates(t *testing.T) {
	got, err := ParseUpdates(updatesOutput, liveHosts)
	if err != nil {
		t.Fatalf("ParseUpdates: %v", err)
	}
	want := map[string]HostUpdates{
		"managed.server": {
			Updates:        []Update{{"app-2", "1:9.9.9"}, {"app-3", "1:9.1.2"}},
			PackageManager: "apt",
		},
		"puppet-master.server": {
			Updates:        []Update{{"app-1", "1:9.9.9"}},
			PackageManager: "yum",
		},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("unexpected updates:\n got %#v\nwant %#v", got, want)
	}
}

func TestParseUpdates_ManagerWithoutUpdates(t *testing.T) {
	out := "managed.server\n   Exit Code: 0\n   Outdated Packages: []\n   Output:\n   Package Manager: apt\n\n"
	got, err := ParseUpdates(out, []string{"managed.server"})
	if err != nil {
		t.Fatalf("ParseUpdates: %v", err)
	}
	hu, ok := got["managed.server"]
	if !ok || hu.PackageManager != "apt" || len(hu.Updates) != 0 {
		t.Fatalf("unexpected section: %#v", got)
	}

	// no list at all still captures the manager
	got, err = ParseUpdates("managed.server\n   Package Manager: dnf\n\n", []string{"managed.server"})
	if err != nil || got["managed.server"].PackageManager != "dnf" {
		t.Fatalf("unexpected result %#v %v", got, err)
	}
}

func TestParseUpdates_ModernHashSyntax(t *testing.T) {
	out := "h\n Outdated Packages: [{package: \"openssh\", version: \"7.4p1-21.el7\", repo: nil}]\n Output:\n Package Manager: yum\n\n"
	got, err := ParseUpdates(out, []string{"h"})
	if err != nil {
		t.Fatalf("ParseUpdates: %v", err)
	}
	want := []Update{{Package: "openssh", Version: "7.4p1-21.el7"}}
	if !reflect.DeepEqual(got["h"].Updates, want) {
		t.Fatalf("unexpected updates: %#v", got["h"].Updates)
	}
}

func TestParseUpdates_Failures(t *testing.T) {
	cases := map[string]string{
		"no output line":     "h\n Outdated Packages: [{:package=>\"a\", :version=>\"1\"}]\n Package Manager: yum\n\n",
		"broken list":        "h\n Outdated Packages: [{:package=>\"a\", :version=>\"1\"\n Output:\n\n",
		"unterminated quote": "h\n Outdated Packages: [{:package=>\"a}]\n Output:\n\n",
		"missing version":    "h\n Outdated Packages: [{:package=>\"a\"}]\n Output:\n\n",
		"open section":       "h\n Package Manager: yum",
		"missing host":       "other\n Outdated Packages: []\n Output:\n\n",
	}
	for name, out := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseUpdates(out, []string{"h"})
			assertParseFailure(t, err)
		})
	}
}

func TestNormalizeRecordList_KeepsStringWhitespace(t *testing.T) {
	got, err := normalizeRecordList(`[{:repo=>"Ubuntu:16.04/xenial-updates [amd64]", :arch=>:x86_64}]`)
	if err != nil {
		t.Fatalf("normalizeRecordList: %v", err)
	}
	want := `[{"repo":"Ubuntu:16.04/xenial-updates [amd64]","arch":"x86_64"}]`
	if got != want {
		t.Fatalf("unexpected normalization:\n got %s\nwant %s", got, want)
	}
}
