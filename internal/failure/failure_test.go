// Copyright (c) 2026 Patchfleet Team
// Patchfleet - fleet inventory and patch orchestration
// This source code is licensed under the MIT license found in the LICENSE file.

package failure

import (
	"errors"
	"fmt"
	"testing"
)

func TestKindOf_WrappedChain(t *testing.T) {
	base := Newf(KindVerification, "verify update", "package %s still outdated", "openssh")
	wrapped := fmt.Errorf("update job: %w", base.OnHost("managed.server"))

	if got := KindOf(wrapped); got != KindVerification {
		t.Fatalf("expected verification, got %q", got)
	}
	if !Is(wrapped, KindVerification) {
		t.Fatalf("Is should match verification")
	}
	want := "update job: verify update [managed.server]: package openssh still outdated"
	if wrapped.Error() != want {
		t.Fatalf("unexpected message:\n got %q\nwant %q", wrapped.Error(), want)
	}
}

func TestKindOf_Unclassified(t *testing.T) {
	if got := KindOf(errors.New("boom")); got != KindInternal {
		t.Fatalf("expected internal, got %q", got)
	}
	if got := KindOf(nil); got != "" {
		t.Fatalf("expected empty kind for nil, got %q", got)
	}
}

func TestHelpersUnwrap(t *testing.T) {
	cause := errors.New("i/o timeout")
	err := Connection("dial control node", cause)
	if !errors.Is(err, cause) {
		t.Fatalf("expected cause to be reachable through Unwrap")
	}
	if KindOf(HostKey("dial", cause)) != KindHostKey {
		t.Fatalf("HostKey helper misclassified")
	}
	if KindOf(RemoteCommand("run", cause)) != KindRemoteCommand {
		t.Fatalf("RemoteCommand helper misclassified")
	}
	if KindOf(Parse("parse", cause)) != KindParse {
		t.Fatalf("Parse helper misclassified")
	}
}
