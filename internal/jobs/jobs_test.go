// Copyright (c) 2026 Patchfleet Team
// Patchfleet - fleet inventory and patch orchestration
// This source code is licensed under the MIT license found in the LICENSE file.

package jobs

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/toeirei/patchfleet/internal/cve"
	"github.com/toeirei/patchfleet/internal/db"
	"github.com/toeirei/patchfleet/internal/failure"
	"github.com/toeirei/patchfleet/internal/metrics"
	"github.com/toeirei/patchfleet/internal/model"
	"github.com/toeirei/patchfleet/internal/patch"
	"github.com/toeirei/patchfleet/internal/remote"
	"github.com/toeirei/patchfleet/internal/testutil"
)

var web = testutil.Host{
	Name: "web-01.example", OSName: "CentOS Linux 7 (Core)", OSVersion: "7 (Core)", Manager: "yum",
	Installed: [][2]string{{"openssh.x86_64", "7.4p1-16.el7"}},
	Updates:   [][2]string{{"openssh.x86_64", "7.4p1-21.el7"}},
}

type failingQueue struct{ LocalQueue }

func (*failingQueue) Publish(context.Context, Envelope) error { return errors.New("broker unreachable") }

type stubExecutor struct {
	out   model.JobOutcome
	err   error
	panic bool
	calls int
}

func (s *stubExecutor) Execute(ctx context.Context, env Envelope) (model.JobOutcome, error) {
	s.calls++
	if s.panic {
		panic("boom")
	}
	return s.out, s.err
}

func newRunner(t *testing.T, store db.Store, sess *testutil.FakeSession) *Runner {
	t.Helper()
	feed := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("package") == "openssh-7.4p1-16.el7" {
			_, _ = w.Write([]byte(`[{"CVE":"CVE-2017-15906","severity":"low","bugzilla_description":"CVE-2017-15906 openssh: readonly bypass","cvss3_score":"5.3"}]`))
			return
		}
		_, _ = w.Write([]byte(`[]`))
	}))
	t.Cleanup(feed.Close)
	return NewRunner(store, &testutil.FakeDialer{Session: sess}, testutil.StaticCredentials{},
		cve.NewRedHatFeed(feed.URL, time.Second), patch.PolicyAbort, metrics.New())
}

func result(t *testing.T, store db.Store, id string) *model.JobResult {
	t.Helper()
	res, err := store.GetJobResult(context.Background(), id)
	if err != nil {
		t.Fatalf("GetJobResult: %v", err)
	}
	return res
}

func TestDispatch_CreatesJobAndPublishes(t *testing.T) {
	store := testutil.NewStore(t)
	q := NewLocalQueue(4)
	d := NewDispatcher(store, q, nil)

	job, err := d.Dispatch(context.Background(), Request{Kind: KindInventory, Owner: "alice"})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if q.Len() != 1 || job.Kind != "inventory" || job.Label != "Fleet inventory" {
		t.Fatalf("unexpected dispatch: %+v len=%d", job, q.Len())
	}
	views, _ := d.Poll(context.Background(), "alice")
	if len(views) != 1 || views[0].Status != model.JobDispatched || views[0].Surfaced {
		t.Fatalf("unexpected views: %+v", views)
	}
}

func TestDispatch_RejectsInvalidRequests(t *testing.T) {
	d := NewDispatcher(testutil.NewStore(t), NewLocalQueue(1), nil)
	bad := []Request{
		{Kind: KindInventory},
		{Kind: "reboot", Owner: "alice"},
		{Kind: KindUpdatePackage, Owner: "alice"},
		{Kind: KindUpdateHost, Owner: "alice"},
		{Kind: KindInventory, Owner: "alice", Hosts: []string{"a;b"}},
	}
	for _, req := range bad {
		if _, err := d.Dispatch(context.Background(), req); err == nil {
			t.Errorf("expected %+v to be rejected", req)
		}
	}
}

func TestDispatch_PublishFailureIsSurfaced(t *testing.T) {
	store := testutil.NewStore(t)
	d := NewDispatcher(store, &failingQueue{}, nil)

	job, err := d.Dispatch(context.Background(), Request{Kind: KindScanCVE, Owner: "alice"})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	res := result(t, store, job.ID)
	if res.Status != model.JobFailed || !strings.Contains(res.Outcome.Detail, "broker unreachable") {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestPoll_SurfacesTerminalJobsOnce(t *testing.T) {
	store := testutil.NewStore(t)
	d := NewDispatcher(store, NewLocalQueue(4), nil)
	job, _ := d.Dispatch(context.Background(), Request{Kind: KindInventory, Owner: "alice"})
	if err := store.PutJobResult(context.Background(), model.JobResult{JobID: job.ID, Status: model.JobSucceeded}); err != nil {
		t.Fatalf("PutJobResult: %v", err)
	}

	first, _ := d.Poll(context.Background(), "alice")
	second, _ := d.Poll(context.Background(), "alice")
	if !first[0].Surfaced || second[0].Surfaced || !second[0].Notified {
		t.Fatalf("expected exactly one surfacing poll: %+v %+v", first[0], second[0])
	}

	if n, err := d.Clear(context.Background(), "alice"); err != nil || n != 1 {
		t.Fatalf("Clear = %d, %v", n, err)
	}
	if views, _ := d.Poll(context.Background(), "alice"); len(views) != 0 {
		t.Fatalf("expected no jobs after clear, got %+v", views)
	}
}

func TestClear_KeepsUnsurfacedJobs(t *testing.T) {
	store := testutil.NewStore(t)
	d := NewDispatcher(store, NewLocalQueue(4), nil)
	_, _ = d.Dispatch(context.Background(), Request{Kind: KindInventory, Owner: "alice"})
	if n, _ := d.Clear(context.Background(), "alice"); n != 0 {
		t.Fatalf("running jobs must not be cleared, cleared %d", n)
	}
}

func TestRedispatch_UsesStoredRequest(t *testing.T) {
	store := testutil.NewStore(t)
	q := NewLocalQueue(4)
	d := NewDispatcher(store, q, nil)
	first, _ := d.Dispatch(context.Background(), Request{Kind: KindUpdateHost, Owner: "alice", SystemID: 7})

	again, err := d.Redispatch(context.Background(), "alice", first.ID)
	if err != nil {
		t.Fatalf("Redispatch: %v", err)
	}
	if again.ID == first.ID || again.Label != first.Label {
		t.Fatalf("expected a new job with the same request: %+v vs %+v", again, first)
	}
	if _, err := d.Redispatch(context.Background(), "bob", first.ID); !errors.Is(err, db.ErrNotFound) {
		t.Fatalf("another owner's job must not be redispatched: %v", err)
	}
}

func TestWorker_RecordsLocalizedFailure(t *testing.T) {
	store := testutil.NewStore(t)
	d := NewDispatcher(store, NewLocalQueue(4), nil)
	job, _ := d.Dispatch(context.Background(), Request{Kind: KindInventory, Owner: "alice"})

	exec := &stubExecutor{err: failure.Connection("connect", errors.New("connection refused"))}
	w := NewWorker(nil, exec, store, 1, nil)
	if err := w.Handle(context.Background(), Envelope{JobID: job.ID, Request: Request{Kind: KindInventory, Owner: "alice"}}); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	res := result(t, store, job.ID)
	if res.Status != model.JobFailed || res.Outcome.Kind != "connection" || res.Outcome.Message != "Could not reach the control node" {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestWorker_SkipsFinishedJobs(t *testing.T) {
	store := testutil.NewStore(t)
	_ = store.PutJobResult(context.Background(), model.JobResult{JobID: "done", Status: model.JobSucceeded})
	exec := &stubExecutor{}
	w := NewWorker(nil, exec, store, 1, nil)
	if err := w.Handle(context.Background(), Envelope{JobID: "done"}); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if exec.calls != 0 {
		t.Fatalf("finished job must not run again")
	}
}

func TestWorker_RedeliveredRunningJobFailsWithoutExecuting(t *testing.T) {
	store := testutil.NewStore(t)
	_ = store.PutJobResult(context.Background(), model.JobResult{JobID: "r1", Status: model.JobRunning})
	exec := &stubExecutor{}
	w := NewWorker(nil, exec, store, 1, nil)
	env := Envelope{JobID: "r1", Request: Request{Kind: KindUpdatePackage, Owner: "alice", PackageID: 7}}
	if err := w.Handle(context.Background(), env); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if exec.calls != 0 {
		t.Fatalf("job found running must not execute again, ran %d time(s)", exec.calls)
	}
	res := result(t, store, "r1")
	if res.Status != model.JobFailed || res.Outcome.Kind != "internal" {
		t.Fatalf("unexpected result: %+v", res)
	}
	if res.Outcome.Message != "The worker running this job was lost; it was not run again" {
		t.Fatalf("unexpected message: %q", res.Outcome.Message)
	}

	// the failure is terminal, so a further delivery is skipped
	if err := w.Handle(context.Background(), env); err != nil || exec.calls != 0 {
		t.Fatalf("second redelivery: err=%v calls=%d", err, exec.calls)
	}
}

func TestWorker_PanicBecomesInternalFailure(t *testing.T) {
	store := testutil.NewStore(t)
	w := NewWorker(nil, &stubExecutor{panic: true}, store, 1, nil)
	if err := w.Handle(context.Background(), Envelope{JobID: "p1"}); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if res := result(t, store, "p1"); res.Status != model.JobFailed || res.Outcome.Kind != "internal" {
		t.Fatalf("unexpected result: %+v", res)
	}
}

type cancellingExecutor struct{ cancel context.CancelFunc }

func (c cancellingExecutor) Execute(ctx context.Context, _ Envelope) (model.JobOutcome, error) {
	c.cancel()
	if err := ctx.Err(); err != nil {
		return model.JobOutcome{}, err
	}
	return model.JobOutcome{Message: "ok"}, nil
}

func TestWorker_CancellationDoesNotInterruptStartedJob(t *testing.T) {
	store := testutil.NewStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w := NewWorker(nil, cancellingExecutor{cancel: cancel}, store, 1, nil)
	if err := w.Handle(ctx, Envelope{JobID: "c1"}); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if res := result(t, store, "c1"); res.Status != model.JobSucceeded {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestEndToEnd_InventoryScanAndUpdate(t *testing.T) {
	store := testutil.NewStore(t)
	invSess := testutil.NewFakeSession()
	testutil.ScriptInventory(invSess, web)

	updSess := testutil.NewFakeSession()
	updSess.On(remote.PingCommand(), testutil.PingOutput(web))
	testutil.ScriptUpdate(updSess, "openssh", web.Name)
	patched := web
	patched.Installed = [][2]string{{"openssh.x86_64", "7.4p1-21.el7"}}
	patched.Updates = nil
	testutil.ScriptHostQuery(updSess, patched)

	q := NewLocalQueue(8)
	d := NewDispatcher(store, q, nil)
	runner := newRunner(t, store, invSess)
	w := NewWorker(q, runner, store, 1, nil)
	ctx := context.Background()

	run := func(req Request) *model.JobResult {
		t.Helper()
		job, err := d.Dispatch(ctx, req)
		if err != nil {
			t.Fatalf("Dispatch: %v", err)
		}
		env := <-q.ch
		if err := w.Handle(ctx, env); err != nil {
			t.Fatalf("Handle: %v", err)
		}
		return result(t, store, job.ID)
	}

	if res := run(Request{Kind: KindInventory, Owner: "alice"}); res.Status != model.JobSucceeded {
		t.Fatalf("inventory failed: %+v", res)
	}
	sys, err := store.GetSystemByHostname(ctx, "alice", web.Name)
	if err != nil {
		t.Fatalf("system not stored: %v", err)
	}

	if res := run(Request{Kind: KindScanCVE, Owner: "alice"}); res.Status != model.JobSucceeded {
		t.Fatalf("scan failed: %+v", res)
	}
	if cves, _ := store.ListCVEs(ctx, sys.ID); len(cves) != 1 {
		t.Fatalf("expected one cve, got %+v", cves)
	}

	if !invSess.Closed() {
		t.Fatalf("session must be closed after the job")
	}

	runner.Dialer = &testutil.FakeDialer{Session: updSess}
	pending, _ := store.PendingPackages(ctx, sys.ID)
	if len(pending) != 1 {
		t.Fatalf("expected one pending package, got %+v", pending)
	}
	res := run(Request{Kind: KindUpdatePackage, Owner: "alice", PackageID: pending[0].ID})
	if res.Status != model.JobSucceeded || res.Outcome.Message != "Package openssh updated on web-01.example" {
		t.Fatalf("update failed: %+v", res)
	}
	if pending, _ := store.PendingPackages(ctx, sys.ID); len(pending) != 0 {
		t.Fatalf("expected no pending packages after update, got %+v", pending)
	}
}

func TestRunner_DialFailure(t *testing.T) {
	store := testutil.NewStore(t)
	r := newRunner(t, store, nil)
	r.Dialer = &testutil.FakeDialer{Err: failure.HostKey("verify host key", &remote.HostKeyError{Host: "control.test", Unknown: true})}
	_, err := r.Execute(context.Background(), Envelope{Request: Request{Kind: KindInventory, Owner: "alice"}})
	if !failure.Is(err, failure.KindHostKey) {
		t.Fatalf("expected host_key failure, got %v", err)
	}
}

func TestLocalQueue_ConsumeAndClose(t *testing.T) {
	q := NewLocalQueue(2)
	done := make(chan string, 2)
	go func() {
		_ = q.Consume(context.Background(), 2, func(_ context.Context, env Envelope) error {
			done <- env.JobID
			return nil
		})
	}()
	_ = q.Publish(context.Background(), Envelope{JobID: "a"})
	select {
	case id := <-done:
		if id != "a" {
			t.Fatalf("unexpected job %q", id)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("envelope was not consumed")
	}
	_ = q.Close()
	if err := q.Publish(context.Background(), Envelope{JobID: "b"}); !errors.Is(err, ErrQueueClosed) {
		t.Fatalf("expected ErrQueueClosed, got %v", err)
	}
}
