// Copyright (c) 2026 Patchfleet Team
// Patchfleet - fleet inventory and patch orchestration
// This source code is licensed under the MIT license found in the LICENSE file.

package cli

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/toeirei/patchfleet/internal/api"
	"github.com/toeirei/patchfleet/internal/logging"
)

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
}

// runAll runs every fn until the first returns, then cancels the rest and
// waits for them.
func runAll(ctx context.Context, fns ...func(context.Context) error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	errc := make(chan error, len(fns))
	for _, fn := range fns {
		go func(fn func(context.Context) error) { errc <- fn(ctx) }(fn)
	}
	first := <-errc
	cancel()
	errs := []error{first}
	for i := 1; i < len(fns); i++ {
		errs = append(errs, <-errc)
	}
	return errors.Join(errs...)
}

func newServeCmd() *cobra.Command {
	var withWorker bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API and the metrics endpoint",
		Long: `Serves the job and fleet API. With the local queue the jobs run in this
process; with the amqp queue they are published to the broker and run by
'patchfleet worker' processes, unless --worker is given.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext(cmd.Context())
			defer stop()

			svc, err := newServices(ctx, false)
			if err != nil {
				return err
			}
			defer func() { _ = svc.Close() }()

			app := api.New(svc.Store, svc.Dispatcher)
			fns := []func(context.Context) error{
				func(ctx context.Context) error { return api.Listen(ctx, app, appConfig.API.Listen) },
			}
			if appConfig.Metrics.Listen != "" {
				fns = append(fns, func(ctx context.Context) error { return svc.Metrics.Serve(ctx, appConfig.Metrics.Listen) })
			}
			if svc.Local || withWorker {
				fns = append(fns, svc.Worker.Run)
			}
			logging.Infof("serving api on %s (queue %s)", appConfig.API.Listen, queueName(svc.Local))
			return runAll(ctx, fns...)
		},
	}
	cmd.Flags().BoolVar(&withWorker, "worker", false, "Also consume jobs from the broker")
	return cmd
}

func newWorkerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Consume jobs from the broker",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext(cmd.Context())
			defer stop()

			svc, err := newServices(ctx, false)
			if err != nil {
				return err
			}
			defer func() { _ = svc.Close() }()
			if svc.Local {
				return errors.New("the worker command needs queue.driver amqp; the local queue runs inside 'patchfleet serve'")
			}

			fns := []func(context.Context) error{svc.Worker.Run}
			if appConfig.Metrics.Listen != "" {
				fns = append(fns, func(ctx context.Context) error { return svc.Metrics.Serve(ctx, appConfig.Metrics.Listen) })
			}
			return runAll(ctx, fns...)
		},
	}
}

func queueName(local bool) string {
	if local {
		return "local"
	}
	return "amqp"
}
