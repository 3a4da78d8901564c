package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"webcall/internal/calls"
	"webcall/internal/config"
	"webcall/internal/credentials"
	"webcall/internal/kvstore"
	"webcall/internal/telephony/sim"
	"webcall/internal/token"
	"webcall/pkg/logger"

	"github.com/spf13/cobra"
)

// simFlags tune the simulated provider used by the client commands.
type simFlags struct {
	registerDelay time.Duration
	acceptDelay   time.Duration
	maxDuration   time.Duration
	reject        bool
}

func (f *simFlags) register(cmd *cobra.Command) {
	cmd.Flags().DurationVar(&f.registerDelay, "sim-register-delay", 200*time.Millisecond, "simulated device registration delay")
	cmd.Flags().DurationVar(&f.acceptDelay, "sim-accept-delay", time.Second, "simulated delay before the far end answers")
	cmd.Flags().DurationVar(&f.maxDuration, "sim-max-duration", 0, "simulated far-end hangup after this long (0 disables)")
	cmd.Flags().BoolVar(&f.reject, "sim-reject", false, "simulated far end rejects every call")
}

func (f simFlags) options() sim.Options {
	return sim.Options{
		RegisterDelay:   f.registerDelay,
		AcceptDelay:     f.acceptDelay,
		MaxCallDuration: f.maxDuration,
		RejectCalls:     f.reject,
	}
}

// app is the wired client: storage, token client, provider and controller.
type app struct {
	cfg     config.Config
	log     *slog.Logger
	creds   *credentials.Store
	devices *sim.Factory
	ctrl    *calls.Controller
	closer  io.Closer
}

func newApp(ctx context.Context, cfg config.Config, simOpts sim.Options) (*app, error) {
	log := logger.New(cfg.App.Env)
	slog.SetDefault(log)

	kv, closer, err := kvstore.Open(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.Store.Backend, err)
	}

	creds, err := credentials.NewStore(kv, log)
	if err != nil {
		_ = closer.Close()
		return nil, err
	}

	devices := sim.NewFactory(simOpts)
	ctrl, err := calls.NewController(calls.Options{
		Store:      creds,
		Tokens:     token.NewClient(cfg.Client.TokenURL, nil),
		Devices:    devices,
		ResetDelay: cfg.Client.ResetDelay,
		Logger:     log,
	})
	if err != nil {
		_ = closer.Close()
		return nil, err
	}

	return &app{cfg: cfg, log: log, creds: creds, devices: devices, ctrl: ctrl, closer: closer}, nil
}

func (a *app) Close() {
	a.ctrl.Close()
	if err := a.closer.Close(); err != nil {
		a.log.Warn("store close failed", "err", err)
	}
}

// waitFor blocks until a state satisfies done, or ctx ends.
func waitFor(ctx context.Context, ctrl *calls.Controller, done func(calls.State) bool) (calls.State, error) {
	states, cancel := ctrl.Subscribe()
	defer cancel()

	for {
		select {
		case s, ok := <-states:
			if !ok {
				return calls.State{}, calls.ErrClosed
			}
			if done(s) {
				return s, nil
			}
		case <-ctx.Done():
			return ctrl.Snapshot(), ctx.Err()
		}
	}
}
