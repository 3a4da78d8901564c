package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"webcall/internal/calls"
	"webcall/internal/ui"

	"github.com/spf13/cobra"
)

var (
	callSim    simFlags
	callLength time.Duration
)

var callCmd = &cobra.Command{
	Use:   "call",
	Short: "Place one call with the saved credentials and print its progress",
	RunE:  runCall,
}

func init() {
	callSim.register(callCmd)
	callCmd.Flags().DurationVar(&callLength, "hangup-after", 10*time.Second, "hang up this long after the call is answered")
	rootCmd.AddCommand(callCmd)
}

func runCall(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := newApp(ctx, cfg, callSim.options())
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.ctrl.Restore(ctx); err != nil {
		return err
	}
	if !a.ctrl.Snapshot().Configured {
		return fmt.Errorf("no saved credentials, run \"webcall configure\" first")
	}
	if err := a.ctrl.PlaceCall(ctx); err != nil {
		return fmt.Errorf("%s: %w", a.ctrl.Snapshot().Message, err)
	}

	out := cmd.OutOrStdout()
	states, cancel := a.ctrl.Subscribe()
	defer cancel()

	var hangup <-chan time.Time
	last := calls.State{}
	for {
		select {
		case s, ok := <-states:
			if !ok {
				return calls.ErrClosed
			}
			if s.Status != last.Status || s.Duration != last.Duration {
				fmt.Fprintf(out, "%-10s %s  %s\n", s.Status, ui.FormatDuration(s.Duration), s.Message)
			}
			if s.Status == calls.StatusInCall && last.Status != calls.StatusInCall && callLength > 0 {
				hangup = time.After(callLength)
			}
			last = s
			if s.Status == calls.StatusCallEnded || s.Status == calls.StatusError {
				if s.Status == calls.StatusError {
					return errors.New(s.Message)
				}
				return nil
			}
		case <-hangup:
			hangup = nil
			if err := a.ctrl.HangUp(); err != nil {
				return err
			}
		case <-ctx.Done():
			_ = a.ctrl.HangUp()
			_, _ = waitFor(context.Background(), a.ctrl, func(s calls.State) bool { return s.Status != calls.StatusInCall })
			return ctx.Err()
		}
	}
}
