package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"webcall/internal/token"
	"webcall/internal/ui"
	"webcall/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
)

var (
	uiSim         simFlags
	uiServeTokens bool
)

var uiCmd = &cobra.Command{
	Use:   "ui",
	Short: "Serve the calling page on the loopback interface",
	Long: `Serve the calling page. Credentials saved by a previous session are
restored and the device is registered before the page is served.`,
	RunE: runUI,
}

func init() {
	uiSim.register(uiCmd)
	uiCmd.Flags().BoolVar(&uiServeTokens, "serve-tokens", false, "also mount the token endpoint on the UI server and use it")
	rootCmd.AddCommand(uiCmd)
}

func runUI(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if uiServeTokens {
		cfg.Client.TokenURL = fmt.Sprintf("http://%s%s", cfg.UIAddr(), token.Path)
	}
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	a, err := newApp(ctx, cfg, uiSim.options())
	if err != nil {
		return err
	}
	defer a.Close()

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(a.log, "/state", "/ws"))
	if uiServeTokens {
		token.Handler{Minter: token.NewMinter(token.MinterOptions{TTL: cfg.Token.TTL, Logger: a.log})}.Register(r)
	}
	ui.NewServer(a.ctrl, a.log).Register(r)

	srv := &http.Server{
		Addr:              cfg.UIAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		a.log.Info("ui listening", "addr", "http://"+srv.Addr, "token_url", cfg.Client.TokenURL)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	// The token endpoint may be this very server, so restore after listening.
	if err := a.ctrl.Restore(ctx); err != nil {
		a.log.Warn("restore failed", "err", err)
	}

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		return fmt.Errorf("ui server: %w", err)
	}
	a.log.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
