// Command skillkerneld runs the skill kernel: it discovers skills under one
// or more roots, exposes them as MCP tools over HTTP or stdio, and keeps
// the catalog fresh as skills change on disk.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/skillkernel/kernel/internal/kernel"
	"github.com/skillkernel/kernel/internal/logging"
	"github.com/skillkernel/kernel/internal/metrics"
	"github.com/skillkernel/kernel/internal/transport"
)

// Exit codes: 0 success, 1 generic failure, 2 configuration
// error, 3 security block on a pinned skill.
const (
	exitOK = iota
	exitFailure
	exitConfigError
	exitSecurityBlocked
)

func main() {
	os.Exit(run())
}

func run() int {
	root := newRootCommand()
	if err := root.Execute(); err != nil {
		if code, ok := err.(exitCoder); ok {
			return code.ExitCode()
		}
		return exitFailure
	}
	return exitOK
}

type exitCoder interface {
	error
	ExitCode() int
}

type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) ExitCode() int { return e.code }

var configPath string

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "skillkerneld",
		Short: "Skill kernel: discover, route, and dispatch MCP skills",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config.yaml (optional)")
	root.AddCommand(newServeCommand())
	root.AddCommand(newScanCommand())
	root.AddCommand(newVersionCommand())
	return root
}

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the kernel and expose it over the configured transport",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context())
		},
	}
}

func newScanCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "scan",
		Short: "Discover skills under the configured roots and print the dispatch catalog",
		RunE: func(cmd *cobra.Command, args []string) error {
			return scan(cmd.Context())
		},
	}
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the build version",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println(version)
			return nil
		},
	}
}

// version is overridden at build time via -ldflags "-X main.version=...".
var version = "dev"

func loadConfig() (kernel.Config, error) {
	cfg, err := kernel.LoadConfig(configPath)
	if err != nil {
		return kernel.Config{}, &exitError{code: exitConfigError, err: fmt.Errorf("load config: %w", err)}
	}
	return cfg, nil
}

func serve(ctx context.Context) error {
	logger := logging.NewComponentLogger("skillkerneld")
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	m := metrics.New()
	k, err := kernel.New(cfg, logger, kernel.WithMetrics(m))
	if err != nil {
		return &exitError{code: exitConfigError, err: fmt.Errorf("construct kernel: %w", err)}
	}

	if err := k.Start(ctx); err != nil {
		var blocked *kernel.PinnedSkillBlockedError
		if asPinnedBlocked(err, &blocked) {
			return &exitError{code: exitSecurityBlocked, err: err}
		}
		return &exitError{code: exitFailure, err: fmt.Errorf("start kernel: %w", err)}
	}

	sweepCtx, stopSweep := context.WithCancel(ctx)
	go k.StartTTLSweepLoop(sweepCtx)

	var httpServer *http.Server
	if cfg.Transport.Kind == "http" {
		mux := transport.NewHTTPHandler(k.Transport()).Mux()
		mux.Handle("/metrics", promhttp.Handler())
		addr := fmt.Sprintf("%s:%d", cfg.Transport.Host, cfg.Transport.Port)
		httpServer = &http.Server{Addr: addr, Handler: mux}
		go func() {
			logger.Info("listening on %s", addr)
			if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("http server: %v", err)
			}
		}()
	} else {
		sessionID := k.Transport().OpenSession("")
		go func() {
			if err := transport.ServeStdio(k.Transport(), sessionID, os.Stdin, os.Stdout); err != nil {
				logger.Error("stdio transport: %v", err)
			}
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigCh:
	case <-ctx.Done():
	}

	stopSweep()
	if httpServer != nil {
		_ = httpServer.Shutdown(context.Background())
	}
	k.Stop(context.Background())
	return nil
}

func asPinnedBlocked(err error, target **kernel.PinnedSkillBlockedError) bool {
	for err != nil {
		if blocked, ok := err.(*kernel.PinnedSkillBlockedError); ok {
			*target = blocked
			return true
		}
		unwrapper, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = unwrapper.Unwrap()
	}
	return false
}

func scan(ctx context.Context) error {
	logger := logging.NewComponentLogger("skillkerneld")
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	k, err := kernel.New(cfg, logger)
	if err != nil {
		return &exitError{code: exitConfigError, err: fmt.Errorf("construct kernel: %w", err)}
	}
	if err := k.Start(ctx); err != nil {
		return &exitError{code: exitFailure, err: fmt.Errorf("start kernel: %w", err)}
	}
	defer k.Stop(ctx)

	for _, cmd := range k.Catalog() {
		fmt.Printf("%-40s %s\n", cmd.FQName, cmd.Description)
	}

	if cwd, err := os.Getwd(); err == nil {
		if candidates := k.SniffCandidates(cwd); len(candidates) > 0 {
			fmt.Printf("\nsniffed candidates for %s:\n", cwd)
			for _, name := range candidates {
				fmt.Printf("  %s\n", name)
			}
		}
	}
	return nil
}
