package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/CellarDoorExits/mcp-server/pkg/config"
	"github.com/CellarDoorExits/mcp-server/pkg/mcp"
	"github.com/CellarDoorExits/mcp-server/pkg/observability"
	"github.com/CellarDoorExits/mcp-server/pkg/policyloader"
	"github.com/CellarDoorExits/mcp-server/pkg/service"
	"github.com/CellarDoorExits/mcp-server/pkg/session"
)

// errFailed marks a command that completed and printed a negative result:
// an invalid signature, a rejected admission, a broken transfer.
var errFailed = errors.New("check failed")

func main() {
	os.Exit(Run(os.Args[1:], os.Stdout, os.Stderr))
}

// Run executes the CLI and returns the process exit code: 0 on success,
// 1 when a check printed a negative result, 2 on errors.
func Run(args []string, stdout, stderr io.Writer) int {
	a := &app{stdout: stdout, stderr: stderr, now: time.Now}
	return a.run(args)
}

type app struct {
	stdin   io.Reader
	stdout  io.Writer
	stderr  io.Writer
	now     func() time.Time
	verbose bool
	cfg     *config.Config
}

func (a *app) run(args []string) int {
	root := newRootCmd(a)
	root.SetArgs(args)
	err := root.Execute()
	switch {
	case err == nil:
		return 0
	case errors.Is(err, errFailed):
		return 1
	default:
		fmt.Fprintf(a.stderr, "Error: %v\n", err)
		return 2
	}
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "cellardoor",
		Short:         "Cellar Door - verifiable exit and arrival markers for agents",
		Long:          `cellardoor creates, verifies and admits signed departure records for AI agents moving between platforms.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			a.cfg = cfg
			level := cfg.SlogLevel()
			if a.verbose {
				level = slog.LevelDebug
			}
			slog.SetDefault(slog.New(slog.NewTextHandler(a.stderr, &slog.HandlerOptions{Level: level})))
			return nil
		},
	}
	if a.stdin != nil {
		root.SetIn(a.stdin)
	}
	root.SetOut(a.stdout)
	root.SetErr(a.stderr)
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "enable verbose logging")

	root.AddCommand(
		newDepartCmd(a),
		newEvaluateCmd(a),
		newAdmitCmd(a),
		newVerifyCmd(a),
		newVerifyTransferCmd(a),
		newVerifyDirCmd(a),
		newPoliciesCmd(a),
		newCallCmd(a),
		newDoctorCmd(a),
	)
	return root
}

// stack is the per-invocation service graph.
type stack struct {
	obs        *observability.Provider
	svc        *service.Service
	sessions   *session.Registry
	dispatcher *mcp.Dispatcher
}

func (a *app) open(ctx context.Context) (*stack, error) {
	server, err := a.cfg.ServerPolicy()
	if err != nil {
		return nil, err
	}
	obs, err := observability.New(ctx, a.cfg.Observability())
	if err != nil {
		return nil, err
	}
	logger := slog.Default()
	svc, err := service.New(ctx, service.Deps{
		Resolver:      policyloader.NewResolver(server, logger),
		Observability: obs,
		PlatformID:    a.cfg.PlatformID,
		Logger:        logger,
	})
	if err != nil {
		_ = obs.Shutdown(ctx)
		return nil, err
	}
	sessions := session.NewRegistry(logger, a.cfg.SessionOptions()...)
	dispatcher, err := mcp.NewDispatcher(svc, sessions, mcp.WithClock(a.now), mcp.WithLogger(logger))
	if err != nil {
		_ = obs.Shutdown(ctx)
		return nil, err
	}
	return &stack{obs: obs, svc: svc, sessions: sessions, dispatcher: dispatcher}, nil
}

func (s *stack) close(ctx context.Context) {
	s.dispatcher.Close()
	if err := s.obs.Shutdown(ctx); err != nil {
		slog.Default().WarnContext(ctx, "telemetry shutdown failed", "error", err)
	}
}

func (a *app) printJSON(v any) error {
	enc := json.NewEncoder(a.stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// readInput reads a file argument; "-" reads stdin.
func readInput(cmd *cobra.Command, path string) ([]byte, error) {
	if path == "-" {
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return nil, fmt.Errorf("read stdin: %w", err)
		}
		return data, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return data, nil
}
