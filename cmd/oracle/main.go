package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/yangwenmai/oracle-avs/internal/api"
	"github.com/yangwenmai/oracle-avs/internal/config"
	"github.com/yangwenmai/oracle-avs/internal/engine"
	"github.com/yangwenmai/oracle-avs/internal/scheduler"
	"github.com/yangwenmai/oracle-avs/internal/telemetry"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "oracle",
		Short: "AI prediction-market oracle",
		Long: "oracle resolves prediction-market conditions with a language model.\n" +
			"Performers execute due predictions and publish proofs; validators re-judge them.",
		SilenceUsage: true,
	}

	rootCmd.AddCommand(newPerformerCommand())
	rootCmd.AddCommand(newValidatorCommand())
	rootCmd.AddCommand(newPredictCommand())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// newNode loads configuration and the root logger.
func newNode(role string) *node {
	cfg := config.Load()
	cfg.Role = role
	return &node{cfg: cfg, logger: cfg.NewLogger(os.Stderr).With("role", role)}
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func newPerformerCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "performer",
		Short: "Run the scheduler and execution pipeline",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext()
			defer stop()
			return runPerformer(ctx, newNode(config.RolePerformer))
		},
	}
}

func newValidatorCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "validator",
		Short: "Consume tasks and vote on published proofs",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext()
			defer stop()
			return runValidator(ctx, newNode(config.RoleValidator))
		},
	}
}

func runPerformer(ctx context.Context, n *node) error {
	defer n.Close()

	shutdown, err := telemetry.Setup(ctx, telemetry.Config{
		ServiceName:  "oracle-performer",
		Role:         config.RolePerformer,
		OTLPEndpoint: n.cfg.OTLPEndpoint,
		Insecure:     true,
	}, n.logger)
	if err != nil {
		return err
	}
	defer flush(shutdown)

	if err := n.openRegistry(ctx); err != nil {
		return err
	}
	claims, err := n.newClaimer()
	if err != nil {
		return err
	}
	gatherer, err := n.newGatherer()
	if err != nil {
		return err
	}
	tasks, inProcess, err := n.newTransport()
	if err != nil {
		return err
	}

	pipeline := engine.NewExecutionPipeline(gatherer, n.newOracle(engine.RolePerformer), n.proofs, tasks, n.reg,
		engine.WithPipelineLogger(n.logger),
		engine.WithCallTimeout(n.cfg.CallTimeout),
	)
	sched := scheduler.New(n.reg, pipeline, claims, n.cfg.SchedulerInterval,
		scheduler.WithConcurrency(n.cfg.SchedulerConcurrency),
		scheduler.WithExecutionTimeout(n.cfg.ExecutionTimeout),
		scheduler.WithLogger(n.logger),
	)

	opts := []api.Option{api.WithPredictions(n.reg), api.WithLogger(n.logger)}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		sched.Start(ctx)
		return nil
	})

	// Nothing outside this process can drain an in-process queue, so the
	// performer votes on its own tasks.
	if inProcess {
		validation, err := n.newValidation(ctx)
		if err != nil {
			return err
		}
		opts = append(opts, api.WithValidator(validation))
		g.Go(func() error {
			return tasks.Consume(ctx, voteHandler(validation, tasks, n.logger))
		})
	}

	g.Go(func() error {
		return serveHTTP(ctx, n, api.New(opts...).Handler())
	})
	return g.Wait()
}

func runValidator(ctx context.Context, n *node) error {
	defer n.Close()

	shutdown, err := telemetry.Setup(ctx, telemetry.Config{
		ServiceName:  "oracle-validator",
		Role:         config.RoleValidator,
		OTLPEndpoint: n.cfg.OTLPEndpoint,
		Insecure:     true,
	}, n.logger)
	if err != nil {
		return err
	}
	defer flush(shutdown)

	if err := n.openProofs(ctx); err != nil {
		return err
	}
	validation, err := n.newValidation(ctx)
	if err != nil {
		return err
	}
	tasks, inProcess, err := n.newTransport()
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	if inProcess {
		n.logger.Warn("no task transport, serving POST /api/validate only")
	} else {
		g.Go(func() error {
			return tasks.Consume(ctx, voteHandler(validation, tasks, n.logger))
		})
	}
	g.Go(func() error {
		return serveHTTP(ctx, n, api.New(api.WithValidator(validation), api.WithLogger(n.logger)).Handler())
	})
	return g.Wait()
}

// serveHTTP listens on the configured port until ctx is done, then drains
// in-flight requests.
func serveHTTP(ctx context.Context, n *node, h http.Handler) error {
	httpServer := &http.Server{
		Addr:              ":" + n.cfg.Port,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		n.logger.Info("listening", "addr", "http://localhost:"+n.cfg.Port)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("server error: %w", err)
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	n.logger.Info("shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

func flush(shutdown telemetry.ShutdownFunc) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	shutdown(ctx)
}
