// Command grantctl runs the grant enhancement pipeline from the shell.
package main

import (
	"context"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/david/grant-enhancer/internal/config"
	"github.com/david/grant-enhancer/internal/db"
	"github.com/david/grant-enhancer/internal/enhance"
	"github.com/david/grant-enhancer/internal/jobs"
	"github.com/david/grant-enhancer/internal/probe"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:          "grantctl",
	Short:        "Enhance, monitor and match the grant catalogue",
	Long:         "Seeds the grant catalogue, scores confidence and complexity, flags duplicates, probes grant pages for status, and matches startup profiles.",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return eris.Wrap(err, "load config")
		}
		if err := c.Validate(); err != nil {
			return err
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return eris.Wrap(err, "init logger")
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newPipeline() (*enhance.Pipeline, error) {
	prober := probe.New(probe.Options{
		Timeout:      cfg.Monitor.Timeout(),
		RateLimitRPS: cfg.Monitor.RateLimitRPS,
		MaxBodyBytes: cfg.Monitor.MaxBodyBytes,
	})
	pl, err := enhance.NewPipeline(cfg.Pipeline(), prober)
	if err != nil {
		return nil, eris.Wrap(err, "build pipeline")
	}
	return pl, nil
}

// initRunner connects to Postgres, applies migrations and returns a runner
// over the database store. The returned func closes the pool.
func initRunner(ctx context.Context) (*jobs.Runner, func(), error) {
	pool, err := db.Connect(ctx, cfg.Store.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	if err := db.ApplyMigrations(ctx, pool); err != nil {
		pool.Close()
		return nil, nil, err
	}
	pl, err := newPipeline()
	if err != nil {
		pool.Close()
		return nil, nil, err
	}
	return jobs.NewRunner(db.NewStore(pool), pl, cfg.Monitor.StaleAfter()), pool.Close, nil
}
