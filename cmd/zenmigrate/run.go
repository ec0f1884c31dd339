package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/zenmigration/zenmigrate/internal/api"
	"github.com/zenmigration/zenmigrate/internal/chain"
	"github.com/zenmigration/zenmigrate/internal/codec"
	"github.com/zenmigration/zenmigrate/internal/orchestrator"
	"github.com/zenmigration/zenmigrate/internal/snapshot"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Deploy the migration and load both snapshots",
	Long: `Deploy the token, both ledgers and the vesting schedules, upload the EON and
ZEND snapshots, distribute every EON balance and verify the result against the
snapshots. The final state is committed to the storage directory and a JSON
report is printed.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		m, report, err := migrate(ctx)
		if err != nil {
			return err
		}
		defer m.Chain().Close()

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the migration and serve the claim API",
	Long: `Run the migration like the run command, then serve the HTTP API so ZEND
holders can claim and the vesting beneficiaries can release their tokens. The
chain clock follows wall time while serving.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		m, _, err := migrate(ctx)
		if err != nil {
			return err
		}
		defer m.Chain().Close()

		srv := api.NewServer(m.Chain(), m.Factory().Address(), m.System(), cfg.Network)
		g, ctx := errgroup.WithContext(ctx)
		g.Go(func() error { return srv.Start(ctx, cfg.Listen) })
		g.Go(func() error { return clock(ctx, m.Chain(), time.Second) })
		err = g.Wait()
		log.Info("Shutting down")
		return err
	},
}

func init() {
	rootCmd.AddCommand(runCmd, serveCmd)
}

// migrate opens the chain, deploys a migration and runs it against the
// configured snapshots.
func migrate(ctx context.Context) (*orchestrator.Migration, *orchestrator.Report, error) {
	params, operator, err := migrationParams(cfg)
	if err != nil {
		return nil, nil, err
	}

	var eon, zend []codec.Entry
	g := new(errgroup.Group)
	g.Go(func() (err error) {
		eon, err = snapshot.ReadFile(cfg.EONSnapshot)
		return err
	})
	g.Go(func() (err error) {
		zend, err = snapshot.ReadFile(cfg.ZENDSnapshot)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	log.Info("Snapshots read", "eon", len(eon), "eonTotal", zen(snapshot.Total(eon)),
		"zend", len(zend), "zendTotal", zen(snapshot.Total(zend)))

	c, err := openChain(cfg.StorageDir)
	if err != nil {
		return nil, nil, err
	}
	m, err := orchestrator.Deploy(c, orchestrator.Options{
		Params:          params,
		Operator:        operator,
		BatchSize:       cfg.BatchSize,
		DistributeCount: cfg.DistributeCount,
	})
	if err != nil {
		c.Close()
		return nil, nil, err
	}
	report, err := m.Run(ctx, eon, zend)
	if err != nil {
		c.Close()
		return nil, nil, fmt.Errorf("migration failed: %w", err)
	}
	return m, report, nil
}

func openChain(dir string) (*chain.Chain, error) {
	if dir == "" {
		log.Warn("No storage directory configured, state is kept in memory")
		return chain.NewMemory()
	}
	log.Info("Opening state database", "dir", dir)
	return chain.Open(dir)
}

// clock keeps the chain timestamp on wall time so vesting intervals elapse.
func clock(ctx context.Context, c *chain.Chain, every time.Duration) error {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			c.SetTime(uint64(now.Unix()))
		}
	}
}
