package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/mlevitan96-crypto/trading-bot-sub006/internal/config"
	"github.com/mlevitan96-crypto/trading-bot-sub006/internal/conviction"
	"github.com/mlevitan96-crypto/trading-bot-sub006/internal/engine"
	"github.com/mlevitan96-crypto/trading-bot-sub006/internal/httpapi"
	"github.com/mlevitan96-crypto/trading-bot-sub006/internal/prices"
	"github.com/mlevitan96-crypto/trading-bot-sub006/internal/scheduler"
	"github.com/mlevitan96-crypto/trading-bot-sub006/internal/signals"
)

var version = "v1.0.0"

var configPath string

func main() {
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})

	root := &cobra.Command{
		Use:     "tradebot",
		Short:   "Signal-driven trading decision engine",
		Version: version,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "config.yaml", "path to YAML configuration")

	root.AddCommand(runCmd(), cycleCmd(), evaluateCmd(), statusCmd())

	if err := root.Execute(); err != nil {
		log.Error().Err(err).Msg("command failed")
		os.Exit(1)
	}
}

func setup() (*config.Config, *engine.Engine, error) {
	cfg := config.Load(configPath)
	if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(lvl)
	}
	eng, err := engine.New(cfg)
	if err != nil {
		return nil, nil, err
	}
	return cfg, eng, nil
}

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the engine with the audit and daily loops",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, eng, err := setup()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			sched := scheduler.New(scheduler.Config{
				AuditInterval: cfg.Cycles.AuditInterval,
				DailyHourUTC:  cfg.Cycles.DailyHourUTC,
			}, eng)

			if cfg.Prices.FeedURL != "" {
				feed := prices.NewFeed(cfg.Prices.FeedURL, cfg.Prices.FeedSymbols,
					eng.Prices(), cfg.Prices.ReconnectWait)
				go feed.Run(ctx)
			}

			if cfg.Server.Enabled {
				srv := httpapi.New(cfg.Server.Addr, eng, sched)
				go func() {
					if err := srv.Run(ctx); err != nil {
						log.Error().Err(err).Msg("http listener failed")
					}
				}()
			}

			log.Info().Str("mode", string(cfg.Mode)).Str("version", version).Msg("Engine running")
			sched.Run(ctx)
			return nil
		},
	}
}

func cycleCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cycle",
		Short: "Run one audit and one daily governance cycle, then exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, eng, err := setup()
			if err != nil {
				return err
			}
			sched := scheduler.New(scheduler.DefaultConfig(), eng)
			sched.RunOnce(cmd.Context())
			return nil
		},
	}
}

func evaluateCmd() *cobra.Command {
	var (
		symbol   string
		side     string
		strategy string
		notional float64
		ofi      float64
		cascade  bool
	)
	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Evaluate one trade request against current state and print the packet",
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, eng, err := setup()
			if err != nil {
				return err
			}
			if side != string(signals.SideLong) && side != string(signals.SideShort) {
				return fmt.Errorf("side must be long or short, got %q", side)
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()

			p, err := eng.Evaluate(ctx, engine.TradeRequest{
				Symbol:       symbol,
				Strategy:     strategy,
				Side:         signals.Side(side),
				BaseNotional: notional,
				Market: conviction.MarketContext{
					OrderFlowImbalance: ofi,
					CascadeActive:      cascade,
				},
			})
			if err != nil {
				return err
			}
			return printJSON(p)
		},
	}
	cmd.Flags().StringVar(&symbol, "symbol", "BTCUSDT", "trading pair")
	cmd.Flags().StringVar(&side, "side", "long", "proposed side: long or short")
	cmd.Flags().StringVar(&strategy, "strategy", "manual", "strategy identifier")
	cmd.Flags().Float64Var(&notional, "notional", 1000, "base notional (USD)")
	cmd.Flags().Float64Var(&ofi, "ofi", 0, "signed order-flow imbalance")
	cmd.Flags().BoolVar(&cascade, "cascade", false, "liquidation cascade active")
	return cmd
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print current weights, controls and allocation",
		RunE: func(_ *cobra.Command, _ []string) error {
			_, eng, err := setup()
			if err != nil {
				return err
			}
			return printJSON(eng.Snapshot())
		},
	}
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
