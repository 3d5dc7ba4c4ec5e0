package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/google/subcommands"

	"github.com/kjannette/bo-pricewatch/internal/api"
	"github.com/kjannette/bo-pricewatch/internal/logging"
	"github.com/kjannette/bo-pricewatch/internal/models"
	"github.com/kjannette/bo-pricewatch/internal/repository"
	"github.com/kjannette/bo-pricewatch/internal/scheduler"
)

type runCmd struct {
	store string
	quiet bool
}

func (*runCmd) Name() string     { return "run" }
func (*runCmd) Synopsis() string { return "reconcile back-office prices once and exit" }
func (*runCmd) Usage() string {
	return `pricewatch run [-store postgres|memory] [-q]

  Fetches spot, FX and P2P prices, logs into every configured brand
  back-office, and upserts today's deviation rows.
`
}

func (c *runCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.store, "store", "", "override STORE (postgres, memory)")
	f.BoolVar(&c.quiet, "q", false, "do not print the banner and configuration")
}

func (c *runCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	a, err := newApp(ctx, c.store)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return subcommands.ExitUsageError
	}
	defer a.close()
	if !c.quiet {
		fmt.Print(banner)
		a.cfg.Print()
	}

	if sum := a.pipeline().Run(ctx); !sum.Succeeded {
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}

type settleCmd struct {
	store string
}

func (*settleCmd) Name() string     { return "settle" }
func (*settleCmd) Synopsis() string { return "record today's effective settlement rate" }
func (*settleCmd) Usage() string {
	return `pricewatch settle [-store postgres|memory]

  Reads today's purchase rate from SETTLEMENT_SOURCE_TABLE, applies
  SETTLEMENT_MARKUP and upserts the result into SETTLEMENT_TABLE.
`
}

func (c *settleCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.store, "store", "", "override STORE (postgres, memory)")
}

func (c *settleCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	a, err := newApp(ctx, c.store)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return subcommands.ExitUsageError
	}
	defer a.close()

	tracker := a.settlementTracker()
	if tracker == nil {
		fmt.Fprintln(os.Stderr, "Error: SETTLEMENT_CURRENCY is not set")
		return subcommands.ExitUsageError
	}
	s, err := tracker.Track(ctx)
	if err != nil {
		a.logger.Errorf("Settlement tracking failed: %v", err)
		return subcommands.ExitFailure
	}
	if s.Today == nil {
		return subcommands.ExitFailure
	}
	for _, r := range s.Upcoming {
		a.logger.Infof("Upcoming %s: %v", r.Date, r.Cells()[1:])
	}
	return subcommands.ExitSuccess
}

type serveCmd struct {
	store    string
	interval int
}

func (*serveCmd) Name() string     { return "serve" }
func (*serveCmd) Synopsis() string { return "reconcile on a fixed interval until interrupted" }
func (*serveCmd) Usage() string {
	return `pricewatch serve [-store postgres|memory] [-every minutes]

  Runs a reconciliation immediately and then every RUN_INTERVAL_MINUTES
  until SIGINT or SIGTERM.
`
}

func (c *serveCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.store, "store", "", "override STORE (postgres, memory)")
	f.IntVar(&c.interval, "every", 0, "override RUN_INTERVAL_MINUTES")
}

func (c *serveCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	a, err := newApp(ctx, c.store)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return subcommands.ExitUsageError
	}
	defer a.close()
	fmt.Print(banner)
	a.cfg.Print()

	minutes := a.cfg.RunIntervalMinutes
	if c.interval > 0 {
		minutes = c.interval
	}

	p := a.pipeline()
	runs := api.NewRunLog(0)
	sched := scheduler.NewRunScheduler(func(ctx context.Context) bool {
		sum := p.Run(ctx)
		runs.Record(sum)
		return sum.Succeeded
	}, scheduler.Config{
		Interval:   time.Duration(minutes) * time.Minute,
		RunOnStart: true,
	}, logging.WithComponent(a.logger, "scheduler"))

	var srv *api.Server
	if a.cfg.APIPort > 0 {
		apiLog := logging.WithComponent(a.logger, "api")
		srv = api.NewServer(a.store, []models.TableSchema{
			models.FiatSchema(a.cfg.FiatTable),
			models.USDTSchema(a.cfg.USDTTable),
			{Name: a.cfg.SettlementTable, Header: repository.SettlementHeader, KeyColumns: 1},
		}, runs, sched, api.Options{
			Port:       a.cfg.APIPort,
			APIKey:     a.cfg.APIKey,
			CORSOrigin: a.cfg.CORSAllowOrigin,
			Location:   a.cfg.Location(),
		}, apiLog)
		go func() {
			if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				apiLog.Errorf("Server error: %v", err)
			}
		}()
	}

	sched.Start()
	<-ctx.Done()
	a.logger.Info("Shutting down gracefully...")
	sched.Stop()

	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.logger.Errorf("API shutdown error: %v", err)
		}
	}

	ok, failed, skipped := sched.Stats()
	a.logger.Infof("Runs: %d succeeded, %d failed, %d skipped", ok, failed, skipped)
	return subcommands.ExitSuccess
}
