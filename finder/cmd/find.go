package cmd

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"go.ntppool.org/common/logger"
	"go.ntppool.org/common/metricsserver"
	"go.ntppool.org/common/version"
	"go.uber.org/multierr"

	rootcmd "github.com/SAWassermann/DisNETPerf/cmd"
	"github.com/SAWassermann/DisNETPerf/finder"
)

type findCmd struct {
	APIFlags `embed:""`

	Address     string `short:"o" placeholder:"ADDR" help:"Single target address"`
	File        string `short:"n" placeholder:"FILE" help:"File with one target address per line"`
	Recover     bool   `short:"r" help:"Resume the interrupted run from the journal"`
	MetricsPort int    `default:"0" help:"Serve Prometheus metrics on this port (0 disables)"`
}

func (cmd *findCmd) Help() string {
	return findHelp
}

func (cmd *findCmd) Run(ctx context.Context) (err error) {
	log := logger.FromContext(ctx)
	log.InfoContext(ctx, "psbox starting", "version", version.Version())

	cfg, client, err := cmd.setup()
	if err != nil {
		return err
	}

	req := finder.Request{
		Address: cmd.Address,
		File:    cmd.File,
		Recover: cmd.Recover,
	}
	if _, err := req.Targets(cfg.Data.InputDir); err != nil {
		return &rootcmd.ExitError{Code: finder.ExitCode(nil, err), Err: err}
	}

	shutdownTracing, err := initTracing(ctx)
	if err != nil {
		return &rootcmd.ExitError{Code: finder.ExitInternal, Err: err}
	}
	defer func() {
		if err := shutdownTracing(ctx); err != nil {
			log.WarnContext(ctx, "trace shutdown", "err", err)
		}
	}()

	var reg prometheus.Registerer
	if cmd.MetricsPort > 0 {
		metricssrv := metricsserver.New()
		version.RegisterMetric("psbox", metricssrv.Registry())
		go func() {
			if err := metricssrv.ListenAndServe(ctx, cmd.MetricsPort); err != nil {
				log.ErrorContext(ctx, "metrics server error", "err", err)
			}
		}()
		reg = metricssrv.Registry()
	}

	j, err := openJournal(cfg, log)
	if err != nil {
		return &rootcmd.ExitError{Code: finder.ExitInternal, Err: err}
	}
	defer multierr.AppendInvoke(&err, multierr.Close(j))

	f := finder.New(cfg, client, j, finder.Options{
		Registerer: reg,
		Echo:       cmd.out(),
	})
	sum, runErr := f.Run(ctx, req)

	code := finder.ExitCode(sum, runErr)
	if code == finder.ExitFound {
		return nil
	}
	return &rootcmd.ExitError{Code: code, Err: runErr}
}
