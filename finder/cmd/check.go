package cmd

import (
	"context"
	"fmt"

	"go.ntppool.org/common/logger"
	"go.ntppool.org/common/tracing"

	"github.com/SAWassermann/DisNETPerf/atlas"
	rootcmd "github.com/SAWassermann/DisNETPerf/cmd"
	"github.com/SAWassermann/DisNETPerf/finder"
	"github.com/SAWassermann/DisNETPerf/poller"
)

type checkCmd struct {
	APIFlags `embed:""`

	IDs []string `arg:"" name:"id" help:"Measurement ids to check"`
}

func (cmd *checkCmd) Run(ctx context.Context) error {
	log := logger.FromContext(ctx)

	ctx, span := tracing.Start(ctx, "psbox.check")
	defer span.End()

	ids := make([]atlas.MeasurementID, 0, len(cmd.IDs))
	for _, s := range cmd.IDs {
		id, err := atlas.ParseMeasurementID(s)
		if err != nil {
			return &rootcmd.ExitError{Code: finder.ExitInvalidInput, Err: err}
		}
		ids = append(ids, id)
	}

	cfg, client, err := cmd.setup()
	if err != nil {
		return err
	}

	p := poller.New(client, poller.Options{Status: cfg.Polling.Status.Policy()})
	statuses, err := p.Check(ctx, ids)
	if err != nil {
		return &rootcmd.ExitError{Code: finder.ExitInternal, Err: err}
	}

	running := 0
	for _, js := range statuses {
		if js.Status.Running() {
			running++
		}
		fmt.Fprintf(cmd.out(), "%s\t%s\n", js.ID, js.Status)
	}
	log.InfoContext(ctx, "check done", "measurements", len(statuses), "running", running)

	return nil
}
