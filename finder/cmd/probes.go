package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"go.ntppool.org/common/logger"
	"go.ntppool.org/common/tracing"

	"github.com/SAWassermann/DisNETPerf/atlas"
	rootcmd "github.com/SAWassermann/DisNETPerf/cmd"
	"github.com/SAWassermann/DisNETPerf/finder"
	"github.com/SAWassermann/DisNETPerf/fleet"
)

type probesCmd struct {
	APIFlags `embed:""`

	Out string `type:"path" help:"Fleet file to write (default: data.fleet from the configuration)"`
}

func (cmd *probesCmd) Run(ctx context.Context) error {
	log := logger.FromContext(ctx)

	ctx, span := tracing.Start(ctx, "psbox.probes")
	defer span.End()

	cfg, client, err := cmd.setup()
	if err != nil {
		return err
	}

	path := cmd.Out
	if path == "" {
		path = cfg.Data.Fleet
	}

	probes, err := client.ConnectedProbes(ctx)
	if err != nil {
		return &rootcmd.ExitError{Code: finder.ExitInternal, Err: fmt.Errorf("list probes: %w", err)}
	}

	if err := writeFleet(path, probes); err != nil {
		return &rootcmd.ExitError{Code: finder.ExitInternal, Err: err}
	}

	log.InfoContext(ctx, "fleet updated", "path", path, "probes", len(probes))
	return nil
}

// writeFleet replaces path atomically.
func writeFleet(path string, probes []atlas.Probe) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if err := fleet.Write(tmp, probes); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
