// Package cmd has the psbox command line interface.
package cmd

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/MakeNowJust/heredoc"
	"golang.org/x/time/rate"

	"github.com/SAWassermann/DisNETPerf/atlas"
	rootcmd "github.com/SAWassermann/DisNETPerf/cmd"
	"github.com/SAWassermann/DisNETPerf/config"
	"github.com/SAWassermann/DisNETPerf/finder"
	"github.com/SAWassermann/DisNETPerf/journal"
)

type PsboxCmd struct {
	Find    findCmd    `cmd:"" help:"Find the closest probe to each target"`
	Check   checkCmd   `cmd:"" help:"Show the status of measurements"`
	Probes  probesCmd  `cmd:"" help:"Refresh the probe fleet file from RIPE Atlas"`
	Version versionCmd `cmd:"" help:"Print version and build information"`
}

// APIFlags are the flags of every command talking to RIPE Atlas.
type APIFlags struct {
	Key    string `short:"k" required:"" env:"ATLAS_API_KEY" help:"RIPE Atlas API key"`
	Config string `short:"c" type:"path" help:"YAML configuration file"`

	stdout io.Writer `kong:"-"`
}

func (f *APIFlags) out() io.Writer {
	if f.stdout == nil {
		return os.Stdout
	}
	return f.stdout
}

// setup loads the configuration and builds the API client from it.
func (f *APIFlags) setup() (*config.Config, *atlas.Client, error) {
	cfg, err := config.Load(f.Config)
	if err != nil {
		return nil, nil, &rootcmd.ExitError{
			Code: finder.ExitInvalidInput,
			Err:  fmt.Errorf("configuration: %w", err),
		}
	}

	opts := []atlas.Option{
		atlas.WithBaseURL(cfg.API.BaseURL),
		atlas.WithRateLimit(rate.Limit(cfg.API.RateLimit), cfg.API.Burst),
	}
	switch cfg.API.IPVersion {
	case 4:
		opts = append(opts, atlas.WithIPVersion(atlas.IPv4Only))
	case 6:
		opts = append(opts, atlas.WithIPVersion(atlas.IPv6Only))
	}

	return cfg, atlas.NewClient(f.Key, opts...), nil
}

func openJournal(cfg *config.Config, log *slog.Logger) (journal.Journal, error) {
	if cfg.Journal.Backend == "badger" {
		j, err := journal.OpenBadger(cfg.Journal.Dir, log)
		if err != nil {
			return nil, err
		}
		return j, nil
	}
	j, err := journal.NewFileJournal(cfg.Journal.Dir)
	if err != nil {
		return nil, err
	}
	return j, nil
}

var findHelp = heredoc.Doc(`
	Resolve every target to its AS, ping it from probes in the same AS
	(or a neighbouring one, or a random sample of the fleet) and report
	the probe with the lowest RTT.

	Each report line is tab separated:
	target, probe id, probe address, probe AS, minimum RTT and label.

	Exit status: 0 when at least one probe was found, 1 when none was,
	2 when the target file cannot be read, 3 for invalid input, 4 when
	the run failed and 5 when --recover finds no journal.
`)
