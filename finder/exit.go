package finder

import (
	"errors"

	"github.com/SAWassermann/DisNETPerf/journal"
)

// Process exit codes of a run.
const (
	ExitFound           = 0
	ExitNoResults       = 1
	ExitInputUnreadable = 2
	ExitInvalidInput    = 3
	ExitInternal        = 4
	ExitNoJournal       = 5
)

// ExitCode maps the outcome of Run to a process exit code.
func ExitCode(sum *Summary, err error) int {
	var inputErr *InputError
	switch {
	case err == nil:
		if sum != nil && len(sum.Results) > 0 {
			return ExitFound
		}
		return ExitNoResults
	case errors.As(err, &inputErr):
		return ExitInvalidInput
	case errors.Is(err, ErrInputUnreadable):
		return ExitInputUnreadable
	case errors.Is(err, journal.ErrNoJournal):
		return ExitNoJournal
	default:
		return ExitInternal
	}
}
