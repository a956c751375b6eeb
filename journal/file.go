package journal

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/oklog/ulid/v2"
	"go.uber.org/multierr"

	"github.com/SAWassermann/DisNETPerf/runid"
)

const (
	probeFileName  = "probe_as.log"
	targetFileName = "ping_measurements.log"
)

// FileJournal keeps the journal as two line oriented text files in a
// directory. Every append is flushed and synced before it returns.
type FileJournal struct {
	mu      sync.Mutex
	dir     string
	probes  *os.File
	targets *os.File
}

// NewFileJournal returns a journal stored in dir, creating the directory
// if needed. Files are opened on first write.
func NewFileJournal(dir string) (*FileJournal, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &FileJournal{dir: dir}, nil
}

func (j *FileJournal) probePath() string  { return filepath.Join(j.dir, probeFileName) }
func (j *FileJournal) targetPath() string { return filepath.Join(j.dir, targetFileName) }

func (j *FileJournal) Reset(_ context.Context, runID ulid.ULID) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if err := j.closeLocked(); err != nil {
		return err
	}

	flags := os.O_CREATE | os.O_WRONLY | os.O_TRUNC | os.O_APPEND
	probes, err := os.OpenFile(j.probePath(), flags, 0o644)
	if err != nil {
		return err
	}
	targets, err := os.OpenFile(j.targetPath(), flags, 0o644)
	if err != nil {
		return multierr.Append(err, probes.Close())
	}
	j.probes, j.targets = probes, targets

	if err := j.probes.Sync(); err != nil {
		return err
	}
	return writeLine(j.targets, runID.String())
}

func (j *FileJournal) Append(_ context.Context, rec Record) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if err := j.openLocked(); err != nil {
		return err
	}

	switch r := rec.(type) {
	case ProbeRecord:
		return writeLine(j.probes, encodeProbe(r))
	case TargetRecord:
		return writeLine(j.targets, encodeTarget(r))
	}
	return fmt.Errorf("journal: unknown record %T", rec)
}

// openLocked opens both files for appending after a restart, dropping an
// unterminated last line left by an interrupted write.
func (j *FileJournal) openLocked() error {
	if j.probes != nil && j.targets != nil {
		return nil
	}
	var err error
	if j.probes == nil {
		if j.probes, err = openAppend(j.probePath()); err != nil {
			return err
		}
	}
	if j.targets == nil {
		if j.targets, err = openAppend(j.targetPath()); err != nil {
			return err
		}
	}
	return nil
}

func (j *FileJournal) Replay(ctx context.Context, fn func(Record) error) (ulid.ULID, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	lines, err := readLines(j.targetPath())
	if errors.Is(err, os.ErrNotExist) || (err == nil && len(lines) == 0) {
		return ulid.ULID{}, ErrNoJournal
	}
	if err != nil {
		return ulid.ULID{}, err
	}
	id, err := runid.Parse(lines[0])
	if err != nil {
		return ulid.ULID{}, fmt.Errorf("%s: %w", targetFileName, err)
	}

	probeLines, err := readLines(j.probePath())
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return ulid.ULID{}, err
	}
	for _, line := range probeLines {
		if err := ctx.Err(); err != nil {
			return ulid.ULID{}, err
		}
		rec, err := decodeProbe(line)
		if err != nil {
			return ulid.ULID{}, fmt.Errorf("%s: %w", probeFileName, err)
		}
		if err := fn(rec); err != nil {
			return ulid.ULID{}, err
		}
	}

	for _, line := range lines[1:] {
		if err := ctx.Err(); err != nil {
			return ulid.ULID{}, err
		}
		rec, err := decodeTarget(line)
		if err != nil {
			return ulid.ULID{}, fmt.Errorf("%s: %w", targetFileName, err)
		}
		if err := fn(rec); err != nil {
			return ulid.ULID{}, err
		}
	}
	return id, nil
}

func (j *FileJournal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.closeLocked()
}

func (j *FileJournal) closeLocked() error {
	var err error
	if j.probes != nil {
		err = multierr.Append(err, j.probes.Close())
		j.probes = nil
	}
	if j.targets != nil {
		err = multierr.Append(err, j.targets.Close())
		j.targets = nil
	}
	return err
}

// writeLine appends line plus a newline and syncs.
func writeLine(f *os.File, line string) error {
	if _, err := f.WriteString(line + "\n"); err != nil {
		return err
	}
	return f.Sync()
}

func openAppend(path string) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, err
	}
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, multierr.Append(err, f.Close())
	}
	keep := int64(bytes.LastIndexByte(data, '\n') + 1)
	if keep != int64(len(data)) {
		if err := f.Truncate(keep); err != nil {
			return nil, multierr.Append(err, f.Close())
		}
	}
	if _, err := f.Seek(keep, io.SeekStart); err != nil {
		return nil, multierr.Append(err, f.Close())
	}
	return f, nil
}

// readLines returns the complete, non-blank lines of a file. A final line
// without a newline is a torn write and is left out.
func readLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var lines []string
	r := bufio.NewReader(f)
	for {
		line, err := r.ReadString('\n')
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		line = strings.TrimRight(line, "\r\n")
		if strings.TrimSpace(line) == "" {
			continue
		}
		lines = append(lines, line)
	}
	return lines, nil
}
