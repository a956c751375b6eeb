package finder

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/netip"
	"os"
	"path/filepath"
	"strings"
)

// ErrInputUnreadable is returned when the target list cannot be read.
var ErrInputUnreadable = errors.New("input unreadable")

var errTargetSource = errors.New("exactly one of a target address or a target file is required")

// InputError reports a target list that cannot be used. Nothing has been
// sent to the platform when it is returned.
type InputError struct {
	Input string
	Line  int
	Err   error
}

func (e *InputError) Error() string {
	switch {
	case e.Input == "":
		return "invalid input: " + e.Err.Error()
	case e.Line > 0:
		return fmt.Sprintf("invalid input %q on line %d: %v", e.Input, e.Line, e.Err)
	default:
		return fmt.Sprintf("invalid input %q: %v", e.Input, e.Err)
	}
}

func (e *InputError) Unwrap() error {
	return e.Err
}

// Request names the targets of a run.
type Request struct {
	// Address is a single target.
	Address string

	// File lists one target per line. A relative path that does not exist
	// is looked up in the input directory.
	File string

	// Recover resumes the journaled run instead of starting a new one.
	Recover bool
}

// Targets returns the de-duplicated target addresses of the request in
// input order.
func (r Request) Targets(inputDir string) ([]netip.Addr, error) {
	if (r.Address == "") == (r.File == "") {
		return nil, &InputError{Err: errTargetSource}
	}

	if r.Address != "" {
		addr, err := netip.ParseAddr(strings.TrimSpace(r.Address))
		if err != nil {
			return nil, &InputError{Input: r.Address, Err: err}
		}
		return []netip.Addr{addr.Unmap()}, nil
	}

	f, err := openInput(r.File, inputDir)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInputUnreadable, err)
	}
	defer f.Close()

	return ReadTargets(f)
}

func openInput(path, inputDir string) (*os.File, error) {
	f, err := os.Open(path)
	if err == nil || !errors.Is(err, fs.ErrNotExist) || filepath.IsAbs(path) || inputDir == "" {
		return f, err
	}
	if alt, altErr := os.Open(filepath.Join(inputDir, path)); altErr == nil {
		return alt, nil
	}
	return nil, err
}

// ReadTargets parses one address per line. Blank lines and lines starting
// with '#' are skipped; repeated addresses are kept once.
func ReadTargets(r io.Reader) ([]netip.Addr, error) {
	var addrs []netip.Addr
	seen := map[netip.Addr]bool{}

	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		addr, err := netip.ParseAddr(line)
		if err != nil {
			return nil, &InputError{Input: line, Line: lineNo, Err: err}
		}
		addr = addr.Unmap()
		if seen[addr] {
			continue
		}
		seen[addr] = true
		addrs = append(addrs, addr)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInputUnreadable, err)
	}
	if len(addrs) == 0 {
		return nil, &InputError{Err: errors.New("no target addresses")}
	}
	return addrs, nil
}
