package aggregate

import (
	"fmt"
	"io"
	"strconv"
	"sync"
)

// ReportWriter writes results as tab separated lines:
//
//	<target> <probe id> <probe address> <probe AS> <min RTT> <label>
type ReportWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func NewReportWriter(w io.Writer) *ReportWriter {
	return &ReportWriter{w: w}
}

// Write appends one result line.
func (rw *ReportWriter) Write(r Result) error {
	rw.mu.Lock()
	defer rw.mu.Unlock()
	_, err := io.WriteString(rw.w, FormatLine(r)+"\n")
	return err
}

// FormatLine renders a result without the trailing newline. A probe
// whose AS is unknown gets "NA" in the AS column.
func FormatLine(r Result) string {
	asn := "NA"
	if r.ASNKnown {
		asn = r.ProbeASN.String()
	}
	addr := "NA"
	if r.ProbeAddr.IsValid() {
		addr = r.ProbeAddr.String()
	}
	return fmt.Sprintf("%s\t%s\t%s\t%s\t%s\t%s",
		r.Target, r.Probe, addr, asn,
		strconv.FormatFloat(r.MinRTT, 'f', -1, 64), r.Label)
}
