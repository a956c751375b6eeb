package journal

import (
	"fmt"
	"net/netip"
	"strings"

	"github.com/SAWassermann/DisNETPerf/asdata"
	"github.com/SAWassermann/DisNETPerf/atlas"
	"github.com/SAWassermann/DisNETPerf/psbox"
)

// probe lines: <probe>\t<asn>
func encodeProbe(r ProbeRecord) string {
	return r.Probe.String() + "\t" + r.ASN.String()
}

func decodeProbe(line string) (ProbeRecord, error) {
	fields := strings.Split(line, "\t")
	if len(fields) != 2 {
		return ProbeRecord{}, fmt.Errorf("probe record %q: want 2 fields", line)
	}
	id, err := atlas.ParseProbeID(fields[0])
	if err != nil {
		return ProbeRecord{}, fmt.Errorf("probe record %q: %w", line, err)
	}
	asn, err := asdata.ParseASN(fields[1])
	if err != nil {
		return ProbeRecord{}, fmt.Errorf("probe record %q: %w", line, err)
	}
	return ProbeRecord{Probe: id, ASN: asn}, nil
}

// target lines: <job>\t<job>...\t<target>\t<label>
func encodeTarget(r TargetRecord) string {
	fields := make([]string, 0, len(r.Jobs)+2)
	for _, id := range r.Jobs {
		fields = append(fields, id.String())
	}
	fields = append(fields, r.Target.String(), r.Label.String())
	return strings.Join(fields, "\t")
}

func decodeTarget(line string) (TargetRecord, error) {
	fields := strings.Split(line, "\t")
	if len(fields) < 3 {
		return TargetRecord{}, fmt.Errorf("target record %q: want at least 3 fields", line)
	}
	n := len(fields)

	label, err := psbox.LabelString(fields[n-1])
	if err != nil {
		return TargetRecord{}, fmt.Errorf("target record %q: %w", line, err)
	}
	addr, err := netip.ParseAddr(fields[n-2])
	if err != nil {
		return TargetRecord{}, fmt.Errorf("target record %q: %w", line, err)
	}

	jobs := make([]atlas.MeasurementID, 0, n-2)
	for _, f := range fields[:n-2] {
		id, err := atlas.ParseMeasurementID(f)
		if err != nil {
			return TargetRecord{}, fmt.Errorf("target record %q: %w", line, err)
		}
		jobs = append(jobs, id)
	}
	return TargetRecord{Target: addr, Label: label, Jobs: jobs}, nil
}
