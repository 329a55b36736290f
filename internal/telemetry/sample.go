package telemetry

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/rileyhilliard/vmctl/internal/controlplane"
	"github.com/rileyhilliard/vmctl/internal/errors"
)

// Sample is one parsed stats reading for a VM.
type Sample struct {
	VMName         string
	CPULoadPercent float64
	MemoryUsedMB   float64

	// MemoryMaxMB is zero when HasMemoryMax is false.
	MemoryMaxMB  float64
	HasMemoryMax bool

	// NetIn and NetOut are only meaningful when HasNetwork is true.
	NetIn      float64
	NetOut     float64
	HasNetwork bool

	CapturedAt time.Time
}

// ParseSample converts a raw stats object into a Sample. Every numeric field
// may arrive as a JSON number or a numeric string. cpu_load and memory_used
// are required; memory_max and the net_stats pair are optional. Any field
// that is present but not a finite number rejects the whole sample.
func ParseSample(vm string, raw controlplane.VMStats, at time.Time) (Sample, error) {
	s := Sample{VMName: vm, CapturedAt: at}
	if raw.VMName != "" {
		s.VMName = raw.VMName
	}

	var err error
	if s.CPULoadPercent, err = requireField("cpu_load", raw.CPULoad); err != nil {
		return Sample{}, err
	}
	if s.MemoryUsedMB, err = requireField("memory_used", raw.MemoryUsed); err != nil {
		return Sample{}, err
	}

	if s.MemoryMaxMB, s.HasMemoryMax, err = optionalField("memory_max", raw.MemoryMax); err != nil {
		return Sample{}, err
	}

	in, hasIn, err := optionalField("net_stats_in", raw.NetIn)
	if err != nil {
		return Sample{}, err
	}
	out, hasOut, err := optionalField("net_stats_out", raw.NetOut)
	if err != nil {
		return Sample{}, err
	}
	if hasIn && hasOut {
		s.NetIn, s.NetOut, s.HasNetwork = in, out, true
	}

	return s, nil
}

func requireField(name string, raw json.RawMessage) (float64, error) {
	v, ok, err := optionalField(name, raw)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, errors.New(errors.ErrData,
			fmt.Sprintf("Stats response is missing %s", name), "")
	}
	return v, nil
}

// optionalField reports ok=false for an absent or null field.
func optionalField(name string, raw json.RawMessage) (float64, bool, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return 0, false, nil
	}

	v, err := parseNumber(raw)
	if err != nil {
		return 0, false, errors.WrapWithCode(err, errors.ErrData,
			fmt.Sprintf("Stats field %s is not a number", name), "")
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false, errors.New(errors.ErrData,
			fmt.Sprintf("Stats field %s is not finite", name), "")
	}
	return v, true, nil
}

func parseNumber(raw json.RawMessage) (float64, error) {
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return 0, err
		}
		return strconv.ParseFloat(strings.TrimSpace(s), 64)
	}
	var v float64
	if err := json.Unmarshal(raw, &v); err != nil {
		return 0, err
	}
	return v, nil
}
