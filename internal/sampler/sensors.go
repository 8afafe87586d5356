package sampler

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/doctoroakin/ai-telemetry-test/internal/metrics"
	"github.com/doctoroakin/ai-telemetry-test/internal/model"
)

const (
	procStatPath = "/proc/stat"
	meminfoPath  = "/proc/meminfo"
	raplPath     = "/sys/class/powercap/intel-rapl:0/energy_uj"
)

// platformReader reads CPU utilization from /proc/stat, used memory from
// /proc/meminfo, and package power from the powercap RAPL energy counter.
// Any of the three may be missing on a given platform; each read degrades
// independently to a nil field.
type platformReader struct {
	statPath string
	memPath  string
	raplPath string

	prevBusy  uint64
	prevTotal uint64
	haveCPU   bool

	prevEnergyUJ uint64
	prevEnergyAt time.Time
	havePower    bool
}

func newPlatformReader() *platformReader {
	return &platformReader{
		statPath: procStatPath,
		memPath:  meminfoPath,
		raplPath: raplPath,
	}
}

func (r *platformReader) Read(now time.Time) model.Sample {
	return model.Sample{
		Timestamp:   now,
		CPUPercent:  r.readCPU(),
		MemoryBytes: r.readMemory(),
		PowerWatts:  r.readPower(now),
	}
}

// readCPU returns system-wide busy percent since the previous read.
// The first read only primes the counters and reports unavailable.
func (r *platformReader) readCPU() *float64 {
	data, err := os.ReadFile(r.statPath)
	if err != nil {
		metrics.SensorReadFailures.WithLabelValues("cpu").Inc()
		return nil
	}

	line, _, _ := strings.Cut(string(data), "\n")
	busy, total, ok := parseCPUStatLine(line)
	if !ok {
		metrics.SensorReadFailures.WithLabelValues("cpu").Inc()
		return nil
	}

	defer func() {
		r.prevBusy, r.prevTotal, r.haveCPU = busy, total, true
	}()

	if !r.haveCPU || total <= r.prevTotal {
		return nil
	}

	pct := float64(busy-r.prevBusy) / float64(total-r.prevTotal) * 100.0
	if pct < 0 || pct > 100 {
		return nil
	}
	return &pct
}

// parseCPUStatLine parses the aggregate "cpu" line of /proc/stat and
// returns (busy, total) jiffy counters.
func parseCPUStatLine(line string) (busy, total uint64, ok bool) {
	fields := strings.Fields(line)
	if len(fields) < 5 || fields[0] != "cpu" {
		return 0, 0, false
	}

	values := make([]uint64, 0, len(fields)-1)
	for _, f := range fields[1:] {
		v, err := strconv.ParseUint(f, 10, 64)
		if err != nil {
			return 0, 0, false
		}
		values = append(values, v)
	}

	// Fields: user nice system idle iowait irq softirq steal ...
	for i, v := range values {
		total += v
		if i != 3 && i != 4 { // idle, iowait
			busy += v
		}
	}
	return busy, total, true
}

// readMemory returns used bytes (MemTotal - MemAvailable).
func (r *platformReader) readMemory() *uint64 {
	data, err := os.ReadFile(r.memPath)
	if err != nil {
		metrics.SensorReadFailures.WithLabelValues("memory").Inc()
		return nil
	}

	used, ok := parseMeminfo(string(data))
	if !ok {
		metrics.SensorReadFailures.WithLabelValues("memory").Inc()
		return nil
	}
	return &used
}

func parseMeminfo(text string) (uint64, bool) {
	var total, available uint64
	var haveTotal, haveAvailable bool

	for _, line := range strings.Split(text, "\n") {
		switch {
		case strings.HasPrefix(line, "MemTotal:"):
			total, haveTotal = parseMeminfoKB(line)
		case strings.HasPrefix(line, "MemAvailable:"):
			available, haveAvailable = parseMeminfoKB(line)
		}
		if haveTotal && haveAvailable {
			break
		}
	}

	if !haveTotal || !haveAvailable || available > total {
		return 0, false
	}
	return (total - available) * 1024, true
}

func parseMeminfoKB(line string) (uint64, bool) {
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return 0, false
	}
	v, err := strconv.ParseUint(fields[1], 10, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// readPower derives average watts since the previous read from the RAPL
// package energy counter. Counter wraparound shows up as a negative
// delta and reports unavailable for that one read.
func (r *platformReader) readPower(now time.Time) *float64 {
	data, err := os.ReadFile(r.raplPath)
	if err != nil {
		metrics.SensorReadFailures.WithLabelValues("power").Inc()
		return nil
	}

	energy, err := strconv.ParseUint(strings.TrimSpace(string(data)), 10, 64)
	if err != nil {
		metrics.SensorReadFailures.WithLabelValues("power").Inc()
		return nil
	}

	prevEnergy, prevAt, had := r.prevEnergyUJ, r.prevEnergyAt, r.havePower
	r.prevEnergyUJ, r.prevEnergyAt, r.havePower = energy, now, true

	if !had || energy < prevEnergy {
		return nil
	}

	elapsed := now.Sub(prevAt).Seconds()
	if elapsed <= 0 {
		return nil
	}

	watts := float64(energy-prevEnergy) / 1e6 / elapsed
	return &watts
}
