// Command analysis measures how ttlfilter behaves under full rotations.
//
// For each scenario it fills every live slot to capacity, probes with keys
// that were never inserted, and compares the observed false positive rate
// with the compounded estimate. It then tracks one item through successive
// Expire calls and compares its lifetime with ExpirationWindow.
//
// Scenarios come from flags or from a HuJSON file (JSON with comments and
// trailing commas):
//
//	[
//	  // small slots, coarse fingerprints
//	  {"name": "fp8", "ttl": "1h", "period": "10m", "capacity": 70000, "fingerprint_bits": 8},
//	  {"name": "bloom", "ttl": "24h", "period": "1h", "capacity": 250000, "backend": "bloom"},
//	]
package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"github.com/jcalabro/ttlfilter"
	"github.com/natefinch/atomic"
	flag "github.com/spf13/pflag"
	"github.com/tailscale/hujson"
)

const defaultProbes = 100_000

// scenario is one filter configuration to analyze.
type scenario struct {
	Name            string   `json:"name"`
	TTL             duration `json:"ttl"`
	Period          duration `json:"period"`
	Capacity        uint64   `json:"capacity"`
	FingerprintBits uint     `json:"fingerprint_bits"` //nolint:tagliatelle // snake_case for scenario file
	BucketSize      uint     `json:"bucket_size"`      //nolint:tagliatelle // snake_case for scenario file
	Backend         string   `json:"backend,omitempty"`
	Probes          int      `json:"probes,omitempty"`
}

// duration is a time.Duration that unmarshals from strings like "10m".
type duration time.Duration

func (d *duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("duration must be a string: %w", err)
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = duration(v)
	return nil
}

// result is what one scenario run measured.
type result struct {
	scenario      scenario
	slots         int
	slotCapacity  uint64
	items         uint64
	observedFP    float64
	estimatedFP   float64
	lifetimeTicks int
	shortest      time.Duration
	longest       time.Duration
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, out, errOut io.Writer) int {
	flagSet := flag.NewFlagSet("analysis", flag.ContinueOnError)
	flagSet.SetOutput(errOut)

	configPath := flagSet.StringP("config", "c", "", "HuJSON scenario file (overrides the scenario flags)")
	ttl := flagSet.Duration("ttl", time.Hour, "Minimum item lifetime")
	period := flagSet.Duration("period", 10*time.Minute, "Maximum interval between expirations")
	capacity := flagSet.Uint64("capacity", 70_000, "Total filter capacity")
	fpBits := flagSet.Uint("fingerprint-bits", 8, "Fingerprint size in bits (4, 8, 16 or 32)")
	bucketSize := flagSet.Uint("bucket-size", ttlfilter.DefaultBucketSize, "Fingerprints per bucket")
	backend := flagSet.String("backend", "atomic", "Slot backend: atomic, locked or bloom")
	probes := flagSet.Int("probes", defaultProbes, "Absent keys probed per scenario")
	outPath := flagSet.StringP("out", "o", "", "Also write the report to this file")
	verbose := flagSet.BoolP("verbose", "v", false, "Log filter rotations to stderr")

	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		fmt.Fprintln(errOut, "error:", err)
		return 2
	}

	var scenarios []scenario
	if *configPath != "" {
		data, err := os.ReadFile(*configPath)
		if err != nil {
			fmt.Fprintln(errOut, "error:", err)
			return 1
		}
		scenarios, err = parseScenarios(data)
		if err != nil {
			fmt.Fprintf(errOut, "error: %s: %v\n", *configPath, err)
			return 1
		}
	} else {
		scenarios = []scenario{{
			Name:            "flags",
			TTL:             duration(*ttl),
			Period:          duration(*period),
			Capacity:        *capacity,
			FingerprintBits: *fpBits,
			BucketSize:      *bucketSize,
			Backend:         *backend,
			Probes:          *probes,
		}}
	}

	var logger *slog.Logger
	if *verbose {
		logger = slog.New(slog.NewTextHandler(errOut, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}

	results := make([]result, 0, len(scenarios))
	for _, sc := range scenarios {
		res, err := analyze(sc, logger)
		if err != nil {
			fmt.Fprintf(errOut, "error: scenario %q: %v\n", sc.Name, err)
			return 1
		}
		results = append(results, res)
	}

	var report bytes.Buffer
	writeReport(&report, results)

	if _, err := out.Write(report.Bytes()); err != nil {
		fmt.Fprintln(errOut, "error:", err)
		return 1
	}
	if *outPath != "" {
		if err := atomic.WriteFile(*outPath, bytes.NewReader(report.Bytes())); err != nil {
			fmt.Fprintf(errOut, "error: writing report: %v\n", err)
			return 1
		}
	}
	return 0
}

// parseScenarios decodes a HuJSON array of scenarios, filling unset fields
// with the library defaults.
func parseScenarios(data []byte) ([]scenario, error) {
	standardized, err := hujson.Standardize(data)
	if err != nil {
		return nil, fmt.Errorf("invalid JSONC: %w", err)
	}

	var scenarios []scenario
	if err := json.Unmarshal(standardized, &scenarios); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}
	if len(scenarios) == 0 {
		return nil, errors.New("no scenarios")
	}

	for i := range scenarios {
		sc := &scenarios[i]
		if sc.Name == "" {
			sc.Name = fmt.Sprintf("scenario-%d", i)
		}
		if sc.TTL == 0 {
			sc.TTL = duration(ttlfilter.DefaultTTL)
		}
		if sc.Period == 0 {
			sc.Period = duration(ttlfilter.DefaultExpirationPeriod)
		}
		if sc.Capacity == 0 {
			sc.Capacity = ttlfilter.DefaultCapacity
		}
		if sc.FingerprintBits == 0 {
			sc.FingerprintBits = ttlfilter.DefaultFingerprintBits
		}
		if sc.BucketSize == 0 {
			sc.BucketSize = ttlfilter.DefaultBucketSize
		}
		if sc.Backend == "" {
			sc.Backend = "atomic"
		}
		if sc.Probes == 0 {
			sc.Probes = defaultProbes
		}
	}
	return scenarios, nil
}

func slotFactory(backend string) (ttlfilter.SlotFactory, error) {
	switch backend {
	case "atomic":
		return ttlfilter.AtomicCuckooFactory, nil
	case "locked":
		return ttlfilter.LockedCuckooFactory, nil
	case "bloom":
		return ttlfilter.AtomicBloomFactory, nil
	default:
		return nil, fmt.Errorf("unknown backend %q", backend)
	}
}

func analyze(sc scenario, logger *slog.Logger) (result, error) {
	factory, err := slotFactory(sc.Backend)
	if err != nil {
		return result{}, err
	}

	f, err := ttlfilter.New(
		ttlfilter.WithTTL(time.Duration(sc.TTL)),
		ttlfilter.WithExpirationPeriod(time.Duration(sc.Period)),
		ttlfilter.WithCapacity(sc.Capacity),
		ttlfilter.WithFingerprintSize(sc.FingerprintBits),
		ttlfilter.WithBucketSize(sc.BucketSize),
		ttlfilter.WithSlotFactory(factory),
		ttlfilter.WithLogger(logger),
	)
	if err != nil {
		return result{}, err
	}

	items, err := fillLiveSlots(f)
	if err != nil {
		return result{}, err
	}

	var falsePositives int
	for i := range sc.Probes {
		if f.Contains(fmt.Appendf(nil, "absent-%d", i)) {
			falsePositives++
		}
	}

	res := result{
		scenario:     sc,
		slots:        f.NumSlots(),
		slotCapacity: f.SlotCapacity(),
		items:        items,
		estimatedFP:  f.EstimatedFalsePositiveRate(),
	}
	if sc.Probes > 0 {
		res.observedFP = float64(falsePositives) / float64(sc.Probes)
	}
	res.shortest, res.longest = f.ExpirationWindow()
	res.lifetimeTicks = measureLifetime(f)
	return res, nil
}

// fillLiveSlots fills every slot except the standby slot, expiring between
// slots, and returns the number of items inserted.
func fillLiveSlots(f *ttlfilter.Filter) (uint64, error) {
	var n uint64
	perSlot := f.SlotCapacity()
	for tick := range f.NumSlots() - 1 {
		if tick > 0 {
			f.Expire()
		}
		for i := range perSlot {
			err := f.Insert(fmt.Appendf(nil, "t%d-item-%d", tick, i))
			if errors.Is(err, ttlfilter.ErrCapacityExceeded) {
				// No displacement path left; the slot is as full as it gets.
				break
			}
			if err != nil {
				return n, err
			}
			n++
		}
	}
	return n, nil
}

// measureLifetime inserts a fresh item and counts the Expire calls until it
// is gone. A false positive can keep the item visible past its slot, so the
// count is capped at twice the slot count.
func measureLifetime(f *ttlfilter.Filter) int {
	key := []byte("lifetime-probe")
	if err := f.Insert(key); err != nil {
		f.Expire()
		if err := f.Insert(key); err != nil {
			return -1
		}
	}

	limit := 2 * f.NumSlots()
	for ticks := 1; ticks <= limit; ticks++ {
		f.Expire()
		if !f.Contains(key) {
			return ticks
		}
	}
	return -1
}

func writeReport(w io.Writer, results []result) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SCENARIO\tBACKEND\tSLOTS\tSLOT CAP\tFP BITS\tITEMS\tOBSERVED FP\tESTIMATED FP\tLIFETIME\tWINDOW")
	for _, r := range results {
		lifetime := "n/a"
		if r.lifetimeTicks >= 0 {
			lifetime = fmt.Sprintf("%d ticks (%s)", r.lifetimeTicks, time.Duration(r.lifetimeTicks)*time.Duration(r.scenario.Period))
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\t%d\t%.4f%%\t%.4f%%\t%s\t%s..%s\n",
			r.scenario.Name,
			r.scenario.Backend,
			r.slots,
			r.slotCapacity,
			r.scenario.FingerprintBits,
			r.items,
			r.observedFP*100,
			r.estimatedFP*100,
			lifetime,
			r.shortest,
			r.longest,
		)
	}
	_ = tw.Flush()
}
