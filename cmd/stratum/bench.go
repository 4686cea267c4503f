package main

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/stratum/internal/backend"
	"github.com/samcharles93/stratum/internal/conformance"
	"github.com/samcharles93/stratum/internal/kernel"
	"github.com/samcharles93/stratum/internal/logger"
	"github.com/samcharles93/stratum/internal/operator"
	"github.com/samcharles93/stratum/internal/tensor"
)

type benchReport struct {
	Op        string  `json:"op"`
	DType     string  `json:"dtype"`
	Shape     []int   `json:"shape"`
	Backend   string  `json:"backend"`
	Strategy  string  `json:"strategy"`
	Window    string  `json:"window"`
	Threads   int     `json:"threads"`
	Runs      int     `json:"runs"`
	MinMS     float64 `json:"min_ms"`
	MedianMS  float64 `json:"median_ms"`
	MeanMS    float64 `json:"mean_ms"`
	GFLOPS    float64 `json:"gflops,omitempty"`
	MElemsSec float64 `json:"melems_per_sec"`
}

func benchCmd() *cli.Command {
	var (
		op         string
		dtype      string
		shape      string
		warmupRuns int64
		benchRuns  int64
		asJSON     bool
	)

	return &cli.Command{
		Name:    "bench",
		Aliases: []string{"benchmark"},
		Usage:   "Time one operator on a synthetic workload",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "op",
				Usage:       "operator to run",
				Value:       "gemm",
				Destination: &op,
			},
			&cli.StringFlag{
				Name:        "dtype",
				Usage:       "element type",
				Value:       "f32",
				Destination: &dtype,
			},
			&cli.StringFlag{
				Name:        "shape",
				Usage:       "workload shape; NHWC input for pooling and depthwise, MxNxK for gemm",
				Value:       "256x256x256",
				Destination: &shape,
			},
			&cli.Int64Flag{
				Name:        "warmup",
				Usage:       "number of warmup runs",
				Value:       2,
				Destination: &warmupRuns,
			},
			&cli.Int64Flag{
				Name:        "runs",
				Usage:       "number of timed runs",
				Value:       10,
				Destination: &benchRuns,
			},
			&cli.BoolFlag{
				Name:        "json",
				Usage:       "print JSON",
				Destination: &asJSON,
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log := logger.FromContext(ctx)

			kind, err := kernel.ParseOpKind(op)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			dt, err := tensor.ParseDataType(dtype)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			sh, err := parseShape(shape)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			if benchRuns <= 0 {
				return cli.Exit("error: --runs must be positive", 1)
			}

			b, caps, err := openBackend()
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			cfg, err := conformance.Workload(conformance.Case{Op: kind, DType: dt, Shape: sh}, 1)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: build workload: %v", err), 1)
			}
			owner, _, err := backend.Select(b, cfg, caps)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			if owner != b {
				log.Info("falling back", "from", b.Name(), "to", owner.Name())
				caps = owner.Capabilities()
			}
			k := operator.New(log)
			if err := k.Configure(cfg, owner.Registry(), caps); err != nil {
				return cli.Exit(fmt.Sprintf("error: configure: %v", err), 1)
			}

			sched := owner.Scheduler()
			hint := sched.NumThreads()
			w := k.Window()
			for range warmupRuns {
				if err := sched.Schedule(w, k, hint); err != nil {
					return cli.Exit(fmt.Sprintf("error: run: %v", err), 1)
				}
			}
			times := make([]time.Duration, 0, benchRuns)
			for range benchRuns {
				if err := ctx.Err(); err != nil {
					return err
				}
				start := time.Now()
				if err := sched.Schedule(w, k, hint); err != nil {
					return cli.Exit(fmt.Sprintf("error: run: %v", err), 1)
				}
				times = append(times, time.Since(start))
			}

			report := summarize(times)
			report.Op, report.DType, report.Shape = kind.String(), dt.String(), sh
			report.Backend, report.Strategy = owner.Name(), k.Strategy().Name
			report.Window, report.Threads = w.String(), hint
			best := report.MinMS / 1e3
			if best > 0 {
				report.MElemsSec = float64(cfg.Output.Desc.NumElements()) / best / 1e6
				if kind == kernel.GEMM {
					report.GFLOPS = 2 * float64(sh[0]) * float64(sh[1]) * float64(sh[2]) / best / 1e9
				}
			}
			if asJSON {
				return writeJSON(stdout, report)
			}

			fmt.Fprintf(stdout, "%s %s %s on %s with %s (%d threads)\n",
				report.Op, report.DType, joinInts(sh, "x"), report.Backend, report.Strategy, report.Threads)
			fmt.Fprintf(stdout, "  runs:   %d\n", report.Runs)
			fmt.Fprintf(stdout, "  min:    %.3f ms\n", report.MinMS)
			fmt.Fprintf(stdout, "  median: %.3f ms\n", report.MedianMS)
			fmt.Fprintf(stdout, "  mean:   %.3f ms\n", report.MeanMS)
			fmt.Fprintf(stdout, "  rate:   %.1f Melem/s\n", report.MElemsSec)
			if report.GFLOPS > 0 {
				fmt.Fprintf(stdout, "  gemm:   %.2f GFLOP/s\n", report.GFLOPS)
			}
			return nil
		},
	}
}

func summarize(times []time.Duration) benchReport {
	r := benchReport{Runs: len(times)}
	if len(times) == 0 {
		return r
	}
	sorted := slices.Clone(times)
	slices.Sort(sorted)
	var total time.Duration
	for _, d := range sorted {
		total += d
	}
	ms := func(d time.Duration) float64 { return float64(d) / float64(time.Millisecond) }
	r.MinMS = ms(sorted[0])
	r.MeanMS = ms(total / time.Duration(len(sorted)))
	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		r.MedianMS = ms((sorted[mid-1] + sorted[mid]) / 2)
	} else {
		r.MedianMS = ms(sorted[mid])
	}
	return r
}
