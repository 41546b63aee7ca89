package main

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/weft/internal/logger"
	"github.com/samcharles93/weft/internal/matrix"
	"github.com/samcharles93/weft/internal/outerprod"
	"github.com/samcharles93/weft/pkg/wmb"
)

func benchCmd() *cli.Command {
	var (
		rows       int64
		cols       int64
		rank       int64
		density    float64
		modeName   string
		kernelName string
		threads    int64
		warmupRuns int64
		benchRuns  int64
		seed       int64
		guidePath  string
		jsonPath   string
	)

	return &cli.Command{
		Name:  "bench",
		Usage: "Run standardized executor benchmarks",
		Flags: []cli.Flag{
			&cli.Int64Flag{
				Name:        "rows",
				Usage:       "guide matrix rows",
				Value:       4096,
				Destination: &rows,
			},
			&cli.Int64Flag{
				Name:        "cols",
				Usage:       "guide matrix columns",
				Value:       4096,
				Destination: &cols,
			},
			&cli.Int64Flag{
				Name:        "rank",
				Aliases:     []string{"k"},
				Usage:       "factor rank",
				Value:       64,
				Destination: &rank,
			},
			&cli.Float64Flag{
				Name:        "density",
				Usage:       "fraction of stored guide cells",
				Value:       0.01,
				Destination: &density,
			},
			&cli.StringFlag{
				Name:        "mode",
				Aliases:     []string{"m"},
				Usage:       "execution mode (left, right, cellwise, aggregate)",
				Value:       "left",
				Destination: &modeName,
			},
			&cli.StringFlag{
				Name:        "kernel",
				Usage:       "kernel (factor, weight, sigmoid)",
				Value:       "factor",
				Destination: &kernelName,
			},
			&cli.Int64Flag{
				Name:        "threads",
				Aliases:     []string{"t"},
				Usage:       "worker count (1 = sequential)",
				Value:       int64(runtime.NumCPU()),
				Destination: &threads,
			},
			&cli.Int64Flag{
				Name:        "warmup",
				Usage:       "number of warmup runs",
				Value:       1,
				Destination: &warmupRuns,
			},
			&cli.Int64Flag{
				Name:        "runs",
				Usage:       "number of benchmark runs",
				Value:       5,
				Destination: &benchRuns,
			},
			&cli.Int64Flag{
				Name:        "seed",
				Usage:       "rng seed for generated operands",
				Value:       42,
				Destination: &seed,
			},
			&cli.StringFlag{
				Name:        "guide",
				Aliases:     []string{"g"},
				Usage:       "path to a .wmb guide matrix (generated when omitted)",
				Destination: &guidePath,
			},
			&cli.StringFlag{
				Name:        "json",
				Usage:       "write a JSON report to this path",
				Destination: &jsonPath,
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			log := logger.FromContext(ctx)
			cfg := LoadConfig()
			applyBenchConfig(c, cfg, &threads)

			mode, err := outerprod.ParseMode(modeName)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			kernel, err := kernelFor(kernelName, mode)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}

			a, err := loadOrGenerateGuide(log, guidePath, int(rows), int(cols), density, seed)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: guide: %v", err), 1)
			}

			u := matrix.NewDense(a.Rows, int(rank))
			v := matrix.NewDense(a.Cols, int(rank))
			matrix.FillRand(u, seed+1)
			matrix.FillRand(v, seed+2)

			exec := &outerprod.Executor{
				Mode:   mode,
				Kernel: kernel,
				Tuning: tuningFromConfig(cfg),
			}
			in := &outerprod.Inputs{A: a, U: u, V: v}
			out := matrix.NewDense(0, 0)

			fmt.Println("=== Weft Benchmark ===")
			fmt.Printf("Guide:    %dx%d, %d stored cells (%.4f dense)\n",
				a.Rows, a.Cols, a.NonZeros(), float64(a.NonZeros())/float64(a.Rows*a.Cols))
			fmt.Printf("Rank:     %d\n", rank)
			fmt.Printf("Mode:     %s\n", mode)
			fmt.Printf("Kernel:   %s\n", kernelName)
			fmt.Printf("Threads:  %d\n", threads)
			fmt.Printf("CPUs:     %d (GOMAXPROCS %d)\n", runtime.NumCPU(), runtime.GOMAXPROCS(0))
			fmt.Printf("Warmup:   %d runs\n", warmupRuns)
			fmt.Printf("Runs:     %d\n", benchRuns)
			fmt.Println()

			runOnce := func() (time.Duration, error) {
				start := time.Now()
				if mode == outerprod.Aggregate {
					_, err := exec.ExecuteScalar(in, int(threads))
					return time.Since(start), err
				}
				err := exec.ExecuteMatrix(in, out, int(threads))
				return time.Since(start), err
			}

			for i := range int(warmupRuns) {
				log.Info("warmup run", "run", i+1)
				if _, err := runOnce(); err != nil {
					return cli.Exit(fmt.Sprintf("error: warmup run %d: %v", i+1, err), 1)
				}
			}

			cells := a.NonZeros()
			results := make([]runStat, 0, benchRuns)
			for i := range int(benchRuns) {
				log.Info("benchmark run", "run", i+1)
				d, err := runOnce()
				if err != nil {
					return cli.Exit(fmt.Sprintf("error: benchmark run %d: %v", i+1, err), 1)
				}
				results = append(results, runStat{
					Duration:    d,
					CellsPerSec: float64(cells) / d.Seconds(),
				})
			}

			fmt.Println("=== Results ===")
			fmt.Printf("%-6s %12s %14s\n", "Run", "Duration", "Cells/s")
			var sumCells float64
			var sumDur time.Duration
			for i, r := range results {
				fmt.Printf("%-6d %12s %14s\n", i+1, r.Duration.Round(time.Microsecond), formatRate(r.CellsPerSec))
				sumCells += r.CellsPerSec
				sumDur += r.Duration
			}
			n := float64(len(results))
			fmt.Printf("\n%-6s %12s %14s\n", "Avg",
				(sumDur / time.Duration(len(results))).Round(time.Microsecond),
				formatRate(sumCells/n))

			var mem runtime.MemStats
			runtime.ReadMemStats(&mem)
			fmt.Printf("\nMemory: %.1f MB alloc, %.1f MB sys\n",
				float64(mem.Alloc)/(1024*1024),
				float64(mem.Sys)/(1024*1024))

			if jsonPath != "" {
				report := benchReport{
					ID:        uuid.NewString(),
					Timestamp: time.Now().UTC(),
					Mode:      mode.String(),
					Kernel:    kernelName,
					Rows:      a.Rows,
					Cols:      a.Cols,
					Rank:      int(rank),
					NonZeros:  cells,
					Threads:   int(threads),
					Runs:      results,
				}
				if err := writeReport(jsonPath, &report); err != nil {
					return cli.Exit(fmt.Sprintf("error: write report: %v", err), 1)
				}
				log.Info("report written", "path", jsonPath, "id", report.ID)
			}
			return nil
		},
	}
}

type runStat struct {
	Duration    time.Duration `json:"duration_ns"`
	CellsPerSec float64       `json:"cells_per_sec"`
}

type benchReport struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Mode      string    `json:"mode"`
	Kernel    string    `json:"kernel"`
	Rows      int       `json:"rows"`
	Cols      int       `json:"cols"`
	Rank      int       `json:"rank"`
	NonZeros  int64     `json:"non_zeros"`
	Threads   int       `json:"threads"`
	Runs      []runStat `json:"runs"`
}

func writeReport(path string, report *benchReport) error {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func kernelFor(name string, mode outerprod.Mode) (outerprod.Kernel, error) {
	switch strings.ToLower(name) {
	case "factor", "factorscale":
		return outerprod.FactorScaleKernel{Right: mode == outerprod.Right}, nil
	case "weight":
		return outerprod.WeightKernel{}, nil
	case "sigmoid":
		return outerprod.SigmoidKernel{}, nil
	default:
		return nil, fmt.Errorf("unknown kernel %q", name)
	}
}

func loadOrGenerateGuide(log logger.Logger, path string, rows, cols int, density float64, seed int64) (*matrix.Block, error) {
	if path == "" {
		log.Info("generating guide matrix", "rows", rows, "cols", cols, "density", density)
		return matrix.RandSparse(rows, cols, density, seed), nil
	}
	log.Info("loading guide matrix", "path", path)
	f, err := wmb.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()
	return f.Block()
}

func formatRate(v float64) string {
	switch {
	case v >= 1e9:
		return fmt.Sprintf("%.2f Gc/s", v/1e9)
	case v >= 1e6:
		return fmt.Sprintf("%.2f Mc/s", v/1e6)
	case v >= 1e3:
		return fmt.Sprintf("%.2f Kc/s", v/1e3)
	default:
		return fmt.Sprintf("%.0f c/s", v)
	}
}
