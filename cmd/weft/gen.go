package main

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/weft/internal/logger"
	"github.com/samcharles93/weft/internal/matrix"
	"github.com/samcharles93/weft/pkg/wmb"
)

func genCmd() *cli.Command {
	var (
		rows    int64
		cols    int64
		density float64
		seed    int64
		dense   bool
		outPath string
	)

	return &cli.Command{
		Name:  "gen",
		Usage: "Generate a random guide matrix as a .wmb file",
		Flags: []cli.Flag{
			&cli.Int64Flag{
				Name:        "rows",
				Usage:       "matrix rows",
				Value:       4096,
				Destination: &rows,
			},
			&cli.Int64Flag{
				Name:        "cols",
				Usage:       "matrix columns",
				Value:       4096,
				Destination: &cols,
			},
			&cli.Float64Flag{
				Name:        "density",
				Usage:       "fraction of stored cells",
				Value:       0.01,
				Destination: &density,
			},
			&cli.Int64Flag{
				Name:        "seed",
				Usage:       "rng seed",
				Value:       42,
				Destination: &seed,
			},
			&cli.BoolFlag{
				Name:        "dense",
				Usage:       "emit a dense payload instead of sparse",
				Destination: &dense,
			},
			&cli.StringFlag{
				Name:        "out",
				Aliases:     []string{"o"},
				Usage:       "output path",
				Required:    true,
				Destination: &outPath,
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			log := logger.FromContext(ctx)

			var b *matrix.Block
			if dense {
				b = matrix.NewDense(int(rows), int(cols))
				matrix.FillRand(b, seed)
			} else {
				b = matrix.RandSparse(int(rows), int(cols), density, seed)
			}

			if err := wmb.Write(outPath, b); err != nil {
				return cli.Exit(fmt.Sprintf("error: write %q: %v", outPath, err), 1)
			}
			log.Info("matrix written",
				"path", outPath,
				"rows", b.Rows,
				"cols", b.Cols,
				"nnz", b.NonZeros(),
				"sparse", b.IsSparse(),
			)
			return nil
		},
	}
}
