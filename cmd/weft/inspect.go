package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/weft/pkg/wmb"
)

func inspectCmd() *cli.Command {
	var path string

	return &cli.Command{
		Name:  "inspect",
		Usage: "Inspect the contents of a .wmb matrix container",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "file",
				Aliases:     []string{"f"},
				Usage:       "path to .wmb file",
				Required:    true,
				Destination: &path,
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			_ = ctx

			stat, err := os.Stat(path)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: stat %q: %v", path, err), 1)
			}
			if stat.IsDir() || !strings.HasSuffix(strings.ToLower(path), ".wmb") {
				return cli.Exit("error: weft inspect only supports .wmb files", 1)
			}

			f, err := wmb.Open(path)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: open wmb: %v", err), 1)
			}
			defer func() { _ = f.Close() }()

			h := f.Header
			layout := "dense"
			if h.Layout == wmb.LayoutSparse {
				layout = "sparse"
			}
			cells := h.Rows * h.Cols

			fmt.Printf("WMB Inspect: %s\n", path)
			fmt.Printf("File: %s (%s)\n", filepath.Base(path), formatBytes(uint64(stat.Size())))
			fmt.Printf("WMB Header: v%d.%d layout=%s\n", h.Major, h.Minor, layout)
			fmt.Printf("%-12s %dx%d\n", "shape:", h.Rows, h.Cols)
			fmt.Printf("%-12s %d\n", "entries:", h.NonZeros)
			if cells > 0 {
				fmt.Printf("%-12s %.6f\n", "density:", float64(h.NonZeros)/float64(cells))
			}
			fmt.Printf("%-12s %s\n", "payload:", formatBytes(uint64(len(f.Payload()))))
			return nil
		},
	}
}

func formatBytes(b uint64) string {
	const (
		kb = 1024
		mb = 1024 * kb
		gb = 1024 * mb
	)
	switch {
	case b >= gb:
		return fmt.Sprintf("%.2f GiB", float64(b)/float64(gb))
	case b >= mb:
		return fmt.Sprintf("%.2f MiB", float64(b)/float64(mb))
	case b >= kb:
		return fmt.Sprintf("%.2f KiB", float64(b)/float64(kb))
	default:
		return fmt.Sprintf("%d B", b)
	}
}
