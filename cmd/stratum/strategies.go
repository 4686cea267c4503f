package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/stratum/internal/kernel"
	"github.com/samcharles93/stratum/internal/tensor"
)

type strategyRow struct {
	Name     string   `json:"name"`
	Op       string   `json:"op"`
	DType    string   `json:"dtype"`
	Layout   string   `json:"layout"`
	Requires []string `json:"requires"`
	Tile     []int    `json:"tile"`
	Eligible bool     `json:"eligible"`
}

func strategiesCmd() *cli.Command {
	var (
		op     string
		dtype  string
		asJSON bool
	)

	return &cli.Command{
		Name:    "strategies",
		Aliases: []string{"ls"},
		Usage:   "List registered strategies",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "op",
				Usage:       "only this operator (activation, elementwise, pooling, depthwise, gemm, reduction)",
				Destination: &op,
			},
			&cli.StringFlag{
				Name:        "dtype",
				Usage:       "only this data type (f32, f16, ...)",
				Destination: &dtype,
			},
			&cli.BoolFlag{
				Name:        "json",
				Usage:       "print JSON",
				Destination: &asJSON,
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			b, caps, err := openBackend()
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			wantOp := kernel.OpUnknown
			if op != "" {
				if wantOp, err = kernel.ParseOpKind(op); err != nil {
					return cli.Exit(fmt.Sprintf("error: %v", err), 1)
				}
			}
			wantType := tensor.DataTypeUnknown
			if dtype != "" {
				if wantType, err = tensor.ParseDataType(dtype); err != nil {
					return cli.Exit(fmt.Sprintf("error: %v", err), 1)
				}
			}

			rows := []strategyRow{}
			for _, s := range b.Registry().Strategies() {
				if wantOp != kernel.OpUnknown && s.Op != wantOp {
					continue
				}
				if wantType != tensor.DataTypeUnknown && s.DType != wantType {
					continue
				}
				rows = append(rows, strategyRow{
					Name:     s.Name,
					Op:       s.Op.String(),
					DType:    s.DType.String(),
					Layout:   s.Layout.String(),
					Requires: capList(s.Requires),
					Tile:     s.Tile,
					Eligible: caps.ContainsAll(s.Requires),
				})
			}
			if asJSON {
				return writeJSON(stdout, rows)
			}

			fmt.Fprintf(stdout, "Strategies on %s (caps %s), * = eligible:\n\n", b.Name(), caps)
			for _, r := range rows {
				mark := " "
				if r.Eligible {
					mark = "*"
				}
				fmt.Fprintf(stdout, "%s %-36s %-12s %-5s %-8s %-22s %s\n",
					mark, r.Name, r.Op, r.DType, r.Layout, strings.Join(r.Requires, ","), joinInts(r.Tile, "x"))
			}
			return nil
		},
	}
}
