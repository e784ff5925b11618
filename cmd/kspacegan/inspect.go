package main

import (
	"fmt"
	"io"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"kspacegan/internal/models"
	"kspacegan/pkg/mridata"
)

func (a *app) inspectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect [ROOT]",
		Short: "List the volumes a dataset would index",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := a.cfg
			if len(args) == 1 {
				cfg.Data.Root = args[0]
			}
			identity := func(rec models.Record) (models.Record, error) { return rec, nil }
			ds, err := buildDataset[models.Record](cfg, identity)
			if err != nil {
				return err
			}
			renderVolumes(cmd.OutOrStdout(), ds.Volumes())
			fmt.Fprintf(cmd.OutOrStdout(), "\n%d volumes, %d slices\n", len(ds.Volumes()), ds.Len())
			return nil
		},
	}
}

func renderVolumes(w io.Writer, volumes []mridata.VolumeInfo) {
	var data [][]string
	for _, v := range volumes {
		target := "no"
		if v.HasTarget {
			target = "yes"
		}
		data = append(data, []string{
			v.Fname,
			strconv.Itoa(v.NumSlices),
			fmt.Sprint(v.KSpaceShape),
			target,
			v.Attrs.Acquisition,
			strconv.FormatFloat(v.Attrs.Max, 'g', 4, 64),
		})
	}

	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"FILE", "SLICES", "KSPACE", "TARGET", "ACQUISITION", "MAX"})
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetNoWhiteSpace(true)
	table.SetTablePadding("    ")
	table.AppendBulk(data)
	table.Render()
}
