package main

import (
	"context"
	"strconv"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/trezcool/mitihani/core/packet"
)

var (
	titleColor    = color.New(color.FgYellow, color.Bold)
	incidentColor = color.New(color.FgRed)
	doneColor     = color.New(color.FgGreen)
)

func (cli *commandLine) statsCommand() *cobra.Command {
	var filter packet.QueryFilter

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Print packet counts per status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			stats, err := cli.pktSvc.DashboardStats(context.Background(), &filter)
			if err != nil {
				return errors.Wrap(err, "computing stats")
			}
			cli.printStats(stats)
			return nil
		},
	}

	cmd.Flags().Int64Var(&filter.ExamYearID, "exam-year", 0, "Only count packets of this exam year id")
	cmd.Flags().IntVar(&filter.Grade, "grade", 0, "Only count packets of this grade")
	cmd.Flags().Int64Var(&filter.SubjectID, "subject", 0, "Only count packets of this subject id")
	return cmd
}

func (cli *commandLine) printStats(stats packet.Stats) {
	_, _ = titleColor.Fprintln(cli.out, "Packets by status")

	table := tablewriter.NewWriter(cli.out)
	table.SetHeader([]string{"Status", "Count"})
	for _, status := range packet.AllStatuses {
		count := strconv.Itoa(stats.StatusCounts[status])
		switch {
		case status.IsIncident() && stats.StatusCounts[status] > 0:
			count = incidentColor.Sprint(count)
		case status == packet.StatusCompleted && stats.StatusCounts[status] > 0:
			count = doneColor.Sprint(count)
		}
		table.Append([]string{string(status), count})
	}
	table.SetFooter([]string{"Total", strconv.Itoa(stats.Total)})
	table.Render()
}
