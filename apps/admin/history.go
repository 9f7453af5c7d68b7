package main

import (
	"context"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/trezcool/mitihani/core/packet"
)

func (cli *commandLine) historyCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "history BARCODE",
		Short: "Print the custody history of a packet",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			pkt, err := cli.pktSvc.GetPacketByBarcode(ctx, args[0])
			if err != nil {
				return errors.Wrapf(err, "getting packet %s", args[0])
			}
			detail, err := cli.pktSvc.PacketDetail(ctx, pkt.ID)
			if err != nil {
				return errors.Wrap(err, "getting packet detail")
			}
			cli.printHistory(detail)
			return nil
		},
	}
}

func (cli *commandLine) printHistory(detail packet.Detail) {
	pkt := detail.Packet
	statusColor := doneColor
	if pkt.Status.IsIncident() {
		statusColor = incidentColor
	}
	_, _ = titleColor.Fprintf(cli.out, "%s  %s / %s  ", pkt.Barcode, detail.Names.Subject, detail.Names.Grade)
	_, _ = statusColor.Fprintf(cli.out, "%s @ %s\n", pkt.Status, detail.Names.CurrentLocation)

	table := tablewriter.NewWriter(cli.out)
	table.SetHeader([]string{"Time", "Direction", "From", "To", "Status", "Sender", "Receiver"})
	table.SetAutoWrapText(false)
	for _, h := range detail.Handovers {
		table.Append([]string{
			h.HandoverTime.Format(time.RFC3339),
			string(h.Direction),
			h.FromLocationName,
			h.ToLocationName,
			string(h.StatusAtHandover),
			h.SenderName,
			h.ReceiverName,
		})
	}
	table.Render()
}
