package cmd

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rudransh-shrivastava/peerlink/internal/db"
	"github.com/rudransh-shrivastava/peerlink/internal/store"
	"github.com/spf13/cobra"
)

var historyLimit int

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "lists recorded transfers",
	Long:  `prints the most recent transfers from the history database set by peer.history_db`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg.Peer.HistoryDB == db.MemoryPath {
			lg.Warn("History is kept in memory; set peer.history_db to a file to keep it across runs")
		}

		gdb, err := db.Open(cfg.Peer.HistoryDB)
		if err != nil {
			return err
		}
		defer func() { _ = db.Close(gdb) }()

		transfers, err := store.NewTransferStore(gdb).List(context.Background(), historyLimit)
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "STARTED\tDIRECTION\tNAME\tPEER\tBYTES\tSTATUS\tPEAK KBIT/S")
		for _, t := range transfers {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d/%d\t%s\t%d\n",
				time.UnixMilli(t.StartedAt).Format(time.DateTime),
				t.Direction, t.Name, t.PeerID, t.Bytes, t.Size, t.Status, t.PeakKbps)
		}
		return w.Flush()
	},
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "number of transfers to show")
}
