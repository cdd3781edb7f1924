package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/rudransh-shrivastava/peerlink/internal/discovery"
	"github.com/spf13/cobra"
)

var discoverTimeout time.Duration

var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "lists relays advertised on the local network",
	Long:  `browses mDNS for relays started with --advertise and prints the URLs to pass to --relay or --tcp`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		relays, err := discovery.Browse(context.Background(), discoverTimeout)
		if err != nil {
			return err
		}
		if len(relays) == 0 {
			lg.Info("No relays found")
			return nil
		}
		for _, r := range relays {
			line := fmt.Sprintf("%s\t%s", r.Instance, r.URL())
			if tcp := r.TCPAddr(); tcp != "" {
				line += "\ttcp " + tcp
			}
			fmt.Println(line)
		}
		return nil
	},
}

func init() {
	discoverCmd.Flags().DurationVarP(&discoverTimeout, "timeout", "t", discovery.DefaultBrowseTimeout, "how long to wait for answers")
}
