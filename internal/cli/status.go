package cli

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/pixwatch/pixwatch/internal/daemon"
	"github.com/pixwatch/pixwatch/internal/infra/sqlite"
)

// displayPrecision rounds durations for human output.
const displayPrecision = time.Millisecond

func init() {
	statusCmd.Flags().StringVar(&statusChain, "chain", "", "Chain to show (defaults to the first configured chain)")
	rootCmd.AddCommand(statusCmd)
}

var statusChain string

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the latest network snapshot",
	RunE:  runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := daemon.LoadConfig()
	if err != nil {
		return err
	}

	chain := statusChain
	if chain == "" {
		chain = cfg.Chains[0].Name
	}
	if _, err := cfg.Chain(chain); err != nil {
		return err
	}

	db, err := sqlite.Open(daemon.Home())
	if err != nil {
		return err
	}
	defer db.Close()

	ns, err := db.LatestNetworkSnapshot(chain)
	if err != nil {
		return err
	}
	if ns == nil {
		fmt.Println("No network snapshot yet. Run `pixwatch crawl` first.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "Chain:\t%s\n", ns.Chain)
	fmt.Fprintf(w, "As of:\t%s\n", ns.Timestamp.Format(time.RFC3339))
	fmt.Fprintf(w, "Peers:\t%d total: %d up, %d reachable, %d down, %d pending\n",
		ns.TotalPeers, ns.UpCount, ns.ReachableCount, ns.DownCount, ns.PendingCount)
	fmt.Fprintf(w, "Tiers:\t%d diamond, %d gold, %d silver, %d bronze, %d standard\n",
		ns.DiamondCount, ns.GoldCount, ns.SilverCount, ns.BronzeCount, ns.StandardCount)
	fmt.Fprintf(w, "Avg uptime:\t%.1f%%\n", ns.AvgUptime)
	fmt.Fprintf(w, "Avg score:\t%.0f\n", ns.AvgScore)
	if ns.AvgLatencyMs != nil {
		fmt.Fprintf(w, "Avg latency:\t%.0fms\n", *ns.AvgLatencyMs)
	}
	if ns.DominantVersion != "" {
		fmt.Fprintf(w, "Dominant version:\t%s\n", ns.DominantVersion)
	}
	return w.Flush()
}
