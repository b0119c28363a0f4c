package cli

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/pixwatch/pixwatch/internal/daemon"
	"github.com/pixwatch/pixwatch/internal/domain"
	"github.com/pixwatch/pixwatch/internal/infra/sqlite"
)

func init() {
	peersCmd.Flags().StringVar(&peersChain, "chain", "", "Chain to list (defaults to the first configured chain)")
	peersCmd.Flags().BoolVar(&peersUpOnly, "up", false, "Show only peers currently up")
	rootCmd.AddCommand(peersCmd)
}

var (
	peersChain  string
	peersUpOnly bool
)

var peersCmd = &cobra.Command{
	Use:   "peers",
	Short: "List peers in the registry",
	RunE:  runPeers,
}

func runPeers(cmd *cobra.Command, args []string) error {
	cfg, err := daemon.LoadConfig()
	if err != nil {
		return err
	}

	chain := peersChain
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

	peers, err := db.ListPeers(chain)
	if err != nil {
		return err
	}

	shown := 0
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "RANK\tADDRESS\tSTATUS\tTIER\tSCORE\tUPTIME\tLATENCY\tAGENT")
	for _, p := range peers {
		if peersUpOnly && p.Status != domain.StatusUp {
			continue
		}
		shown++
		rank := "-"
		if p.Rank != nil {
			rank = fmt.Sprintf("%d", *p.Rank)
		}
		latency := "-"
		if p.LatencyAvg != nil {
			latency = fmt.Sprintf("%.0fms", *p.LatencyAvg)
		}
		agent := "-"
		if p.Announced != nil && p.Announced.UserAgent != "" {
			agent = p.Announced.UserAgent
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%.0f\t%.1f%%\t%s\t%s\n",
			rank, p.Address(), p.Status, p.Tier, p.PixScore, p.Uptime, latency, agent)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	if shown == 0 {
		fmt.Println("No peers in the registry yet. Run `pixwatch crawl` first.")
	}
	return nil
}
