package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pixwatch/pixwatch/internal/daemon"
)

func init() {
	rootCmd.AddCommand(crawlCmd)
}

var crawlCmd = &cobra.Command{
	Use:   "crawl",
	Short: "Run a single crawl cycle and exit",
	Long: `Run one full sweep over every configured chain: discover, probe,
persist, score, prune, aggregate. Useful for cron-style deployments
and for inspecting a cycle without starting the daemon.`,
	RunE: runCrawl,
}

func runCrawl(cmd *cobra.Command, args []string) error {
	d, err := daemon.New()
	if err != nil {
		return err
	}
	defer d.Close()

	reports, err := d.Crawler.RunCycle(context.Background())
	if err != nil {
		return err
	}

	for _, r := range reports {
		if r.Degraded {
			fmt.Printf("%s: degraded cycle: no candidates (%s)\n", r.Chain, r.Duration.Round(displayPrecision))
			continue
		}
		fmt.Printf("%s: %d candidate(s), %d probed (%d up, %d reachable, %d down), %d skipped, %d pruned in %s\n",
			r.Chain, r.Candidates, r.Probed, r.Up, r.Reachable, r.Down, r.Skipped, r.Pruned,
			r.Duration.Round(displayPrecision))
	}
	return nil
}
