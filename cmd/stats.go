package cmd

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show how much of the profile table is indexed",
	Args:  cobra.NoArgs,
	RunE:  runStats,
}

func init() {
	rootCmd.AddCommand(statsCmd)
}

func runStats(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	stats, err := a.indexing.Stats(ctx)
	if err != nil {
		return err
	}
	if flagJSON {
		return printJSON(stats)
	}

	printSection("Index Coverage")
	line := fmt.Sprintf("%d of %d profiles indexed (%.2f%%)", stats.TotalIndexed, stats.TotalProfiles, stats.CoveragePercent)
	if stats.Health == "healthy" {
		printOK("", line)
	} else {
		printWarn("", line+", run 'profile-indexer reindex'")
	}
	if stats.ProfilesWithoutIndex > 0 {
		printInfo("", fmt.Sprintf("%d profiles without an index entry", stats.ProfilesWithoutIndex))
	}

	if len(stats.PerVersionCounts) > 0 {
		printSection("Encoder Versions")
		versions := make([]string, 0, len(stats.PerVersionCounts))
		for v := range stats.PerVersionCounts {
			versions = append(versions, v)
		}
		sort.Strings(versions)
		for _, v := range versions {
			printInfo(v, fmt.Sprintf("%d entries", stats.PerVersionCounts[v]))
		}
	}
	return nil
}
