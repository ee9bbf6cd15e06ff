package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	flagConfigPath string
	flagJSON       bool
)

var rootCmd = &cobra.Command{
	Use:          "profile-indexer",
	Short:        "Keep researcher profile embeddings fresh and search them",
	SilenceUsage: true, // don't print usage on operational errors
	Long: `profile-indexer maintains a dedicated vector index of researcher profiles.
Profile changes enqueue background jobs that re-embed only what changed, and
searches rank candidates by cosine similarity, falling back to legacy vectors
for profiles that are not indexed yet.`,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfigPath, "config", "", "Path to the YAML config (default $PROFILE_INDEXER_CONFIG)")
	rootCmd.PersistentFlags().BoolVar(&flagJSON, "json", false, "Print machine-readable JSON")
}

// Execute is called by main.go.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
