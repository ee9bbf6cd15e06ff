package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"profile-indexer/domain"
)

var flagSeedNoWait bool

var seedCmd = &cobra.Command{
	Use:   "seed <file.yaml>",
	Short: "Load profiles from a YAML file and index them",
	Long: `Load profiles from a YAML list and save them through the profile store.
Every save enqueues an index job. A profile may carry a legacy_embedding,
which is stored as the vector of the previous pipeline generation.

Example:
  - name: Alice
    seek_share: share
    resource_type: GPU cluster
    description: Large GPU cluster for training
    legacy_embedding: [0.1, 0.2, 0.3]`,
	Args: cobra.ExactArgs(1),
	RunE: runSeed,
}

func init() {
	seedCmd.Flags().BoolVar(&flagSeedNoWait, "no-wait", false, "Return without waiting for the index jobs")
	rootCmd.AddCommand(seedCmd)
}

type seedProfile struct {
	domain.Profile  `yaml:",inline"`
	LegacyEmbedding []float32 `yaml:"legacy_embedding"`
}

func loadSeed(path string) ([]seedProfile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var profiles []seedProfile
	if err := yaml.Unmarshal(data, &profiles); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return profiles, nil
}

func runSeed(cmd *cobra.Command, args []string) error {
	profiles, err := loadSeed(args[0])
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	printSection("Seed")
	var failed int
	for _, sp := range profiles {
		id, err := a.profiles.SaveProfile(ctx, sp.Profile)
		if err != nil {
			printErr(sp.Name, err.Error())
			failed++
			continue
		}
		if len(sp.LegacyEmbedding) > 0 {
			if err := a.profiles.SetLegacyEmbedding(ctx, id, sp.LegacyEmbedding); err != nil {
				printErr(sp.Name, err.Error())
				failed++
				continue
			}
		}
		printOK(sp.Name, fmt.Sprintf("saved as profile %d", id))
	}

	if !flagSeedNoWait {
		if err := a.pool.Drain(ctx); err != nil {
			return fmt.Errorf("wait for index jobs: %w", err)
		}
		printOK("", "index jobs finished")
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d profiles failed", failed, len(profiles))
	}
	return nil
}
