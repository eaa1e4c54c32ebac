package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/voltgrid/opsconsole/modules/governance/domain/catalog"
	"github.com/voltgrid/opsconsole/modules/governance/infrastructure/persistence"
	"github.com/voltgrid/opsconsole/pkg/composables"
)

func newSeedCmd() *cobra.Command {
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "seed <file>",
		Short: "Upsert entity documents from a seed YAML file into postgres",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := loadCatalog(cmd)
			if err != nil {
				return err
			}
			seed, err := persistence.LoadSeedFile(c, args[0])
			if err != nil {
				return withCode(exitValidation, err)
			}

			counts := map[string]int{}
			if dryRun {
				_ = seed.Each(func(et catalog.EntityType, _ string, _ map[string]any) error {
					counts[string(et)]++
					return nil
				})
				return writeJSON(cmd.OutOrStdout(), map[string]any{"dryRun": true, "entities": counts})
			}

			pool, err := connectDB(cmd.Context())
			if err != nil {
				return err
			}
			defer pool.Close()

			store := persistence.NewPgEntityStore(persistence.NewPatchApplier(c))
			err = composables.InTx(composables.WithPool(cmd.Context(), pool), func(ctx context.Context) error {
				return seed.Each(func(et catalog.EntityType, id string, doc map[string]any) error {
					counts[string(et)]++
					return store.Put(ctx, et, id, doc)
				})
			})
			if err != nil {
				return withCode(exitDB, err)
			}
			return writeJSON(cmd.OutOrStdout(), map[string]any{"dryRun": false, "entities": counts})
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Validate the file and report counts without writing")
	return cmd
}
