package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/voltgrid/opsconsole/modules/governance/domain/catalog"
)

func newCatalogCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Inspect and validate field catalogs",
	}
	cmd.AddCommand(newCatalogListCmd())
	cmd.AddCommand(newCatalogValidateCmd())
	return cmd
}

func newCatalogListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list [entityType]",
		Short: "List entity types, or the fields of one entity type",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := loadCatalog(cmd)
			if err != nil {
				return err
			}
			if len(args) == 0 {
				return writeJSON(cmd.OutOrStdout(), map[string]any{"entityTypes": c.EntityTypes()})
			}
			et, err := c.ParseEntityType(args[0])
			if err != nil {
				return withCode(exitValidation, err)
			}
			spec, err := c.Entity(et)
			if err != nil {
				return withCode(exitValidation, err)
			}
			return writeJSON(cmd.OutOrStdout(), spec)
		},
	}
}

type catalogSummary struct {
	File     string         `json:"file"`
	Entities map[string]int `json:"entities"`
}

func newCatalogValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <file>",
		Short: "Parse a catalog file and report its field counts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := catalog.LoadFile(args[0])
			if err != nil {
				return withCode(exitValidation, fmt.Errorf("invalid catalog %s: %w", args[0], err))
			}
			out := catalogSummary{File: args[0], Entities: map[string]int{}}
			for _, et := range c.EntityTypes() {
				spec, err := c.Entity(et)
				if err != nil {
					return err
				}
				out.Entities[string(et)] = len(spec.Fields)
			}
			return writeJSON(cmd.OutOrStdout(), out)
		},
	}
}
