package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/voltgrid/opsconsole/modules/governance/domain/changerequest"
	"github.com/voltgrid/opsconsole/modules/governance/domain/patchdiff"
)

// parseChanges turns path=value arguments into changes. Only the first '='
// separates the path, so values may contain '='.
func parseChanges(raw []string) ([]changerequest.Change, error) {
	out := make([]changerequest.Change, 0, len(raw))
	for _, r := range raw {
		path, value, ok := strings.Cut(r, "=")
		if !ok || strings.TrimSpace(path) == "" {
			return nil, fmt.Errorf("invalid --change %q (expected path=value)", r)
		}
		out = append(out, changerequest.Change{Path: strings.TrimSpace(path), RawValue: value})
	}
	return out, nil
}

func readSnapshot(path string) (map[string]any, error) {
	if path == "" {
		return map[string]any{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var snapshot map[string]any
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return nil, fmt.Errorf("snapshot %s: %w", path, err)
	}
	return snapshot, nil
}

func newPreflightCmd() *cobra.Command {
	var (
		entityType   string
		snapshotPath string
		changes      []string
	)

	cmd := &cobra.Command{
		Use:   "preflight",
		Short: "Diff proposed changes against an entity snapshot without persisting anything",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := loadCatalog(cmd)
			if err != nil {
				return err
			}
			et, err := c.ParseEntityType(entityType)
			if err != nil {
				return withCode(exitValidation, err)
			}
			parsed, err := parseChanges(changes)
			if err != nil {
				return withCode(exitValidation, err)
			}
			snapshot, err := readSnapshot(snapshotPath)
			if err != nil {
				return withCode(exitValidation, err)
			}

			res, err := patchdiff.New(c).Diff(et, snapshot, parsed)
			if err != nil {
				var verr *changerequest.ValidationError
				if errors.As(err, &verr) {
					_ = writeJSON(cmd.OutOrStdout(), map[string]any{"fields": verr.Fields})
				}
				return withCode(exitValidation, err)
			}
			return writeJSON(cmd.OutOrStdout(), res)
		},
	}

	cmd.Flags().StringVar(&entityType, "entity-type", "", "Entity type (required)")
	cmd.Flags().StringVar(&snapshotPath, "snapshot", "", "JSON file holding the current entity document")
	cmd.Flags().StringArrayVar(&changes, "change", nil, "Proposed change as path=value (repeatable)")
	_ = cmd.MarkFlagRequired("entity-type")
	_ = cmd.MarkFlagRequired("change")
	return cmd
}
