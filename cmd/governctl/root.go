package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

const (
	exitValidation = 2
	exitDB         = 4
)

type cliError struct {
	code int
	err  error
}

func (e *cliError) Error() string { return e.err.Error() }

func (e *cliError) Unwrap() error { return e.err }

func withCode(code int, err error) error {
	if err == nil {
		return nil
	}
	return &cliError{code: code, err: err}
}

func exitCode(err error) int {
	var ce *cliError
	if errors.As(err, &ce) {
		return ce.code
	}
	return 1
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "governctl",
		Short:         "Change request governance tools",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().String("catalog", "", "Field catalog YAML (defaults to the built-in catalog)")

	cmd.AddCommand(newMigrateCmd())
	cmd.AddCommand(newCatalogCmd())
	cmd.AddCommand(newPreflightCmd())
	cmd.AddCommand(newSeedCmd())
	return cmd
}

func execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(exitCode(err))
	}
}
