package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newSelfCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "self",
		Short: "Manage the toolup executable itself",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "update [toolup==VERSION]",
		Short: "Replace this executable with a newer release",
		Long: `Replace the running toolup executable with the newest release, or with
the release a specifier names. An exact specifier may select an older
version.`,
		Args: cobra.MaximumNArgs(1),
		RunE: runSelfUpdate,
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "check",
		Short: "Report whether a newer release exists",
		Args:  cobra.NoArgs,
		RunE:  runSelfCheck,
	})
	return cmd
}

func runSelfUpdate(cmd *cobra.Command, args []string) error {
	a, err := loadApp(cmd)
	if err != nil {
		return err
	}
	spec := ""
	if len(args) == 1 {
		spec = args[0]
	}
	res, err := a.engine.SelfUpdate(cmd.Context(), spec)
	if err != nil {
		return err
	}
	if outputJSON {
		return writeJSON(cmd.OutOrStdout(), res)
	}
	if res.UpToDate {
		fmt.Fprintf(cmd.OutOrStdout(), "toolup %s is up to date\n", res.Previous)
		return nil
	}
	fmt.Fprintf(cmd.OutOrStdout(), "updated toolup %s -> %s\n", res.Previous, res.Target.Version)
	return nil
}

func runSelfCheck(cmd *cobra.Command, _ []string) error {
	a, err := loadApp(cmd)
	if err != nil {
		return err
	}
	newer, err := a.engine.CheckForUpdate(cmd.Context())
	if err != nil {
		return err
	}
	if newer == "" {
		fmt.Fprintf(cmd.OutOrStdout(), "toolup %s is up to date\n", Version)
		return nil
	}
	fmt.Fprintf(cmd.OutOrStdout(), "toolup %s is available (running %s); run: toolup self update\n", newer, Version)
	return nil
}
