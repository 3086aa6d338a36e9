package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <component> <version>...",
		Short: "Remove inactive installed versions",
		Args:  cobra.MinimumNArgs(2),
		RunE:  runRemove,
	}
}

func runRemove(cmd *cobra.Command, args []string) error {
	a, err := loadApp(cmd)
	if err != nil {
		return err
	}
	component := args[0]
	for _, version := range args[1:] {
		if err := a.engine.Remove(component, version); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "removed %s %s\n", component, version)
	}
	return nil
}

func newUninstallCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "uninstall <component>...",
		Short: "Remove every version of a component and its active binaries",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runUninstall,
	}
}

func runUninstall(cmd *cobra.Command, args []string) error {
	a, err := loadApp(cmd)
	if err != nil {
		return err
	}
	for _, component := range args {
		n, err := a.engine.Uninstall(component)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "uninstalled %s (%d versions)\n", component, n)
	}
	return nil
}
