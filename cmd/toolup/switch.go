package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func newSwitchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "switch <component> <version>",
		Short: "Make an installed version active",
		Long: `Make an installed version the one exposed in the bin directory.

The version may also be given as component==version.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: runSwitch,
	}
}

func runSwitch(cmd *cobra.Command, args []string) error {
	component, version, err := switchArgs(args)
	if err != nil {
		return err
	}
	a, err := loadApp(cmd)
	if err != nil {
		return err
	}
	ptr, err := a.engine.Switch(component, version)
	if err != nil {
		return err
	}
	if outputJSON {
		return writeJSON(cmd.OutOrStdout(), ptr)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s %s is active\n", ptr.Component, ptr.Version)
	printPathHint(cmd, a)
	return nil
}

func switchArgs(args []string) (string, string, error) {
	if len(args) == 2 {
		return args[0], args[1], nil
	}
	for _, sep := range []string{"==", "@"} {
		if name, version, ok := strings.Cut(args[0], sep); ok && name != "" && version != "" {
			return name, version, nil
		}
	}
	return "", "", fmt.Errorf("switch needs a version: toolup switch %s <version>", args[0])
}
