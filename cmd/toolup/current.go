package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ZebulonRouseFrantzich/toolup/internal/model"
)

func newCurrentCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "current [component]",
		Short: "Show active versions",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runCurrent,
	}
}

func runCurrent(cmd *cobra.Command, args []string) error {
	a, err := loadApp(cmd)
	if err != nil {
		return err
	}

	var names []string
	if len(args) == 1 {
		names = args
	} else {
		for _, c := range a.engine.Components() {
			names = append(names, c.Name)
		}
	}

	active := []*model.ActivePointer{}
	for _, name := range names {
		cur, err := a.engine.Current(name)
		if err != nil {
			return err
		}
		if cur != nil {
			active = append(active, cur)
		} else if len(args) == 1 && !outputJSON {
			fmt.Fprintf(cmd.OutOrStdout(), "%s: no active version\n", name)
		}
	}

	if outputJSON {
		return writeJSON(cmd.OutOrStdout(), active)
	}
	for _, cur := range active {
		fmt.Fprintf(cmd.OutOrStdout(), "%s %s (%s)\n", cur.Component, cur.Version, cur.Platform)
	}
	return nil
}
