package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newComponentsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "components",
		Short: "List the components toolup knows about",
		Args:  cobra.NoArgs,
		RunE:  runComponents,
	}
}

type componentView struct {
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Source      string   `json:"source"`
	Repository  string   `json:"repository"`
	Binaries    []string `json:"binaries"`
	Channels    []string `json:"channels,omitempty"`
}

func runComponents(cmd *cobra.Command, _ []string) error {
	a, err := loadApp(cmd)
	if err != nil {
		return err
	}
	var views []componentView
	for _, c := range a.engine.Components() {
		views = append(views, componentView{
			Name:        c.Name,
			Description: c.Description,
			Source:      c.Source.String(),
			Repository:  c.Repository,
			Binaries:    c.Binaries,
			Channels:    c.Channels,
		})
	}
	if outputJSON {
		return writeJSON(cmd.OutOrStdout(), views)
	}

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tCHANNELS\tREPOSITORY\tDESCRIPTION\t")
	for _, v := range views {
		channels := strings.Join(v.Channels, ",")
		if channels == "" {
			channels = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t\n", v.Name, channels, v.Repository, v.Description)
	}
	return tw.Flush()
}
