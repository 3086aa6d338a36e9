package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/ZebulonRouseFrantzich/toolup/internal/model"
)

var listAvailable bool

func newListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list [component]",
		Short: "List installed versions",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runList,
	}
	cmd.Flags().BoolVar(&listAvailable, "available", false, "List releases published for the component instead")
	return cmd
}

func runList(cmd *cobra.Command, args []string) error {
	a, err := loadApp(cmd)
	if err != nil {
		return err
	}
	if listAvailable {
		if len(args) != 1 {
			return fmt.Errorf("--available needs a component")
		}
		return listReleases(cmd, a, args[0])
	}

	component := ""
	if len(args) == 1 {
		component = args[0]
	}
	installed, err := a.engine.ListInstalled(component)
	if err != nil {
		return err
	}
	if outputJSON {
		if installed == nil {
			installed = []model.InstalledVersion{}
		}
		return writeJSON(cmd.OutOrStdout(), installed)
	}
	if len(installed) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "Nothing installed.")
		return nil
	}

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "COMPONENT\tVERSION\tPLATFORM\tINSTALLED\t")
	for _, iv := range installed {
		mark := ""
		if ok, err := isActive(a, iv); err == nil && ok {
			mark = "*"
		}
		fmt.Fprintf(tw, "%s\t%s%s\t%s\t%s\t\n", iv.Component, iv.Version, mark, iv.Platform, iv.InstalledAt.Local().Format("2006-01-02 15:04"))
	}
	return tw.Flush()
}

func isActive(a *app, iv model.InstalledVersion) (bool, error) {
	cur, err := a.engine.Current(iv.Component)
	if err != nil || cur == nil {
		return false, err
	}
	return cur.Version == iv.Version && cur.Platform == iv.Platform, nil
}

func listReleases(cmd *cobra.Command, a *app, component string) error {
	releases, err := a.engine.Available(cmd.Context(), component)
	if err != nil {
		return err
	}
	if outputJSON {
		return writeJSON(cmd.OutOrStdout(), releases)
	}
	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "VERSION\tCHANNEL\tPUBLISHED\tHOST ASSET\t")
	host := a.engine.Platform()
	for _, rel := range releases {
		asset := "-"
		if ref, ok := rel.Asset(host); ok {
			asset = ref.Name
		}
		version := rel.Version
		if rel.Prerelease {
			version += " (pre)"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t\n", version, rel.Channel, rel.PublishedAt.Format("2006-01-02"), asset)
	}
	return tw.Flush()
}
