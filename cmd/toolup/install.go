package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/ZebulonRouseFrantzich/toolup/internal/model"
	"github.com/ZebulonRouseFrantzich/toolup/internal/service"
)

var (
	installPlatform string
	installSwitch   bool
	installDebug    bool
)

func newInstallCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "install <component[=V|==V|@TAG]>...",
		Short: "Install component versions",
		Long: `Install one or more components.

  sui                 latest release of the default channel
  sui=1.39            newest release compatible with 1.39
  sui==1.39.3         exactly that version
  sui@devnet          newest release of the devnet channel
  sui@v1.60.0         that version of the default channel
  sui@testnet-1.39.3  that version of the testnet channel

The first version installed for the host platform becomes active.
With --debug, components that publish debug builds (sui-debug) get them
installed and exposed next to the regular binaries.`,
		Args: cobra.MinimumNArgs(1),
		RunE: runInstall,
	}
	cmd.Flags().StringVar(&installPlatform, "platform", "", "Install for another platform (os-arch)")
	cmd.Flags().BoolVar(&installSwitch, "switch", false, "Make the installed version active")
	cmd.Flags().BoolVar(&installDebug, "debug", false, "Also install the component's debug binaries")
	return cmd
}

func runInstall(cmd *cobra.Command, args []string) error {
	p, err := parsePlatformFlag(installPlatform)
	if err != nil {
		return err
	}
	a, err := loadApp(cmd)
	if err != nil {
		return err
	}

	reqs := make([]service.InstallRequest, len(args))
	for i, spec := range args {
		reqs[i] = service.InstallRequest{Specifier: spec, Platform: p, Switch: installSwitch, Debug: installDebug}
	}

	out := cmd.OutOrStdout()
	var installed []*model.InstalledVersion
	if len(reqs) == 1 {
		iv, err := a.engine.Install(cmd.Context(), reqs[0])
		if err != nil {
			return err
		}
		installed = []*model.InstalledVersion{iv}
	} else if installed, err = a.engine.InstallAll(cmd.Context(), reqs); err != nil {
		return err
	}

	if outputJSON {
		return writeJSON(out, installed)
	}
	for _, iv := range installed {
		fmt.Fprintf(out, "installed %s %s (%s)\n", iv.Component, iv.Version, iv.Platform)
		if err := printActive(out, a, iv.Component, iv.Version); err != nil {
			return err
		}
	}
	printPathHint(cmd, a)
	return nil
}

// printActive notes when version is the active version of component.
func printActive(out io.Writer, a *app, component, version string) error {
	cur, err := a.engine.Current(component)
	if err != nil {
		return err
	}
	if cur != nil && cur.Version == version {
		fmt.Fprintf(out, "%s %s is active\n", component, version)
	}
	return nil
}
