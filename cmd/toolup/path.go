package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ZebulonRouseFrantzich/toolup/internal/config"
	"github.com/ZebulonRouseFrantzich/toolup/internal/shell"
)

var (
	pathShell  string
	pathWrite  bool
	pathBackup bool
)

func newPathCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "path",
		Short: "Show or add the shell line that puts the bin directory on PATH",
		Args:  cobra.NoArgs,
		RunE:  runPath,
	}
	cmd.Flags().StringVar(&pathShell, "shell", "", "Shell to configure (bash, zsh, fish, powershell); detected when empty")
	cmd.Flags().BoolVar(&pathWrite, "write", false, "Append the line to the shell's rc file")
	cmd.Flags().BoolVar(&pathBackup, "backup", true, "Back up the rc file before writing")
	return cmd
}

func runPath(cmd *cobra.Command, _ []string) error {
	settings, err := loadSettings(cmd)
	if err != nil {
		return err
	}
	m, err := shell.NewManager(shell.Config{BinDir: settings.BinDir})
	if err != nil {
		return err
	}

	sh := shell.ShellType(pathShell)
	if pathShell == "" {
		detection, err := shell.DetectShell()
		if err != nil {
			return err
		}
		sh = detection.Shell
	}
	if err := shell.ValidateShell(sh); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if !pathWrite {
		hint, err := m.Hint(sh)
		if err != nil {
			return err
		}
		if !m.NeedsHint() {
			fmt.Fprintf(out, "%s is already on PATH\n", settings.BinDir)
		}
		fmt.Fprintf(out, "# add to %s\n%s\n", hint.RCFile, hint.Line)
		return nil
	}

	res, err := m.Setup(sh, shell.SetupOptions{Backup: pathBackup})
	if err != nil {
		return err
	}
	switch {
	case res.AlreadyPresent:
		fmt.Fprintf(out, "%s already adds %s to PATH\n", res.RCFile, settings.BinDir)
	case res.Added:
		fmt.Fprintf(out, "added to %s:\n  %s\nopen a new shell to pick it up\n", res.RCFile, res.Line)
		if res.BackupPath != "" {
			fmt.Fprintf(out, "backup: %s\n", res.BackupPath)
		}
	}
	return nil
}

// loadSettings resolves settings without building the engine.
func loadSettings(cmd *cobra.Command) (*config.Settings, error) {
	overrides := map[string]any{}
	if cmd.Flags().Changed("bin-dir") {
		overrides[config.KeyBinDir] = binDir
	}
	if cmd.Flags().Changed("root") {
		overrides[config.KeyRootDir] = rootDir
	}
	return config.Load(config.WithConfigFile(configFile), config.WithOverrides(overrides))
}

// printPathHint tells the user how to reach the active binaries when the
// bin directory is not on PATH. It never fails the command.
func printPathHint(cmd *cobra.Command, a *app) {
	if outputJSON {
		return
	}
	m, err := shell.NewManager(shell.Config{BinDir: a.engine.BinDir()})
	if err != nil || !m.NeedsHint() {
		return
	}
	errOut := cmd.ErrOrStderr()
	fmt.Fprintf(errOut, "\n%s is not on your PATH.\n", a.engine.BinDir())
	hint, err := m.DetectHint()
	if err != nil {
		a.logger.Debug("no PATH hint", "error", err)
		fmt.Fprintf(errOut, "Add it to PATH in your shell's startup file.\n")
		return
	}
	fmt.Fprintf(errOut, "Add this line to %s (or run: toolup path --write):\n  %s\n", hint.RCFile, hint.Line)
}
