package main

import (
	"context"
	"fmt"
	"os"

	"github.com/charmbracelet/fang"
	"github.com/jgivc/modsync/internal/app"
	"github.com/jgivc/modsync/internal/config"
	"github.com/spf13/cobra"
)

var (
	// Version is set via -ldflags.
	Version = "dev"

	cfgFile string
)

func main() {
	root := &cobra.Command{
		Use:          "modsync",
		Short:        "Synchronize, publish and copy module repositories",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&cfgFile, "config", "c", "config.yml", "Path to config file")

	root.AddCommand(
		newSyncCmd(),
		newPublishCmd(),
		newCopyCmd(),
		newServeCmd(),
		newHistoryCmd(),
		newTaskCmd(),
		newUnitsCmd(),
		newDownloadsCmd(),
		newVersionCmd(),
	)

	if err := fang.Execute(
		context.Background(),
		root,
		fang.WithVersion(Version),
		fang.WithNotifySignal(os.Interrupt),
	); err != nil {
		os.Exit(1)
	}
}

// withApp loads the config, builds the app and runs fn with it.
func withApp(fn func(a *app.App) error) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}

	a, err := app.New(cfg, app.NewLogger(os.Stderr, cfg))
	if err != nil {
		return fmt.Errorf("cannot start: %w", err)
	}
	defer a.Close()

	return fn(a)
}
