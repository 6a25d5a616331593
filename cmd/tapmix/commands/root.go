// Package commands implements the tapmix command tree.
package commands

import (
	"fmt"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/tapmix/tapmix/config"
	"github.com/tapmix/tapmix/platform"
	"github.com/tapmix/tapmix/settings"
)

var (
	configPath string
	storePath  string
)

var rootCmd = &cobra.Command{
	Use:           "tapmix",
	Short:         "Per-application audio routing",
	Long:          "tapmix captures the audio of individual applications and routes it to the output device of your choice, with per-app volume, mute, and EQ.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the command tree.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "engine tuning config file (YAML)")
	rootCmd.PersistentFlags().StringVar(&storePath, "store", "", "settings database directory")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(devicesCmd)
	rootCmd.AddCommand(appsCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(routeCmd)
	rootCmd.AddCommand(volumeCmd)
	rootCmd.AddCommand(muteCmd)
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func openStore(cfg *config.Config) (settings.Store, error) {
	dir := storePath
	if dir == "" {
		dir = cfg.StorePath
	}
	if dir == "" {
		d, err := config.DefaultStorePath()
		if err != nil {
			return nil, fmt.Errorf("resolve store path: %w", err)
		}
		dir = d
	}
	store, err := settings.OpenBadger(dir, false)
	if err != nil {
		return nil, fmt.Errorf("open settings store: %w", err)
	}
	return store, nil
}

// demoSystem builds the simulated audio system the CLI drives. The engine
// consumes the platform boundary only; a process embedding tapmix supplies
// its own implementation.
func demoSystem() *platform.Simulator {
	sim := platform.NewSimulator(
		platform.WithTick(10*time.Millisecond),
		platform.WithDevices(
			platform.Device{UID: "builtin-speakers", Name: "Built-in Speakers", Transport: platform.TransportBuiltIn},
			platform.Device{UID: "usb-dac", Name: "USB DAC", Transport: platform.TransportUSB},
			platform.Device{UID: "bt-headphones", Name: "Bluetooth Headphones", Transport: platform.TransportBluetooth},
		),
		platform.WithApps(
			platform.App{PID: 501, Name: "Music", PersistKey: "com.example.music"},
			platform.App{PID: 502, Name: "Browser", PersistKey: "com.example.browser"},
			platform.App{PID: 503, Name: "Game", PersistKey: "com.example.game"},
		),
	)
	sim.SetAppLevel(501, 0.6)
	sim.SetAppLevel(502, 0.3)
	return sim
}

// styles, giztoy-flavored
var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#00ff9f"))
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#00ff9f"))
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#6e7681"))
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#f0883e"))
)

func renderRow(cols ...string) string {
	out := ""
	for i, c := range cols {
		if i > 0 {
			out += "  "
		}
		out += fmt.Sprintf("%-18s", c)
	}
	return out
}
