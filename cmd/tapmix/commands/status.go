package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/tapmix/tapmix/engine"
	"github.com/tapmix/tapmix/settings"
)

// withEngine bootstraps a short-lived engine over the demo system, runs fn,
// and tears everything down.
func withEngine(cmd *cobra.Command, fn func(ctx context.Context, eng *engine.Engine, store settings.Store) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	sim := demoSystem()
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	go sim.Run(ctx)

	eng := engine.New(sim, cfg, store, nil, nil)
	if err := eng.Start(ctx); err != nil {
		return err
	}
	defer eng.StopSync()

	// give restored taps a moment to come up
	time.Sleep(100 * time.Millisecond)
	return fn(ctx, eng, store)
}

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List output devices",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(cmd, func(ctx context.Context, eng *engine.Engine, _ settings.Store) error {
			devs, err := eng.Devices(ctx)
			if err != nil {
				return err
			}
			fmt.Println(headerStyle.Render(renderRow("UID", "NAME", "TRANSPORT", "DEFAULT")))
			for _, d := range devs {
				def := ""
				if d.Default {
					def = "*"
				}
				fmt.Println(renderRow(d.UID, d.Name, d.Transport, def))
			}
			return nil
		})
	},
}

var appsCmd = &cobra.Command{
	Use:   "apps",
	Short: "List audio-producing applications and their routing",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(cmd, func(ctx context.Context, eng *engine.Engine, store settings.Store) error {
			apps, err := eng.Apps(ctx)
			if err != nil {
				return err
			}
			fmt.Println(headerStyle.Render(renderRow("PID", "APP", "DEVICE", "VOL", "MUTED")))
			for _, a := range apps {
				fmt.Println(renderRow(
					fmt.Sprintf("%d", a.PID), a.Name, a.DeviceUID,
					fmt.Sprintf("%3.0f%%", a.Volume*100),
					fmt.Sprintf("%t", a.Muted)))
			}
			if len(apps) == 0 {
				fmt.Println(dimStyle.Render("no tapped applications; persisted records:"))
				return printRecords(ctx, store)
			}
			return nil
		})
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show engine status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(cmd, func(ctx context.Context, eng *engine.Engine, _ settings.Store) error {
			st, err := eng.Status(ctx)
			if err != nil {
				return err
			}
			fmt.Println(titleStyle.Render("tapmix"))
			fmt.Printf("  default device: %s\n", st.DefaultDeviceUID)
			fmt.Printf("  tapped apps:    %d\n", st.TappedApps)
			fmt.Printf("  permission:     %t\n", st.PermissionConfirmed)
			return nil
		})
	},
}

func printRecords(ctx context.Context, store settings.Store) error {
	records, err := store.All(ctx)
	if err != nil {
		return err
	}
	for key, rec := range records {
		fmt.Println(renderRow(key, routeLabel(rec), fmt.Sprintf("%3.0f%%", rec.Volume*100)))
	}
	return nil
}

func routeLabel(rec settings.Record) string {
	if rec.FollowsDefault {
		return "(default)"
	}
	return rec.DeviceUID
}
