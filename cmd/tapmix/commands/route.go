package commands

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/tapmix/tapmix/settings"
)

// The route, volume, and mute commands edit the persisted record directly;
// a running engine picks the values up the next time it routes the app.

var routeCmd = &cobra.Command{
	Use:   "route <app-key> <device-uid|default>",
	Short: "Persist a device route for an application",
	Long: `Persist a device route for an application.

The app key is the application's stable bundle identifier. Passing
"default" makes the app follow the system default output again.

Examples:
  tapmix route com.example.music usb-dac
  tapmix route com.example.music default`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return editRecord(cmd.Context(), args[0], func(rec *settings.Record) error {
			if args[1] == "default" {
				rec.FollowsDefault = true
				return nil
			}
			rec.DeviceUID = args[1]
			rec.FollowsDefault = false
			return nil
		})
	},
}

var volumeCmd = &cobra.Command{
	Use:   "volume <app-key> <0..100>",
	Short: "Persist a volume for an application",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		pct, err := strconv.ParseFloat(args[1], 64)
		if err != nil || pct < 0 || pct > 100 {
			return fmt.Errorf("volume must be 0..100, got %q", args[1])
		}
		return editRecord(cmd.Context(), args[0], func(rec *settings.Record) error {
			rec.Volume = float32(pct / 100)
			return nil
		})
	},
}

var muteCmd = &cobra.Command{
	Use:   "mute <app-key> <on|off>",
	Short: "Persist the mute flag for an application",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		var muted bool
		switch args[1] {
		case "on":
			muted = true
		case "off":
			muted = false
		default:
			return fmt.Errorf("expected on or off, got %q", args[1])
		}
		return editRecord(cmd.Context(), args[0], func(rec *settings.Record) error {
			rec.Muted = muted
			return nil
		})
	},
}

func editRecord(ctx context.Context, appKey string, edit func(*settings.Record) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	rec, err := store.Get(ctx, appKey)
	if errors.Is(err, settings.ErrNotFound) {
		rec = settings.DefaultRecord()
	} else if err != nil {
		return err
	}
	if err := edit(&rec); err != nil {
		return err
	}
	if err := store.Set(ctx, appKey, rec); err != nil {
		return fmt.Errorf("persist record: %w", err)
	}
	fmt.Println(renderRow(appKey, routeLabel(rec),
		fmt.Sprintf("%3.0f%%", rec.Volume*100),
		fmt.Sprintf("muted=%t", rec.Muted)))
	return nil
}
