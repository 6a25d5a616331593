package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/tapmix/tapmix/crashguard"
	"github.com/tapmix/tapmix/engine"
)

var runTapAll bool

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the routing engine with a live status view",
	Long: `Run the routing engine until interrupted.

Persisted applications are tapped automatically; --tap-all taps every
running application. A status table refreshes once per second. Ctrl-C shuts
down cleanly; aggregates left behind by an earlier crash are swept at
startup.`,
	RunE: func(cmd *cobra.Command, args []string) error {
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

		// INT and TERM shut down gracefully below; the guard covers signals
		// that bypass the graceful path
		guard := crashguard.New(sim.DestroyAggregateID)
		go guard.HandleSignals(ctx, syscall.SIGHUP)

		eng := engine.New(sim, cfg, store, guard, nil)
		if err := eng.Start(ctx); err != nil {
			return err
		}
		defer eng.StopSync()

		if runTapAll {
			procs, err := sim.Processes()
			if err != nil {
				return err
			}
			for _, app := range procs {
				if err := eng.Tap(ctx, app.PID); err != nil {
					fmt.Fprintf(os.Stderr, "tap %s: %v\n", app.Name, err)
				}
			}
		}

		stop := make(chan os.Signal, 1)
		signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()

		for {
			select {
			case <-stop:
				fmt.Println(dimStyle.Render("shutting down"))
				return nil
			case <-ticker.C:
				printStatusFrame(ctx, eng)
			}
		}
	},
}

func init() {
	runCmd.Flags().BoolVar(&runTapAll, "tap-all", false, "tap every running application")
}

func printStatusFrame(ctx context.Context, eng *engine.Engine) {
	st, err := eng.Status(ctx)
	if err != nil {
		return
	}
	apps, err := eng.Apps(ctx)
	if err != nil {
		return
	}

	perm := "confirmed"
	if !st.PermissionConfirmed {
		perm = warnStyle.Render("unconfirmed")
	}
	fmt.Println(titleStyle.Render("tapmix"), dimStyle.Render(fmt.Sprintf(
		"default=%s taps=%d permission=%s", st.DefaultDeviceUID, st.TappedApps, perm)))
	if len(apps) == 0 {
		fmt.Println(dimStyle.Render("  no tapped applications"))
		return
	}
	fmt.Println(headerStyle.Render(renderRow("APP", "DEVICE", "VOL", "STATE")))
	for _, a := range apps {
		state := "playing"
		switch {
		case a.Switching:
			state = "switching"
		case a.Muted:
			state = "muted"
		case a.Paused:
			state = "paused"
		}
		vol := fmt.Sprintf("%3.0f%%", a.Volume*100)
		fmt.Println(renderRow(a.Name, a.DeviceUID, vol, state))
	}
}
