package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/amtrelay/internal/console"
	"github.com/srg/amtrelay/internal/dispatch"
	"github.com/srg/amtrelay/internal/event"
	"github.com/srg/amtrelay/internal/groutine"
	"github.com/srg/amtrelay/internal/queue"
	"github.com/srg/amtrelay/internal/stack/goble"
	"github.com/srg/amtrelay/pkg/config"
)

// runCmd represents the run command
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the throughput relay",
	Long: `Open the Bluetooth adapter and run the relay until interrupted.

A relay starts advertising and scanning immediately. Masters and slaves wait
for the "run" console command. Type "help" at the console prompt for the
list of commands.`,
	Example: `  # Relay between a Nordic_ATT_MTU sender and any collector
  amtrelay run

  # Stream as slave with a 2M PHY only, debug logging
  amtrelay run --role slave --log-level debug

  # Headless relay with a config file
  amtrelay run -c relay.yaml --no-console`,
	Args: cobra.NoArgs,
	RunE: runRelay,
}

var (
	runRole      string
	runTarget    string
	runName      string
	runNoConsole bool
)

func init() {
	runCmd.Flags().StringVarP(&runRole, "role", "r", "", "Board role (master, slave, relay); overrides the config file")
	runCmd.Flags().StringVarP(&runTarget, "target", "t", "", "Advertised name of the upstream sender")
	runCmd.Flags().StringVarP(&runName, "name", "n", "", "Name advertised to the downstream collector")
	runCmd.Flags().BoolVar(&runNoConsole, "no-console", false, "Do not read console commands from stdin")
}

func runRelay(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := applyRunFlags(cmd, cfg); err != nil {
		return err
	}

	logger, err := configureLogger(cmd, cfg)
	if err != nil {
		return err
	}

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dev, err := goble.NewDevice()
	if err != nil {
		return fmt.Errorf("failed to open BLE device: %w", err)
	}

	var in io.Reader
	if !runNoConsole {
		in = cmd.InOrStdin()
	}
	return serve(ctx, cfg, dev, in, cmd.OutOrStdout(), logger)
}

func applyRunFlags(cmd *cobra.Command, cfg *config.Config) error {
	if cmd.Flags().Changed("role") {
		role, err := config.ParseBoardRole(runRole)
		if err != nil {
			return err
		}
		cfg.Role = role
	}
	if cmd.Flags().Changed("target") {
		cfg.TargetName = runTarget
	}
	if cmd.Flags().Changed("name") {
		cfg.DeviceName = runName
	}
	return cfg.Validate()
}

// serve wires the dispatcher, the go-ble adapter and the console around dev
// and runs until ctx ends or the dispatcher hits a fatal error. A nil in
// disables the console.
func serve(ctx context.Context, cfg *config.Config, dev ble.Device, in io.Reader, out io.Writer, logger *logrus.Logger) error {
	store := config.NewStore(cfg)
	q := queue.New[event.Event](dispatch.DefaultQueueSize)

	var d *dispatch.Dispatcher
	adapter, err := goble.New(goble.Options{
		Device:      dev,
		Name:        cfg.DeviceName,
		Sink:        func(ev event.Event) { d.Emit(ev) },
		Params:      store.Snapshot,
		NotifyQueue: cfg.NotifyQueue,
		Logger:      logger,
	})
	if err != nil {
		return err
	}

	d, err = dispatch.New(dispatch.Options{
		Stack:  adapter,
		Config: cfg,
		Store:  store,
		Queue:  q,
		Logger: logger,
	})
	if err != nil {
		_ = adapter.Close()
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if in != nil {
		con := console.New(console.Options{Store: store, Queue: q, Out: out, Logger: logger})
		groutine.Go(ctx, "console", func(ctx context.Context) {
			err := con.Serve(ctx, in)
			if err != nil && !errors.Is(err, context.Canceled) {
				logger.WithError(err).Warn("Console stopped")
				return
			}
			logger.Debug("Console input closed")
		})
	}

	logger.WithFields(logrus.Fields{
		"role":   store.Role(),
		"name":   cfg.DeviceName,
		"target": cfg.TargetName,
	}).Info("Relay started")

	runErr := d.Run(ctx)
	cancel()

	if err := adapter.Close(); err != nil {
		logger.WithError(err).Debug("Adapter close")
	}
	return runErr
}
