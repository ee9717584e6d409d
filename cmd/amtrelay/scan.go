package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/amtrelay/internal/advdata"
	"github.com/srg/amtrelay/internal/event"
	"github.com/srg/amtrelay/internal/stack/goble"
)

// scanCmd represents the scan command
var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "List nearby throughput peers",
	Long: `Scan for advertising devices and show which ones a relay would pick up.

A device is marked as TARGET when its advertised name matches the configured
target name, the same rule the relay applies before connecting. SERVICE marks
devices that advertise the throughput service.`,
	Args: cobra.NoArgs,
	RunE: runScan,
}

var (
	scanDuration time.Duration
	scanFormat   string
	scanAll      bool
)

func init() {
	scanCmd.Flags().DurationVarP(&scanDuration, "duration", "d", 5*time.Second, "Scan duration")
	scanCmd.Flags().StringVarP(&scanFormat, "format", "f", "table", "Output format (table, json)")
	scanCmd.Flags().BoolVarP(&scanAll, "all", "a", false, "Show every advertiser, not only throughput peers")
}

// peerEntry is one advertiser seen during a scan.
type peerEntry struct {
	Name     string    `json:"name"`
	Address  string    `json:"address"`
	RSSI     int       `json:"rssi"`
	Target   bool      `json:"target"`
	Service  bool      `json:"service"`
	LastSeen time.Time `json:"last_seen"`
}

func newPeerEntry(r event.AdvReport, target string) peerEntry {
	uuid, _ := advdata.Find(r.Data, advdata.TypeCompleteUUID128)
	return peerEntry{
		Name:     advdata.Name(r.Data),
		Address:  r.Addr,
		RSSI:     r.RSSI,
		Target:   advdata.MatchName(r.Data, target),
		Service:  bytes.Equal(uuid, goble.ServiceUUID),
		LastSeen: time.Now(),
	}
}

func runScan(cmd *cobra.Command, _ []string) error {
	if scanFormat != "table" && scanFormat != "json" {
		return fmt.Errorf("invalid format '%s': must be one of [table json]", scanFormat)
	}
	if scanDuration <= 0 {
		return fmt.Errorf("invalid duration %s: must be > 0", scanDuration)
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
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
	ctx, cancel := context.WithTimeout(ctx, scanDuration)
	defer cancel()

	dev, err := goble.NewDevice()
	if err != nil {
		return fmt.Errorf("failed to open BLE device: %w", err)
	}

	peers, err := scanPeers(ctx, dev, cfg.TargetName, logger)
	if err != nil {
		return err
	}
	return printPeers(cmd.OutOrStdout(), peers, scanFormat, scanAll)
}

// scanPeers collects advertisers until ctx ends. The latest report per
// address wins.
func scanPeers(ctx context.Context, dev ble.Device, target string, logger *logrus.Logger) (map[string]peerEntry, error) {
	reports := make(chan event.AdvReport, 64)
	adapter, err := goble.New(goble.Options{
		Device: dev,
		Sink: func(ev event.Event) {
			r, ok := ev.(event.AdvReport)
			if !ok {
				return
			}
			select {
			case reports <- r:
			case <-ctx.Done():
			}
		},
		Logger: logger,
	})
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := adapter.Close(); err != nil {
			logger.WithError(err).Debug("Adapter close")
		}
	}()

	if err := adapter.StartScan(); err != nil {
		return nil, fmt.Errorf("failed to start scan: %w", err)
	}

	peers := make(map[string]peerEntry)
	for {
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.Canceled) && len(peers) == 0 {
				return nil, ctx.Err()
			}
			return peers, nil
		case r := <-reports:
			peers[r.Addr] = newPeerEntry(r, target)
		}
	}
}

func printPeers(w io.Writer, peers map[string]peerEntry, format string, all bool) error {
	list := make([]peerEntry, 0, len(peers))
	for _, p := range peers {
		if all || p.Target || p.Service {
			list = append(list, p)
		}
	}
	// Strongest signal first
	sort.Slice(list, func(i, j int) bool {
		if list[i].RSSI != list[j].RSSI {
			return list[i].RSSI > list[j].RSSI
		}
		return list[i].Address < list[j].Address
	})

	if format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(list)
	}

	if len(list) == 0 {
		fmt.Fprintln(w, "No throughput peers discovered")
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tADDRESS\tRSSI\tTARGET\tSERVICE")
	for _, p := range list {
		name := p.Name
		if len(name) > 20 {
			name = name[:17] + "..."
		}
		fmt.Fprintf(tw, "%s\t%s\t%d dBm\t%s\t%s\n", name, p.Address, p.RSSI, yesNo(p.Target), yesNo(p.Service))
	}
	return tw.Flush()
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "-"
}
