package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/vecs/internal/device"
	goble "github.com/srg/vecs/internal/device/go-ble"
	"github.com/srg/vecs/internal/devicefactory"
	"github.com/srg/vecs/internal/loop"
	"github.com/srg/vecs/internal/session"
	"github.com/srg/vecs/internal/settings"
	"github.com/srg/vecs/pkg/config"
	"github.com/srg/vecs/scanner"
)

// scanCmd represents the scan command
var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan for VE Control Sensors",
	Long: `Scan for VE Control Sensors in the vicinity and display each one
together with the settings persisted for it (role, sensor ranges, motion rate).

Devices whose advertised name does not contain the product name are hidden
unless --all is given.`,
	RunE: runScan,
}

var (
	scanDuration  time.Duration
	scanFormat    string
	scanAllowList []string
	scanBlockList []string
	scanAll       bool
)

func init() {
	scanCmd.Flags().DurationVarP(&scanDuration, "duration", "d", 10*time.Second, "Scan duration")
	scanCmd.Flags().StringVarP(&scanFormat, "format", "f", "table", "Output format (table, json)")
	scanCmd.Flags().StringSliceVar(&scanAllowList, "allow", nil, "Only show devices with these addresses")
	scanCmd.Flags().StringSliceVar(&scanBlockList, "block", nil, "Hide devices with these addresses")
	scanCmd.Flags().BoolVar(&scanAll, "all", false, "Show every BLE device, not only sensors")
}

// scanResult is one row of scan output
type scanResult struct {
	device.Peer
	Stored   bool             `json:"stored"`
	Settings session.Settings `json:"settings"`
}

// openBackend creates the BLE backend for cfg
func openBackend(cfg *config.Config, logger *logrus.Logger) (devicefactory.Backend, error) {
	opts := goble.DefaultOptions()
	opts.ConnectTimeout = cfg.ConnectTimeout
	backend, err := devicefactory.DeviceFactory(opts, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create BLE backend: %w", err)
	}
	return backend, nil
}

// scanOptionsFor merges config file lists with command flags
func scanOptionsFor(cfg *config.Config, duration time.Duration, allow, block []string, all bool) *scanner.ScanOptions {
	opts := &scanner.ScanOptions{
		Duration:  duration,
		Product:   cfg.ProductName,
		AllowList: append(append([]string(nil), cfg.Allow...), allow...),
		BlockList: append(append([]string(nil), cfg.Block...), block...),
	}
	if all {
		opts.Product = ""
	}
	return opts
}

// signalContext is cancelled on Ctrl+C or SIGTERM
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

func runScan(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("format") {
		cfg.OutputFormat = scanFormat
	}
	if !cmd.Flags().Changed("duration") {
		scanDuration = cfg.ScanTimeout
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	store, err := settings.Open(cfg.SettingsPath, logger)
	if err != nil {
		return err
	}

	backend, err := openBackend(cfg, logger)
	if err != nil {
		return err
	}
	defer func() { _ = backend.Close() }()

	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	out := cmd.OutOrStdout()
	progress := startCountdown(out, "Scanning for sensors", scanDuration)
	s := scanner.NewScanner(backend, logger)

	// Table output lists sensors as they are found, JSON stays a single document
	streamed := make(chan struct{})
	if cfg.OutputFormat == "json" {
		close(streamed)
	} else {
		loop.Go(ctx, "scan-events", func(context.Context) {
			defer close(streamed)
			streamScanEvents(s.Events(), progress.Println)
		})
	}

	peers, err := s.Scan(ctx, scanOptionsFor(cfg, scanDuration, scanAllowList, scanBlockList, scanAll), nil)
	s.Close()
	<-streamed
	progress.Stop()
	if err != nil {
		logger.WithError(err).Error("scan failed")
		return err
	}

	results := make([]scanResult, 0, len(peers))
	for _, p := range peers {
		st, ok := store.Get(p.Address)
		results = append(results, scanResult{Peer: p, Stored: ok, Settings: st})
	}

	if cfg.OutputFormat == "json" {
		return displayResultsJSON(out, results)
	}
	return displayResultsTable(out, results)
}

// streamScanEvents prints one line per newly found device until events is closed
func streamScanEvents(events <-chan scanner.DeviceEvent, printLine func(string)) {
	for ev := range events {
		if ev.Type != scanner.EventNew {
			continue
		}
		printLine(formatFoundPeer(ev.Peer))
	}
}

func formatFoundPeer(p device.Peer) string {
	name := p.Name
	if name == "" {
		name = "(unnamed)"
	}
	return infoColor.Sprintf("[+] Found %s [%s] %d dBm", name, p.Address, p.RSSI)
}

func displayResultsTable(out io.Writer, results []scanResult) error {
	if len(results) == 0 {
		printWarn(out, "No sensors discovered")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tADDRESS\tRSSI\tROLE\tACCEL\tGYRO\tRATE\tBATTERY POLL")
	fmt.Fprintln(w, strings.Repeat("-", 90))

	for _, r := range results {
		name := r.Name
		if len(name) > 20 {
			name = name[:17] + "..."
		}
		role := r.Settings.Role.Label()
		if !r.Stored {
			role += " (new)"
		}
		fmt.Fprintf(w, "%s\t%s\t%d dBm\t%s\t%s\t%s\t%d Hz\t%s\n",
			name, r.Address, r.RSSI, role, r.Settings.AccelRange, r.Settings.GyroRange, r.Settings.MPURate, r.Settings.Interval)
	}

	return w.Flush()
}

func displayResultsJSON(out io.Writer, results []scanResult) error {
	encoder := json.NewEncoder(out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(results)
}
