package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/vecs/internal/device"
	"github.com/srg/vecs/internal/devicefactory"
	"github.com/srg/vecs/internal/loop"
	"github.com/srg/vecs/internal/orchestrator"
	"github.com/srg/vecs/internal/ringchan"
	"github.com/srg/vecs/internal/session"
	"github.com/srg/vecs/internal/settings"
	"github.com/srg/vecs/scanner"
)

// runCmd represents the run command
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Connect to sensors and act on their roles",
	Long: `Scan for VE Control Sensors, then connect to every sensor according to
its persisted role:

  doctor        connected, motion streaming off
  patient_hand  connected, motion streaming on
  patient_back  connected, motion streaming on
  undefined     left disconnected

State changes, battery level and button presses are printed as they happen
until Ctrl+C. Settings of every seen sensor are saved on exit.`,
	Example: `  vecs run
  vecs run --motion --scan 5s
  vecs run --watch
  vecs run --key-request 2`,
	RunE: runRun,
}

var (
	runScanDuration time.Duration
	runFor          time.Duration
	runWatch        bool
	runMotion       bool
	runKeyRequest   uint8
	runAllowList    []string
	runBlockList    []string
)

const (
	loopQueueSize       = 256
	outputQueueSize     = 256
	watchRefresh        = 500 * time.Millisecond
	teardownGracePeriod = 5 * time.Second
)

func init() {
	runCmd.Flags().DurationVar(&runScanDuration, "scan", 10*time.Second, "How long to scan before applying roles")
	runCmd.Flags().DurationVar(&runFor, "for", 0, "Stop after this long (0 runs until Ctrl+C)")
	runCmd.Flags().BoolVarP(&runWatch, "watch", "w", false, "Repaint a sensor table instead of printing events (terminals only)")
	runCmd.Flags().BoolVarP(&runMotion, "motion", "m", false, "Print every motion sample")
	runCmd.Flags().Uint8Var(&runKeyRequest, "key-request", 0, "Ask each connected sensor to report a key press after this delay (0 disables)")
	runCmd.Flags().StringSliceVar(&runAllowList, "allow", nil, "Only admit sensors with these addresses")
	runCmd.Flags().StringSliceVar(&runBlockList, "block", nil, "Never admit sensors with these addresses")
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if !cmd.Flags().Changed("scan") {
		runScanDuration = cfg.ScanTimeout
	}
	if runScanDuration <= 0 {
		return fmt.Errorf("--scan must be positive, got %s", runScanDuration)
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
	if runFor > 0 {
		ctx, cancel = context.WithTimeout(ctx, runFor)
		defer cancel()
	}

	out := cmd.OutOrStdout()
	return runSessions(ctx, sessionRun{
		backend:  backend,
		store:    store,
		config:   orchestrator.Config{Product: cfg.ProductName},
		scan:     scanOptionsFor(cfg, runScanDuration, runAllowList, runBlockList, false),
		out:      out,
		watch:    runWatch && isTerminal(out),
		motion:   runMotion,
		keyDelay: runKeyRequest,
		logger:   logger,
	})
}

type sessionRun struct {
	backend  devicefactory.Backend
	store    orchestrator.SettingsStore
	config   orchestrator.Config
	scan     *scanner.ScanOptions
	out      io.Writer
	watch    bool
	motion   bool
	keyDelay uint8
	logger   *logrus.Logger
}

// runSessions drives the orchestrator until ctx is done, then tears every
// session down and saves the settings store.
func runSessions(ctx context.Context, r sessionRun) error {
	// The loop outlives ctx so that teardown can still run on it
	loopCtx, stopLoop := context.WithCancel(context.Background())
	defer stopLoop()

	lp := loop.New(loopQueueSize, r.logger)
	lp.Start(loopCtx)

	orch := orchestrator.New(r.config, r.backend.Transports(loopCtx, lp, r.logger), lp, r.store, r.logger)

	lines := ringchan.New[string](outputQueueSize)
	printed := make(chan struct{})
	loop.Go(loopCtx, "output", func(context.Context) {
		defer close(printed)
		for line := range lines.C() {
			fmt.Fprintln(r.out, line)
		}
	})

	err := lp.Call(context.Background(), func() {
		orch.Observe(func(ev orchestrator.Event) {
			if r.watch {
				return
			}
			if line, ok := renderEvent(orch, ev, r.motion); ok {
				if lines.Send(line) {
					r.logger.Debug("Output falling behind, dropped oldest line")
				}
			}
		})
		if r.keyDelay > 0 {
			orch.Observe(keyRequester(r.keyDelay, r.logger))
		}
		orch.ScanStarted()
	})
	if err != nil {
		lines.Close()
		return err
	}

	if r.watch {
		loop.Go(ctx, "watch", func(ctx context.Context) { watchSessions(ctx, lp, orch, r.out) })
	}

	sc := scanner.NewScanner(r.backend, r.logger)
	_, scanErr := sc.Scan(ctx, r.scan, func(p device.Peer) {
		lp.Post(func() { orch.Admit(p) })
	})

	// Admissions posted by the scan are queued ahead of this call
	admitted := 0
	_ = lp.Call(context.Background(), func() {
		admitted = orch.Len()
		if scanErr != nil {
			orch.ScanFailed(scanErr)
			return
		}
		orch.ScanFinished()
		if ctx.Err() != nil {
			r.logger.Info("Interrupted during scan, roles not applied")
			return
		}
		orch.ApplyRolePolicy()
	})

	if scanErr == nil && admitted > 0 {
		<-ctx.Done()
	}

	// Teardown
	var saveErr error
	tctx, cancel := context.WithTimeout(context.Background(), teardownGracePeriod)
	defer cancel()
	if err := lp.Call(tctx, func() {
		if admitted == 0 && scanErr == nil {
			saveErr = ErrNoSensors
		}
		orch.ResetAll()
		if err := orch.SaveSettings(); err != nil {
			saveErr = err
		}
	}); err != nil {
		r.logger.WithError(err).Warn("Teardown did not complete")
	}

	stopLoop()
	<-lp.Done()
	lines.Close()
	<-printed

	if scanErr != nil {
		return scanErr
	}
	return saveErr
}

// keyRequester asks a sensor for a key report each time its key service
// becomes ready.
func keyRequester(delay uint8, logger *logrus.Logger) orchestrator.Listener {
	return func(ev orchestrator.Event) {
		if ev.Kind != orchestrator.SessionChanged {
			return
		}
		se := ev.SessionEvent
		if se.Kind != session.ServiceReady || !se.Service.Equal(device.KeyServiceUUID) {
			return
		}
		fields := logrus.Fields{"address": se.Session.Address(), "delay": delay}
		if !se.Session.RequestKey(delay) {
			logger.WithFields(fields).Warn("Key request not sent")
			return
		}
		logger.WithFields(fields).Info("Key request sent")
	}
}

// watchSessions repaints the session table until ctx is done
func watchSessions(ctx context.Context, lp *loop.Loop, orch *orchestrator.Orchestrator, out io.Writer) {
	ticker := time.NewTicker(watchRefresh)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			var rows []sessionRow
			var message string
			if err := lp.Call(ctx, func() {
				rows = snapshotSessions(orch)
				message = orch.Message()
			}); err != nil {
				return
			}
			clearScreen(out)
			_ = displaySessionTable(out, rows, message, terminalWidth(out))
		}
	}
}
