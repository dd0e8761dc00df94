package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/srg/vecs/internal/packet"
	"github.com/srg/vecs/internal/session"
	"github.com/srg/vecs/internal/settings"
)

// setCmd represents the set command
var setCmd = &cobra.Command{
	Use:   "set <address>",
	Short: "Edit the persisted settings of a sensor",
	Long: `Edit the settings stored for the sensor with the given address. Only the
given flags are changed; a sensor without stored settings starts from the
defaults. Out of range values are clamped the same way a live session does.`,
	Example: `  vecs set AA:BB:CC:DD:EE:01 --role patient_hand --rate 50
  vecs set AA:BB:CC:DD:EE:01 --accel 8g --gyro 1000dps
  vecs set AA:BB:CC:DD:EE:01 --reset`,
	Args: cobra.ExactArgs(1),
	RunE: runSet,
}

var (
	setRole          string
	setAccel         string
	setGyro          string
	setRate          int
	setInterval      time.Duration
	setReconnections int
	setReset         bool
)

func init() {
	setCmd.Flags().StringVar(&setRole, "role", "", "Role (undefined, doctor, patient_hand, patient_back)")
	setCmd.Flags().StringVar(&setAccel, "accel", "", "Accelerometer range (2g, 4g, 8g, 16g)")
	setCmd.Flags().StringVar(&setGyro, "gyro", "", "Gyroscope range (250dps, 500dps, 1000dps, 2000dps)")
	setCmd.Flags().IntVar(&setRate, "rate", 0, fmt.Sprintf("Motion sample rate in Hz (%d-%d)", session.MinMPURate, session.MaxMPURate))
	setCmd.Flags().DurationVar(&setInterval, "interval", 0, "Battery poll interval (at least 1s)")
	setCmd.Flags().IntVar(&setReconnections, "reconnections", 0, "Automatic reconnect attempts after link loss")
	setCmd.Flags().BoolVar(&setReset, "reset", false, "Forget the stored settings of this sensor")
}

// applySetFlags applies every changed flag to st
func applySetFlags(cmd *cobra.Command, st session.Settings) (session.Settings, error) {
	flags := cmd.Flags()
	if flags.Changed("role") {
		r, err := session.ParseRole(setRole)
		if err != nil {
			return st, err
		}
		st.Role = r
	}
	if flags.Changed("accel") {
		r, err := packet.ParseAccelRange(setAccel)
		if err != nil {
			return st, err
		}
		st.AccelRange = r
	}
	if flags.Changed("gyro") {
		r, err := packet.ParseGyroRange(setGyro)
		if err != nil {
			return st, err
		}
		st.GyroRange = r
	}
	if flags.Changed("rate") {
		st.MPURate = setRate
	}
	if flags.Changed("interval") {
		st.Interval = setInterval
	}
	if flags.Changed("reconnections") {
		if setReconnections < 0 {
			return st, fmt.Errorf("--reconnections must not be negative, got %d", setReconnections)
		}
		st.MaxReconnections = setReconnections
	}
	return st, nil
}

func runSet(cmd *cobra.Command, args []string) error {
	address := strings.ToUpper(strings.TrimSpace(args[0]))
	if address == "" {
		return fmt.Errorf("address must not be empty")
	}

	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	store, err := settings.Open(cfg.SettingsPath, logger)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if setReset {
		cmd.SilenceUsage = true
		if !store.Delete(address) {
			printWarn(out, "No settings stored for %s", address)
			return nil
		}
		if err := store.Save(); err != nil {
			return err
		}
		printInfo(out, "Settings of %s removed", address)
		return nil
	}

	current, _ := store.Get(address)
	updated, err := applySetFlags(cmd, current)
	if err != nil {
		return err
	}

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	normalized := updated.Normalize()
	if normalized.MPURate != updated.MPURate {
		printWarn(out, "Motion rate %d Hz clamped to %d Hz", updated.MPURate, normalized.MPURate)
	}
	if normalized.Interval != updated.Interval {
		printWarn(out, "Battery interval %s raised to %s", updated.Interval, normalized.Interval)
	}

	store.Put(address, normalized)
	if err := store.Save(); err != nil {
		return err
	}

	logger.WithField("address", address).Info("Device settings updated")
	return displaySettingsTable(out, map[string]session.Settings{address: normalized}, []string{address})
}
