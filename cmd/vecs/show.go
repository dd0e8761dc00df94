package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/srg/vecs/internal/session"
	"github.com/srg/vecs/internal/settings"
)

// showCmd represents the show command
var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the device settings store",
	RunE:  runShow,
}

var showFormat string

func init() {
	showCmd.Flags().StringVarP(&showFormat, "format", "f", "table", "Output format (table, json)")
}

func runShow(cmd *cobra.Command, args []string) error {
	if showFormat != "table" && showFormat != "json" {
		return fmt.Errorf("invalid format '%s': must be one of [table json]", showFormat)
	}

	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	cmd.SilenceUsage = true

	store, err := settings.Open(cfg.SettingsPath, logger)
	if err != nil {
		return err
	}

	addresses := store.Addresses()
	devices := make(map[string]session.Settings, len(addresses))
	for _, a := range addresses {
		devices[a], _ = store.Get(a)
	}

	out := cmd.OutOrStdout()
	if showFormat == "json" {
		encoder := json.NewEncoder(out)
		encoder.SetIndent("", "  ")
		return encoder.Encode(devices)
	}

	if len(addresses) == 0 {
		printWarn(out, "No sensors stored in %s", store.Path())
		return nil
	}
	return displaySettingsTable(out, devices, addresses)
}

// displaySettingsTable prints the settings of addresses in the given order
func displaySettingsTable(out io.Writer, devices map[string]session.Settings, addresses []string) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ADDRESS\tROLE\tACCEL\tGYRO\tRATE\tBATTERY POLL\tRECONNECTIONS")
	fmt.Fprintln(w, strings.Repeat("-", 90))

	for _, a := range addresses {
		st := devices[a]
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d Hz\t%s\t%d\n",
			a, st.Role.Label(), st.AccelRange, st.GyroRange, st.MPURate, st.Interval, st.MaxReconnections)
	}
	return w.Flush()
}
