package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/srg/vecs/internal/device"
	"github.com/srg/vecs/internal/orchestrator"
	"github.com/srg/vecs/internal/session"
)

// renderEvent formats an orchestrator event as one output line. It must run
// on the event loop since it reads session state. Motion samples are only
// rendered when motion is set.
func renderEvent(o *orchestrator.Orchestrator, ev orchestrator.Event, motion bool) (string, bool) {
	switch ev.Kind {
	case orchestrator.MessageChanged:
		if o.Message() == "" {
			return "", false
		}
		return infoColor.Sprint("[*] " + o.Message()), true
	case orchestrator.SessionChanged:
		return renderSessionEvent(ev.SessionEvent, motion)
	default:
		return "", false
	}
}

func renderSessionEvent(ev session.Event, motion bool) (string, bool) {
	s := ev.Session
	prefix := dimColor.Sprintf("[%s]", s.Address())

	var body string
	switch ev.Kind {
	case session.StateChanged:
		state := s.State().String()
		switch s.State() {
		case session.Connected:
			state = okColor.Sprint(state)
		case session.Disconnected:
			state = warnColor.Sprint(state)
		}
		body = "state " + state
	case session.BatteryChanged:
		body = fmt.Sprintf("battery %d%%", ev.Battery)
	case session.ButtonPressed:
		body = fmt.Sprintf("button %s (single=%d double=%d long=%d)",
			ev.Click, s.SingleClickCount(), s.DoubleClickCount(), s.LongClickCount())
	case session.MotionUpdated:
		if !motion {
			return "", false
		}
		body = formatMotion(s, ev)
	case session.StreamingChanged:
		body = "streaming off"
		if s.Streaming() {
			body = okColor.Sprint("streaming on")
		}
	case session.StatusChanged:
		if s.Status() == "" {
			return "", false
		}
		body = errorColor.Sprint(s.Status())
	case session.RoleChanged:
		body = "role " + s.Role().Label()
	case session.MPURateChanged:
		body = fmt.Sprintf("motion rate %d Hz", s.MPURate())
	case session.AccelRangeChanged:
		body = fmt.Sprintf("accelerometer range %s", s.AccelRange())
	case session.GyroRangeChanged:
		body = fmt.Sprintf("gyroscope range %s", s.GyroRange())
	case session.ServiceReady:
		body = fmt.Sprintf("service %s ready", device.FormatUUID(ev.Service))
	default:
		return "", false
	}
	return prefix + " " + body, true
}

func formatMotion(s *session.Session, ev session.Event) string {
	ax, ay, az, gx, gy, gz := ev.Sample.Scaled(s.AccelRange(), s.GyroRange())
	return fmt.Sprintf("motion #%d accel=(%.2f, %.2f, %.2f)g gyro=(%.1f, %.1f, %.1f)dps",
		ev.Sample.Index, ax, ay, az, gx, gy, gz)
}

// sessionRow is a snapshot of a session for the watch table
type sessionRow struct {
	Address   string
	Role      string
	State     string
	Battery   int
	Streaming bool
	Index     uint16
	Clicks    [3]uint32
	Status    string
}

// snapshotSessions must run on the event loop
func snapshotSessions(o *orchestrator.Orchestrator) []sessionRow {
	sessions := o.Sessions()
	rows := make([]sessionRow, 0, len(sessions))
	for _, s := range sessions {
		rows = append(rows, sessionRow{
			Address:   s.Address(),
			Role:      s.Role().Label(),
			State:     s.State().String(),
			Battery:   s.BatteryLevel(),
			Streaming: s.Streaming(),
			Index:     s.Sample().Index,
			Clicks:    [3]uint32{s.SingleClickCount(), s.DoubleClickCount(), s.LongClickCount()},
			Status:    s.Status(),
		})
	}
	return rows
}

// displaySessionTable prints rows, truncating the status column to width
func displaySessionTable(out io.Writer, rows []sessionRow, message string, width int) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ADDRESS\tROLE\tSTATE\tBATTERY\tSTREAM\tSAMPLE\tCLICKS S/D/L\tSTATUS")
	fmt.Fprintln(w, strings.Repeat("-", min(width, 110)))

	for _, r := range rows {
		stream := "-"
		if r.Streaming {
			stream = "on"
		}
		status := r.Status
		if limit := width - 90; limit > 3 && len(status) > limit {
			status = status[:limit-3] + "..."
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d%%\t%s\t#%d\t%d/%d/%d\t%s\n",
			r.Address, r.Role, r.State, r.Battery, stream, r.Index, r.Clicks[0], r.Clicks[1], r.Clicks[2], status)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	if message != "" {
		fmt.Fprintln(out)
		printInfo(out, "%s", message)
	}
	return nil
}
