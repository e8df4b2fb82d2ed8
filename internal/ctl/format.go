package ctl

import (
	"fmt"
	"io"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"telecom-keeper/internal/calls"
	"telecom-keeper/internal/registration"
)

type (
	CallEvent    = calls.Event
	LiveCall     = calls.Record
	Summary      = calls.Summary
	Registration = registration.Record
)

// ProcessingState is the wire form of the supervisor state.
type ProcessingState struct {
	State string `json:"state"`
	Cause string `json:"cause,omitempty"`
}

// ANSI escape codes for terminal formatting.
const (
	reset  = "\033[0m"
	bold   = "\033[1m"
	dim    = "\033[2m"
	red    = "\033[31m"
	green  = "\033[32m"
	yellow = "\033[33m"
)

// colorEnabled reports whether w is a terminal.
func colorEnabled(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	fi, err := f.Stat()
	if err != nil {
		return false
	}
	return fi.Mode()&os.ModeCharDevice != 0
}

func colorize(w io.Writer, color, text string) string {
	if !colorEnabled(w) {
		return text
	}
	return color + text + reset
}

func stateColor(state string) string {
	switch state {
	case "started", string(registration.StatusRegistered):
		return green
	case "suspended", string(registration.StatusRegistering), string(registration.StatusUnregistering):
		return yellow
	case "failed", string(registration.StatusRegisterFailed), string(registration.StatusUnregisterFailed):
		return red
	default:
		return dim
	}
}

func renderProcessing(w io.Writer, st ProcessingState) {
	line := colorize(w, stateColor(st.State), st.State)
	if st.Cause != "" {
		line += "  " + st.Cause
	}
	fmt.Fprintf(w, "  %s %s\n", colorize(w, bold, "processing:  "), line)
}

func renderRegistration(w io.Writer, r Registration) {
	line := colorize(w, stateColor(string(r.Status)), string(r.Status))
	if r.Account.AOR != "" {
		line += "  " + r.Account.AOR + " @ " + trimScheme(r.Account.Registrar)
	}
	if r.Reason != "" {
		line += "  (" + r.Reason + ")"
	}
	fmt.Fprintf(w, "  %s %s\n", colorize(w, bold, "registration:"), line)
}

func renderHistory(w io.Writer, events []CallEvent) {
	if len(events) == 0 {
		fmt.Fprintln(w, "  no calls")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "  TIME\tCALL\tDIRECTION\tSTATUS\tREMOTE")
	for _, e := range events {
		fmt.Fprintf(tw, "  %s\t%s\t%s\t%s\t%s\n",
			e.Timestamp.Local().Format(time.DateTime),
			shortID(e.CallID),
			e.Direction,
			e.Kind,
			trimScheme(e.RemoteParty),
		)
	}
	_ = tw.Flush()
}

func renderLive(w io.Writer, live []LiveCall) {
	if len(live) == 0 {
		fmt.Fprintln(w, "  no calls in progress")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "  SINCE\tCALL\tDIRECTION\tSTATUS\tREMOTE\tMEDIA")
	for _, c := range live {
		media := "-"
		if c.Streams != nil {
			switch {
			case c.Streams.Video:
				media = "audio+video"
			case c.Streams.Audio:
				media = "audio"
			}
		}
		fmt.Fprintf(tw, "  %s\t%s\t%s\t%s\t%s\t%s\n",
			c.Timestamp.Local().Format(time.TimeOnly),
			shortID(c.CallID),
			c.Direction,
			c.Status,
			trimScheme(c.RemoteParty),
			media,
		)
	}
	_ = tw.Flush()
}

func renderSummary(w io.Writer, s Summary) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "  total\t%d\t(in %d / out %d)\n", s.TotalCalls, s.IncomingCalls, s.OutgoingCalls)
	fmt.Fprintf(tw, "  in progress\t%d\n", s.InProgressCalls)
	fmt.Fprintf(tw, "  answered\t%d\n", s.AnsweredCalls)
	fmt.Fprintf(tw, "  missed\t%d\n", s.MissedCalls)
	fmt.Fprintf(tw, "  declined\t%d\n", s.DeclinedCalls)
	fmt.Fprintf(tw, "  canceled\t%d\n", s.CanceledCalls)
	fmt.Fprintf(tw, "  failed\t%d\n", s.FailedCalls)
	_ = tw.Flush()

	if len(s.ByStatus) == 0 {
		return
	}
	keys := make([]string, 0, len(s.ByStatus))
	for k := range s.ByStatus {
		keys = append(keys, string(k))
	}
	sort.Strings(keys)
	fmt.Fprintln(w)
	for _, k := range keys {
		fmt.Fprintf(w, "  %-28s %d\n", k, s.ByStatus[calls.Status(k)])
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
