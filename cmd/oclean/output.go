package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/srg/oclean/internal/poller"
	"github.com/srg/oclean/internal/protocol"
	"github.com/srg/oclean/internal/reconcile"
	"github.com/srg/oclean/internal/session"
	"github.com/srg/oclean/internal/telemetry"
)

var (
	staleColor = color.New(color.FgYellow)
	skipColor  = color.New(color.FgCyan)
	headColor  = color.New(color.Bold)
)

func validateFormat(format string) error {
	switch format {
	case "table", "json":
		return nil
	}
	return fmt.Errorf("invalid format '%s': must be one of [table json]", format)
}

// pollOutput is the JSON shape of one poll.
type pollOutput struct {
	Device      telemetry.Device   `json:"device"`
	Skipped     string             `json:"skipped,omitempty"`
	Snapshot    reconcile.Snapshot `json:"snapshot"`
	NewSessions []session.Session  `json:"new_sessions"`
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// renderPoll prints the outcome of one poll in the requested format.
func renderPoll(w io.Writer, format string, dev poller.Device, res poller.Result, loc *time.Location) error {
	if format == "json" {
		out := pollOutput{
			Device:      telemetry.Device{Address: dev.Address, Name: dev.Name},
			Snapshot:    res.Snapshot,
			NewSessions: res.NewSessions,
		}
		if out.NewSessions == nil {
			out.NewSessions = []session.Session{}
		}
		if res.Skipped() {
			out.Skipped = res.Decision.String()
		}
		return writeJSON(w, out)
	}

	title := dev.Address
	if dev.Name != "" {
		title = fmt.Sprintf("%s (%s)", dev.Name, dev.Address)
	}
	headColor.Fprintln(w, title)
	if res.Skipped() {
		skipColor.Fprintf(w, "Poll %s\n", res.Decision)
	}
	if res.Snapshot.Stale {
		staleColor.Fprintln(w, "Device unreachable, showing last known values")
	}
	renderSnapshot(w, res.Snapshot, loc)

	if len(res.NewSessions) > 0 {
		fmt.Fprintf(w, "\nNew sessions: %d\n", len(res.NewSessions))
		renderSessions(w, res.NewSessions, loc)
	}
	return nil
}

// renderSnapshot prints the snapshot fields in canonical order.
func renderSnapshot(w io.Writer, snap reconcile.Snapshot, loc *time.Location) {
	if !snap.Ready() {
		fmt.Fprintln(w, "No data yet.")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	for pair := snap.Ordered().Oldest(); pair != nil; pair = pair.Next() {
		fmt.Fprintf(tw, "%s\t%s\n", pair.Key, formatValue(pair.Key, pair.Value, loc))
	}
	_ = tw.Flush()
}

// renderSessions prints one row per session, oldest first.
func renderSessions(w io.Writer, sessions []session.Session, loc *time.Location) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "Time\tScore\tDuration\tPressure\tScheme")
	fmt.Fprintln(tw, "----\t-----\t--------\t--------\t------")
	for _, s := range sessions {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			formatTime(s.Time, loc),
			optional(s.Score()),
			formatValue(protocol.KeyLastDuration, s.Fields[protocol.KeyLastDuration], loc),
			formatValue(protocol.KeyLastPressure, s.Fields[protocol.KeyLastPressure], loc),
			schemeLabel(s),
		)
	}
	_ = tw.Flush()
}

// schemeLabel names the programme a session ran, qualified by the scheme
// type byte when the device reported one.
func schemeLabel(s session.Session) string {
	label := "-"
	if pnum, ok := s.Pnum(); ok {
		label = fmt.Sprintf("#%d", pnum)
		if name, ok := protocol.SchemeName(pnum); ok {
			label = name
		}
	}
	kind, ok := s.SchemeType()
	switch {
	case !ok:
		return label
	case label == "-":
		return fmt.Sprintf("type %d", kind)
	default:
		return fmt.Sprintf("%s (type %d)", label, kind)
	}
}

func optional(v int, ok bool) string {
	if !ok {
		return "-"
	}
	return fmt.Sprintf("%d", v)
}

func formatTime(ts int64, loc *time.Location) string {
	if loc == nil {
		loc = time.Local
	}
	return time.Unix(ts, 0).In(loc).Format("2006-01-02 15:04")
}

func formatValue(key string, v any, loc *time.Location) string {
	if v == nil {
		return "-"
	}
	switch key {
	case protocol.KeyBattery, protocol.KeyLastScore:
		return fmt.Sprintf("%v%%", v)
	case protocol.KeyLastDuration:
		return fmt.Sprintf("%vs", v)
	case protocol.KeyLastTime:
		if f, ok := protocol.AsFloat(v); ok {
			return formatTime(int64(f), loc)
		}
	case protocol.KeyLastAreas:
		if areas, ok := v.(map[string]int); ok {
			return formatAreas(areas)
		}
	case "stale":
		if b, ok := v.(bool); ok && b {
			return "yes"
		}
		return "no"
	}
	return fmt.Sprintf("%v", v)
}

func formatAreas(areas map[string]int) string {
	keys := make([]string, 0, len(areas))
	for k := range areas {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%d", k, areas[k]))
	}
	return strings.Join(parts, " ")
}
