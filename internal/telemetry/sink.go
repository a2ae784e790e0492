// Package telemetry hands reconciled poll results to downstream consumers.
package telemetry

import (
	"context"
	"errors"
	"time"

	"github.com/srg/oclean/internal/protocol"
	"github.com/srg/oclean/internal/reconcile"
	"github.com/srg/oclean/internal/session"
)

// Device identifies the polled brush.
type Device struct {
	Address string `json:"address"`
	Name    string `json:"name,omitempty"`
}

// Report is the outcome of one successful cycle.
type Report struct {
	Device      Device
	Snapshot    reconcile.Snapshot
	NewSessions []session.Session
}

// Sink consumes reports. Publish must not retain the report.
type Sink interface {
	Publish(ctx context.Context, r Report) error
}

// Metric describes one long-term statistic derived from sessions.
type Metric struct {
	Name string
	Key  string
	Unit string
}

// Metrics are the per-session statistics exported for each device.
var Metrics = []Metric{
	{Name: "brush_score", Key: protocol.KeyLastScore, Unit: "%"},
	{Name: "brush_duration", Key: protocol.KeyLastDuration, Unit: "s"},
	{Name: "brush_pressure", Key: protocol.KeyLastPressure, Unit: ""},
}

// Point is one statistic sample.
type Point struct {
	StatisticID string    `json:"statistic_id"`
	Unit        string    `json:"unit"`
	Start       time.Time `json:"start"`
	Value       float64   `json:"value"`
	SessionTime int64     `json:"session_time"`
}

// StatisticID returns the id of a metric for a device.
func StatisticID(address, metric string) string {
	return "oclean_ble:" + protocol.MACSlug(address) + "_" + metric
}

// Points converts new sessions into samples bucketed to the UTC hour in
// which each session happened. Sessions lacking a metric contribute no point
// for it.
func Points(address string, sessions []session.Session) []Point {
	var out []Point
	for _, s := range sessions {
		start := time.Unix(s.Time, 0).UTC().Truncate(time.Hour)
		for _, m := range Metrics {
			v, ok := s.Value(m.Key)
			if !ok {
				continue
			}
			out = append(out, Point{
				StatisticID: StatisticID(address, m.Name),
				Unit:        m.Unit,
				Start:       start,
				Value:       v,
				SessionTime: s.Time,
			})
		}
	}
	return out
}

// MultiSink fans a report out to several sinks; every sink is attempted.
type MultiSink []Sink

func (m MultiSink) Publish(ctx context.Context, r Report) error {
	var errs []error
	for _, s := range m {
		if err := s.Publish(ctx, r); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
