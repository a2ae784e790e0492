package telemetry

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/oclean/internal/protocol"
)

// LogSink writes reports to a logrus logger.
type LogSink struct {
	logger *logrus.Logger
}

func NewLogSink(logger *logrus.Logger) *LogSink {
	if logger == nil {
		logger = logrus.New()
	}
	return &LogSink{logger: logger}
}

func (s *LogSink) Publish(_ context.Context, r Report) error {
	fields := logrus.Fields{
		"address":      r.Device.Address,
		"new_sessions": len(r.NewSessions),
		"stale":        r.Snapshot.Stale,
	}
	for _, k := range []string{protocol.KeyBattery, protocol.KeyLastScore, protocol.KeyBrushHeadUsage} {
		if v, ok := r.Snapshot.Fields[k]; ok {
			fields[k] = v
		}
	}
	s.logger.WithFields(fields).Info("Device snapshot updated")

	for _, sess := range r.NewSessions {
		s.logger.WithFields(logrus.Fields{
			"address": r.Device.Address,
			"time":    time.Unix(sess.Time, 0).UTC().Format(time.RFC3339),
			"session": sess.Fields.String(),
		}).Info("New brushing session")
	}
	return nil
}
