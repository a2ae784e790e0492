package poller

import (
	"context"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/oclean/internal/protocol"
	"github.com/srg/oclean/internal/session"
	"github.com/srg/oclean/pkg/connection"
)

// NotifyHook observes every raw notification together with its decoded fragment.
type NotifyHook func(uuid string, data []byte, f protocol.Fragment)

// cycle runs the command sequence of one poll over an open link. Write, read
// and subscribe failures are logged and skipped; only ctx cancellation stops
// the sequence early.
type cycle struct {
	link      connection.Link
	router    *protocol.Router
	acc       *session.Accumulator
	sig       *signal
	opts      *Options
	logger    *logrus.Logger
	watermark int64
	hook      NotifyHook

	// identity carries cached DIS values; readIdentity decides whether to refresh.
	identity     protocol.Fragment
	readIdentity bool
	identityRead bool
}

func (c *cycle) log() *logrus.Entry {
	return c.logger.WithField("address", c.link.Address())
}

func (c *cycle) handle(uuid string, data []byte) {
	f := c.router.Route(data)
	if c.hook != nil {
		c.hook(uuid, data, f)
	}
	if f.Empty() {
		return
	}
	c.log().WithFields(logrus.Fields{
		"uuid":     uuid,
		"fragment": f.String(),
	}).Debug("Notification decoded")
	if c.acc.Add(f) {
		c.sig.Set()
	}
}

func (c *cycle) run(ctx context.Context) error {
	if err := sleep(ctx, c.opts.SettleDelay); err != nil {
		return err
	}

	c.calibrateTime()
	c.readDeviceInformation()
	c.subscribe()
	c.sendQueries()

	if !c.sig.Wait(ctx, c.opts.NotificationWait) {
		c.log().Debug("No session notification after first query (device may have no records)")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	c.paginate(ctx)
	c.readBattery()
	return ctx.Err()
}

func (c *cycle) write(uuid string, cmd []byte) error {
	err := c.link.Write(uuid, cmd, true)
	if err != nil {
		c.log().WithError(err).WithFields(logrus.Fields{
			"uuid": uuid,
			"cmd":  fmt.Sprintf("%x", cmd),
		}).Warn("Command write failed")
		return err
	}
	c.log().WithField("cmd", fmt.Sprintf("%x", cmd)).Debug("Command sent")
	return nil
}

func (c *cycle) calibrateTime() {
	cmd := make([]byte, 0, 6)
	cmd = append(cmd, protocol.CmdCalibrateTimePrefix...)
	cmd = binary.BigEndian.AppendUint32(cmd, uint32(c.opts.Now().Unix()))
	_ = c.write(protocol.WriteUUID, cmd)
}

func (c *cycle) readDeviceInformation() {
	if !c.readIdentity {
		for _, k := range protocol.DISKeys {
			if v, ok := c.identity[k.Key]; ok {
				c.acc.Set(k.Key, v)
			}
		}
		c.log().Debug("Device information cached, skipping DIS read")
		return
	}

	for _, k := range protocol.DISKeys {
		raw, err := c.link.Read(k.UUID)
		if err != nil {
			c.log().WithError(err).WithField("uuid", k.UUID).Debug("DIS read skipped")
			continue
		}
		if v := protocol.DecodeDISString(raw); v != "" {
			c.acc.Set(k.Key, v)
			c.identityRead = true
			c.log().WithField(k.Key, v).Debug("DIS value read")
		}
	}
}

func (c *cycle) subscribe() {
	for _, uuid := range protocol.NotifyChannels {
		if err := c.link.Subscribe(uuid, c.handle); err != nil {
			c.log().WithError(err).WithField("uuid", uuid).Debug("Could not subscribe")
			continue
		}
		c.log().WithField("uuid", uuid).Debug("Subscribed")
	}
}

func (c *cycle) sendQueries() {
	_ = c.write(protocol.WriteUUID, protocol.CmdQueryStatus)
	_ = c.write(protocol.WriteUUID, protocol.CmdQueryRunningData)
	if err := c.link.Write(protocol.SendBrushCmdUUID, protocol.CmdQueryRunningDataT1, true); err != nil {
		c.log().WithError(err).Debug("Type-1 running-data query skipped")
	}
}

// paginate requests older pages until the device runs dry, history reaches
// the watermark, a write fails, a page times out, or MaxPages is reached.
// The first page counts towards MaxPages.
func (c *cycle) paginate(ctx context.Context) {
	for page := 1; page < c.opts.MaxPages; page++ {
		if c.acc.Len() == 0 {
			return
		}
		if oldest, _ := c.acc.Oldest(); oldest <= c.watermark {
			c.log().WithFields(logrus.Fields{
				"oldest": oldest,
				"page":   page,
			}).Debug("Pagination reached an already known session")
			return
		}

		c.sig.Clear()
		if err := c.write(protocol.WriteUUID, protocol.CmdQueryRunningNext); err != nil {
			return
		}
		if !c.sig.Wait(ctx, c.opts.PageWait) {
			c.log().WithField("page", page).Debug("No more sessions")
			return
		}
	}
	c.log().WithField("max_pages", c.opts.MaxPages).Debug("Pagination page limit reached")
}

func (c *cycle) readBattery() {
	raw, err := c.link.Read(protocol.BatteryCharUUID)
	if err != nil {
		c.log().WithError(err).Warn("Battery read failed")
		return
	}
	if v, ok := protocol.ParseBattery(raw); ok {
		c.acc.Set(protocol.KeyBattery, v)
	}
}

// identityFresh reports whether cached DIS values may be reused at now.
func identityFresh(readAt, now time.Time, refresh time.Duration) bool {
	return !readAt.IsZero() && now.Sub(readAt) < refresh
}
