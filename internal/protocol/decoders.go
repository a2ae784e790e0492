package protocol

import (
	"encoding/binary"
	"encoding/hex"
	"math"
	"time"

	"github.com/sirupsen/logrus"
)

// Decoder converts a tag-stripped payload into a Fragment.
type Decoder interface {
	Decode(payload []byte) Fragment
}

// DecoderFunc adapts an ordinary function to a Decoder.
type DecoderFunc func(payload []byte) Fragment

// Decode calls f(payload).
func (f DecoderFunc) Decode(payload []byte) Fragment {
	return f(payload)
}

const (
	extendedMinSize    = 32
	simpleMinSize      = 18
	infoT1MinSize      = 12
	infoT1DurationSize = 14
	guidanceMinSize    = 6
	sessionMetaMinSize = 18
	brushAreasMinSize  = 14
	noData             = 0xFF
)

// Codec holds the decoders for the known notification layouts.
type Codec struct {
	logger *logrus.Logger
	// location interprets type 1 wall-clock dates; nil means the host zone.
	location *time.Location
}

// NewCodec creates a codec. A nil logger gets a default one.
func NewCodec(logger *logrus.Logger, location *time.Location) *Codec {
	if logger == nil {
		logger = logrus.New()
	}
	return &Codec{logger: logger, location: location}
}

func (c *Codec) debug(kind string, payload []byte) *logrus.Entry {
	return c.logger.WithFields(logrus.Fields{
		"kind": kind,
		"raw":  hex.EncodeToString(payload),
	})
}

// DecodeState parses a 0303 status response. Byte 3 is the battery level.
func (c *Codec) DecodeState(payload []byte) Fragment {
	out := Fragment{}
	if len(payload) < 4 {
		c.debug("state", payload).Debug("State response too short")
		return out
	}
	if batt := int(payload[3]); batt <= 100 {
		out[KeyBattery] = batt
	}
	c.debug("state", payload).WithFields(logrus.Fields{
		"b0": payload[0],
		"b1": payload[1],
		"b2": payload[2],
	}).Debug("State response parsed")
	return out
}

// DecodeInfo parses a 0308 running-data response in either the extended or
// the simple layout.
func (c *Codec) DecodeInfo(payload []byte) Fragment {
	// Extended records start with a big-endian length whose high byte is
	// always zero; simple records start with year-2000.
	if len(payload) >= 2 && payload[0] == 0 && payload[1] >= extendedMinSize && len(payload) >= int(payload[1]) {
		out := c.decodeExtended(payload)
		if out.Empty() {
			// A simple-layout parse here would read the length header as a year.
			c.debug("info", payload).Debug("Extended record detected but not parsed")
		}
		return out
	}

	out := c.decodeSimple(payload)
	if out.Empty() {
		c.debug("info", payload).Debug("Info response not parsed")
	}
	return out
}

func (c *Codec) decodeExtended(p []byte) Fragment {
	if len(p) < extendedMinSize {
		return Fragment{}
	}
	dt, err := DeviceDateFromBytes(p[2:8])
	if err != nil {
		c.debug("info-extended", p).WithError(err).Debug("Extended record rejected")
		return Fragment{}
	}

	pnum := int(p[8])
	duration := int(binary.BigEndian.Uint16(p[9:11]))
	quarters := int8(p[19])
	areas, cleaned, avg := areaStats(p[20:28])
	ts := dt.UnixWithOffset(quarters)

	out := Fragment{
		KeyLastTime:       ts,
		KeyLastDuration:   duration,
		KeyLastScore:      clampScore(p[28]),
		KeyLastPressure:   avg,
		KeyLastAreas:      areas,
		KeyLastSchemeType: int(p[29]),
		KeyLastPnum:       pnum,
	}
	c.logger.WithFields(logrus.Fields{
		"ts":            ts,
		"score":         out[KeyLastScore],
		"duration":      duration,
		"pnum":          pnum,
		"scheme_type":   p[29],
		"zones_cleaned": cleaned,
		"avg_pressure":  avg,
	}).Debug("Extended running-data record parsed")
	return out
}

func (c *Codec) decodeSimple(p []byte) Fragment {
	if len(p) < simpleMinSize {
		return Fragment{}
	}
	dt, err := DeviceDateFromBytes(p[0:6])
	if err != nil {
		c.debug("info-simple", p).WithError(err).Debug("Simple record rejected")
		return Fragment{}
	}

	quarters := int8(p[6])
	wear := int(binary.LittleEndian.Uint16(p[14:16]))
	rawPressure := binary.LittleEndian.Uint16(p[16:18])
	pressure := math.Round(float64(rawPressure)/300*100) / 100

	out := Fragment{
		KeyLastTime:       dt.UnixWithOffset(quarters),
		KeyLastPressure:   pressure,
		KeyBrushHeadUsage: wear,
	}
	c.logger.WithFields(logrus.Fields{
		"ts":          out[KeyLastTime],
		"blunt_teeth": wear,
		"pnum":        p[8],
		"week":        p[7],
		"b9_13":       hex.EncodeToString(p[9:14]),
	}).Debug("Simple running-data record parsed")
	return out
}

// DecodeInfoT1 parses a 0307 running-data push from type 1 devices. The
// record has no zone offset; the date is device wall-clock time.
func (c *Codec) DecodeInfoT1(p []byte) Fragment {
	if len(p) < infoT1MinSize {
		c.debug("info-t1", p).Debug("Type 1 record too short")
		return Fragment{}
	}
	dt, err := DeviceDateFromBytes(p[5:11])
	if err != nil {
		c.debug("info-t1", p).WithError(err).Debug("Type 1 record rejected")
		return Fragment{}
	}

	out := Fragment{
		KeyLastTime: dt.UnixIn(c.location),
		KeyLastPnum: int(p[11]),
	}
	if len(p) >= infoT1DurationSize {
		out[KeyLastDuration] = int(binary.BigEndian.Uint16(p[12:14]))
	}

	entry := c.debug("info-t1", p).WithFields(logrus.Fields{
		"date": dt.String(),
		"b0_4": hex.EncodeToString(p[0:5]),
	})
	if len(p) > 16 {
		entry = entry.WithFields(logrus.Fields{"b16": p[16]})
	}
	if len(p) > 17 {
		entry = entry.WithFields(logrus.Fields{"b17": p[17]})
	}
	entry.Debug("Type 1 running-data record parsed")
	return out
}

// DecodeDeviceInfoAck handles the 0202 acknowledgement; it carries no data.
func (c *Codec) DecodeDeviceInfoAck(p []byte) Fragment {
	c.debug("device-info-ack", p).Debug("Device info acknowledged")
	return Fragment{}
}

// GuidanceZone names the active zone of a 0340 guidance payload.
func GuidanceZone(p []byte) (string, bool) {
	if len(p) < guidanceMinSize {
		return "", false
	}
	zone := int(p[4])
	if zone >= 1 && zone <= len(ToothAreaNames) {
		return ToothAreaNames[zone-1], true
	}
	return GuidanceStopped, true
}

// DecodeGuidance logs 0340 real-time zone guidance. It never yields fields.
func (c *Codec) DecodeGuidance(p []byte) Fragment {
	zone, ok := GuidanceZone(p)
	if !ok {
		c.debug("guidance", p).Debug("Guidance payload too short")
		return Fragment{}
	}
	c.logger.WithFields(logrus.Fields{
		"lift_up":    p[0],
		"lift_down":  p[1],
		"right_up":   p[2],
		"right_down": p[3],
		"zone":       zone,
		"state":      p[5],
	}).Debug("Real-time guidance")
	return Fragment{}
}

// DecodeScoreT1 parses the 0000 score push. 0xFF means no score.
func (c *Codec) DecodeScoreT1(p []byte) Fragment {
	if len(p) < 1 || p[0] == noData {
		c.debug("score-t1", p).Debug("Score push carries no data")
		return Fragment{}
	}
	score := clampScore(p[0])
	c.debug("score-t1", p).WithField("score", score).Debug("Score push parsed")
	return Fragment{KeyLastScore: score}
}

// DecodeSessionMeta parses the 5a00 session metadata push.
func (c *Codec) DecodeSessionMeta(p []byte) Fragment {
	if len(p) < sessionMetaMinSize {
		c.debug("session-meta", p).Debug("Session metadata too short")
		return Fragment{}
	}
	dt, err := DeviceDateFromBytes(p[7:13])
	if err != nil {
		c.debug("session-meta", p).WithError(err).Debug("Session metadata rejected")
		return Fragment{}
	}

	out := Fragment{KeyLastTime: dt.UnixIn(c.location)}
	if d := p[15]; d > 0 && d != noData {
		out[KeyLastDuration] = int(d)
	}
	c.debug("session-meta", p).WithFields(logrus.Fields{
		"date": dt.String(),
		"b13":  p[13],
		"b16":  p[16],
	}).Debug("Session metadata parsed")
	return out
}

// DecodeBrushAreas parses the 2604 per-zone pressure push.
func (c *Codec) DecodeBrushAreas(p []byte) Fragment {
	if len(p) < brushAreasMinSize {
		c.debug("brush-areas", p).Debug("Brush areas too short")
		return Fragment{}
	}
	areas, cleaned, avg := areaStats(p[6:14])
	c.debug("brush-areas", p).WithFields(logrus.Fields{
		"zones_cleaned": cleaned,
		"avg_pressure":  avg,
		"b0":            p[0],
		"b4":            p[4],
	}).Debug("Brush areas parsed")
	return Fragment{
		KeyLastAreas:    areas,
		KeyLastPressure: avg,
	}
}

// DecodeExtendedT1 logs a 0314 echo byte by byte.
func (c *Codec) DecodeExtendedT1(p []byte) Fragment {
	c.debug("extended-t1", p).WithField("len", len(p)).Debug("Extended data response")
	for i, b := range p {
		c.logger.Debugf("  0314[%02d] = 0x%02X  (%d)", i, b, b)
	}
	return Fragment{}
}

// ParseBattery reads the standard battery level characteristic.
func ParseBattery(data []byte) (int, bool) {
	if len(data) == 0 || data[0] > 100 {
		return 0, false
	}
	return int(data[0]), true
}
