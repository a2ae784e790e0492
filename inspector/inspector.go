package inspector

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/oclean/internal/protocol"
	"github.com/srg/oclean/pkg/connection"
)

// ProgressCallback is called when the inspection phase changes
type ProgressCallback func(phase string)

// InspectOptions defines options for inspecting a device
type InspectOptions struct {
	ConnectTimeout time.Duration
}

// InspectCallback processes a connected link and produces output of type R
type InspectCallback[R any] func(connection.Link) (R, error)

// InspectDevice connects to a device and executes the callback with the open link.
// The link is released after the callback returns.
func InspectDevice[R any](ctx context.Context, transport connection.Transport, address string, opts *InspectOptions, logger *logrus.Logger, progressCallback ProgressCallback, callback InspectCallback[R]) (R, error) {
	var zero R
	if opts == nil {
		opts = &InspectOptions{ConnectTimeout: connection.DefaultConnectTimeout}
	}
	if logger == nil {
		logger = logrus.New()
	}
	if progressCallback == nil {
		progressCallback = func(string) {}
	}

	progressCallback("Connecting")

	link, err := transport.Connect(ctx, &connection.ConnectOptions{Address: address, ConnectTimeout: opts.ConnectTimeout})
	if err != nil {
		progressCallback("Failed")
		return zero, err
	}

	progressCallback("Connected")

	defer func() {
		if err := link.Disconnect(); err != nil {
			logger.WithError(err).Error("failed to disconnect device")
		}
	}()

	progressCallback("Processing results")

	return callback(link)
}

// Characteristic reports whether one Oclean characteristic is present.
type Characteristic struct {
	Name    string `json:"name"`
	UUID    string `json:"uuid"`
	Present bool   `json:"present"`
}

// DeviceInfo is the identity of a connected brush.
type DeviceInfo struct {
	Address         string           `json:"address"`
	ModelID         string           `json:"model_id,omitempty"`
	HWRevision      string           `json:"hw_revision,omitempty"`
	SWVersion       string           `json:"sw_version,omitempty"`
	Battery         *int             `json:"battery,omitempty"`
	Family          string           `json:"family"`
	Characteristics []Characteristic `json:"characteristics"`
}

var knownCharacteristics = []struct{ name, uuid string }{
	{"read_notify", protocol.ReadNotifyUUID},
	{"write", protocol.WriteUUID},
	{"send_brush_cmd", protocol.SendBrushCmdUUID},
	{"receive_brush", protocol.ReceiveBrushUUID},
	{"change_info", protocol.ChangeInfoUUID},
	{"battery", protocol.BatteryCharUUID},
}

// ReadDeviceInfo reads the device information strings and battery level and
// detects the protocol family from the characteristics the device exposes.
// Missing values are left empty.
func ReadDeviceInfo(link connection.Link, logger *logrus.Logger) (*DeviceInfo, error) {
	if logger == nil {
		logger = logrus.New()
	}
	info := &DeviceInfo{Address: link.Address()}

	for _, k := range protocol.DISKeys {
		raw, err := link.Read(k.UUID)
		if err != nil {
			logger.WithError(err).WithField("uuid", k.UUID).Debug("DIS read skipped")
			continue
		}
		v := protocol.DecodeDISString(raw)
		switch k.Key {
		case protocol.KeyModelID:
			info.ModelID = v
		case protocol.KeyHWRevision:
			info.HWRevision = v
		case protocol.KeySWVersion:
			info.SWVersion = v
		}
	}

	if raw, err := link.Read(protocol.BatteryCharUUID); err == nil {
		if v, ok := protocol.ParseBattery(raw); ok {
			info.Battery = &v
		}
	} else {
		logger.WithError(err).Debug("Battery read skipped")
	}

	for _, c := range knownCharacteristics {
		info.Characteristics = append(info.Characteristics, Characteristic{
			Name:    c.name,
			UUID:    c.uuid,
			Present: link.HasCharacteristic(c.uuid),
		})
	}
	info.Family = protocol.DetectFamily(link.HasCharacteristic).String()

	return info, nil
}
