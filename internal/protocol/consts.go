// Package protocol decodes the Oclean BLE notification protocol.
//
// Every notification starts with a 2-byte tag which selects a Decoder from a
// Registry. Decoders never fail: malformed input yields an empty Fragment.
package protocol

import "time"

// GATT service and characteristic UUIDs (lowercase, dashed).
const (
	ServiceUUID        = "8082caa8-41a6-4021-91c6-56f9b954cc18"
	ReadNotifyUUID     = "5f78df94-798c-46f5-990a-855b673fbb86"
	WriteUUID          = "9d84b9a3-000c-49d8-9183-855b673fbb85"
	SendBrushCmdUUID   = "5f78df94-798c-46f5-990a-855b673fbb89"
	ReceiveBrushUUID   = "5f78df94-798c-46f5-990a-855b673fbb90"
	ChangeInfoUUID     = "6c290d2e-1c03-aca1-ab48-a9b908bae79e"
	BatteryServiceUUID = "180f"
	BatteryCharUUID    = "2a19"
	DISServiceUUID     = "180a"
	DISModelUUID       = "2a24"
	DISHWRevUUID       = "2a27"
	DISSWRevUUID       = "2a28"
)

// NotifyChannels are subscribed on every poll cycle, in order.
var NotifyChannels = []string{
	ReadNotifyUUID,   // all device types
	ReceiveBrushUUID, // type 1 session push
	ChangeInfoUUID,   // type 0 change-info
	SendBrushCmdUUID, // type 1 command result
}

// Outbound command op-codes.
var (
	CmdQueryStatus         = []byte{0x03, 0x03}
	CmdDeviceInfo          = []byte{0x02, 0x02}
	CmdCalibrateTimePrefix = []byte{0x02, 0x0E}
	CmdQueryRunningData    = []byte{0x03, 0x08}
	CmdQueryRunningDataT1  = []byte{0x03, 0x07}
	CmdQueryRunningNext    = []byte{0x03, 0x09}
	CmdClearBrushHead      = []byte{0x02, 0x0F}
	CmdQueryExtendedT1     = []byte{0x03, 0x14}
)

// Inbound notification tags.
var (
	TagState       = Tag{0x03, 0x03}
	TagInfo        = Tag{0x03, 0x08}
	TagInfoT1      = Tag{0x03, 0x07}
	TagDeviceInfo  = Tag{0x02, 0x02}
	TagGuidance    = Tag{0x03, 0x40}
	TagScoreT1     = Tag{0x00, 0x00}
	TagSessionMeta = Tag{0x5a, 0x00}
	TagBrushAreas  = Tag{0x26, 0x04}
	TagExtendedT1  = Tag{0x03, 0x14}
)

// Canonical data keys shared by fragments, sessions and snapshots.
const (
	KeyBattery        = "battery"
	KeyBrushHeadUsage = "brush_head_usage"
	KeyLastScore      = "last_brush_score"
	KeyLastDuration   = "last_brush_duration"
	KeyLastPressure   = "last_brush_pressure"
	KeyLastTime       = "last_brush_time"
	KeyLastAreas      = "last_brush_areas"
	KeyLastSchemeType = "last_brush_scheme_type"
	KeyLastPnum       = "last_brush_pnum"
	KeyModelID        = "model_id"
	KeyHWRevision     = "hw_revision"
	KeySWVersion      = "sw_version"
)

// SnapshotKeys lists the snapshot fields in canonical order.
var SnapshotKeys = []string{
	KeyBattery,
	KeyLastScore,
	KeyLastDuration,
	KeyLastPressure,
	KeyLastTime,
	KeyLastAreas,
	KeyLastSchemeType,
	KeyLastPnum,
	KeyBrushHeadUsage,
	KeyModelID,
	KeyHWRevision,
	KeySWVersion,
}

// ToothAreaNames are the eight brushing zones in device byte order.
var ToothAreaNames = [8]string{
	"upper_left_out",
	"upper_left_in",
	"lower_left_out",
	"lower_left_in",
	"upper_right_out",
	"upper_right_in",
	"lower_right_out",
	"lower_right_in",
}

// GuidanceStopped is the zone name reported when brushing has stopped.
const GuidanceStopped = "stop"

// Protocol timing.
const (
	DefaultPollInterval = 300 * time.Second
	MinPollInterval     = 60 * time.Second
	ConnectTimeout      = 10 * time.Second
	NotificationWait    = 3 * time.Second
	PageWait            = 2 * time.Second
	SettleDelay         = 2 * time.Second
	DISRefreshInterval  = 24 * time.Hour
	MaxSessionPages     = 50
	MaxPollWindows      = 3
)
