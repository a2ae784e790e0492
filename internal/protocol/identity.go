package protocol

import (
	"strings"
	"unicode/utf8"
)

// DISKeys maps Device Information Service characteristics to snapshot keys.
var DISKeys = []struct {
	UUID string
	Key  string
}{
	{DISModelUUID, KeyModelID},
	{DISHWRevUUID, KeyHWRevision},
	{DISSWRevUUID, KeySWVersion},
}

// DecodeDISString cleans a DIS string value: trailing NULs and surrounding
// whitespace are removed. Invalid UTF-8 yields "".
func DecodeDISString(data []byte) string {
	if !utf8.Valid(data) {
		return ""
	}
	return strings.TrimSpace(strings.Trim(string(data), "\x00"))
}

// Family distinguishes the two incompatible command sets.
type Family int

const (
	FamilyUnknown Family = iota
	// FamilyType0 answers 0308 on READ_NOTIFY and exposes CHANGE_INFO.
	FamilyType0
	// FamilyType1 pushes sessions on RECEIVE_BRUSH and takes commands on SEND_BRUSH_CMD.
	FamilyType1
)

func (f Family) String() string {
	switch f {
	case FamilyType0:
		return "type0"
	case FamilyType1:
		return "type1"
	default:
		return "unknown"
	}
}

// DetectFamily guesses the device family from the characteristics it exposes.
func DetectFamily(has func(uuid string) bool) Family {
	switch {
	case has(ReceiveBrushUUID) || has(SendBrushCmdUUID):
		return FamilyType1
	case has(ChangeInfoUUID) || has(ReadNotifyUUID):
		return FamilyType0
	default:
		return FamilyUnknown
	}
}
