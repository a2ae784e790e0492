package poller

import (
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/srg/oclean/internal/schedule"
)

// Device describes one configured brush.
type Device struct {
	Address  string
	Name     string
	Windows  []schedule.Window
	Cooldown time.Duration // post-brush cooldown; zero disables it
}

// Timing bounds every wait of a cycle. Zero fields take the tag defaults.
type Timing struct {
	ConnectTimeout   time.Duration `default:"10s"`
	ConnectAttempts  int           `default:"3"`
	RetryDelay       time.Duration `default:"1s"`
	SettleDelay      time.Duration `default:"2s"`
	NotificationWait time.Duration `default:"3s"`
	PageWait         time.Duration `default:"2s"`
	MaxPages         int           `default:"50"`
	DISRefresh       time.Duration `default:"24h"`
}

// Options tunes a Poller.
type Options struct {
	Timing

	// Location interprets device dates that carry no zone and is the zone
	// poll windows are read in; nil means time.Local.
	Location *time.Location
	// Now is the clock; nil means time.Now.
	Now func() time.Time
}

// DefaultOptions returns Options with every default applied.
func DefaultOptions() *Options {
	return (*Options)(nil).withDefaults()
}

func (o *Options) withDefaults() *Options {
	out := &Options{}
	if o != nil {
		*out = *o
	}
	defaults.SetDefaults(&out.Timing)
	if out.Now == nil {
		out.Now = time.Now
	}
	if out.Location == nil {
		out.Location = time.Local
	}
	return out
}
