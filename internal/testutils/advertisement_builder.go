//go:build test

package testutils

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/srg/oclean/pkg/connection"
)

// AdvertisementBuilder builds transport-neutral advertisements for testing.
type AdvertisementBuilder struct {
	adv connection.Advertisement
}

// NewAdvertisementBuilder creates a builder for a connectable advertisement.
func NewAdvertisementBuilder() *AdvertisementBuilder {
	return &AdvertisementBuilder{adv: connection.Advertisement{Connectable: true, RSSI: -50}}
}

// WithName sets the local name for the advertisement.
func (b *AdvertisementBuilder) WithName(name string) *AdvertisementBuilder {
	b.adv.Name = name
	return b
}

// WithAddress sets the device address for the advertisement.
func (b *AdvertisementBuilder) WithAddress(addr string) *AdvertisementBuilder {
	b.adv.Address = addr
	return b
}

// WithRSSI sets the signal strength for the advertisement.
func (b *AdvertisementBuilder) WithRSSI(rssi int) *AdvertisementBuilder {
	b.adv.RSSI = rssi
	return b
}

// WithServices adds service UUIDs to the advertisement.
// UUIDs can be in short form (e.g., "180F") or full form.
func (b *AdvertisementBuilder) WithServices(uuids ...string) *AdvertisementBuilder {
	for _, u := range uuids {
		b.adv.Services = append(b.adv.Services, connection.NormalizeUUID(u))
	}
	return b
}

// WithConnectable sets whether the device accepts connections.
func (b *AdvertisementBuilder) WithConnectable(c bool) *AdvertisementBuilder {
	b.adv.Connectable = c
	return b
}

// FromJSON fills builder fields from a JSON string with format support.
// Panics on invalid JSON as this is intended for test data setup.
func (b *AdvertisementBuilder) FromJSON(jsonStrFmt string, args ...interface{}) *AdvertisementBuilder {
	var data struct {
		Name        *string  `json:"name"`
		Address     *string  `json:"address"`
		RSSI        *int     `json:"rssi"`
		Services    []string `json:"services"`
		Connectable *bool    `json:"connectable"`
	}
	if err := json.Unmarshal([]byte(fmt.Sprintf(jsonStrFmt, args...)), &data); err != nil {
		panic(fmt.Sprintf("FromJSON: %v", err))
	}

	if data.Name != nil {
		b.WithName(*data.Name)
	}
	if data.Address != nil {
		b.WithAddress(*data.Address)
	}
	if data.RSSI != nil {
		b.WithRSSI(*data.RSSI)
	}
	if data.Services != nil {
		b.WithServices(data.Services...)
	}
	if data.Connectable != nil {
		b.WithConnectable(*data.Connectable)
	}
	return b
}

// Build returns the advertisement.
func (b *AdvertisementBuilder) Build() connection.Advertisement {
	out := b.adv
	out.Services = append([]string(nil), b.adv.Services...)
	return out
}

// ScriptedScanner replays advertisements and then waits for ctx, like a
// radio that hears nothing more.
type ScriptedScanner struct {
	Advertisements []connection.Advertisement
	Err            error
}

// Scan implements connection.Scanner. Duplicates are replayed only when
// allowDup is set.
func (s *ScriptedScanner) Scan(ctx context.Context, allowDup bool, handler func(connection.Advertisement)) error {
	if s.Err != nil {
		return s.Err
	}
	seen := make(map[string]bool)
	for _, adv := range s.Advertisements {
		if !allowDup && seen[adv.Address] {
			continue
		}
		seen[adv.Address] = true
		handler(adv)
	}
	<-ctx.Done()
	return ctx.Err()
}
