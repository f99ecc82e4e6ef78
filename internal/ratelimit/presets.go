package ratelimit

import (
	"context"
	"time"
)

// Preset is a named limit configuration supplied by a call site.
type Preset struct {
	Name        string        `yaml:"-" ignored:"true"`
	Window      time.Duration `yaml:"window" validate:"gt=0"`
	MaxRequests int           `yaml:"max_requests" split_words:"true" validate:"gt=0"`
}

// Default presets.
var (
	Strict  = Preset{Name: "strict", Window: 15 * time.Minute, MaxRequests: 10}
	Normal  = Preset{Name: "normal", Window: 15 * time.Minute, MaxRequests: 100}
	Lenient = Preset{Name: "lenient", Window: 15 * time.Minute, MaxRequests: 500}
	Upload  = Preset{Name: "upload", Window: time.Hour, MaxRequests: 20}
	Webhook = Preset{Name: "webhook", Window: time.Minute, MaxRequests: 5}
)

// TakePreset counts one request for key under p. The preset name is part of
// the stored key so presets never share a window.
func TakePreset(ctx context.Context, s Store, p Preset, key string) (Result, error) {
	return s.Take(ctx, p.Name+":"+key, p.Window, p.MaxRequests)
}
