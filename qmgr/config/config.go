// Package config loads the scheduler's tunable knobs from a TOML file,
// falling back to the defaults named throughout the scheduler's design.
package config

import (
	"time"

	"github.com/BurntSushi/toml"
)

// Config holds every knob the scheduler consumes, with field names and
// defaults matching the external-interfaces enumeration.
type Config struct {
	// DefaultProcessLimit bounds the number of concurrently dispatched
	// entries across an entire transport (per-transport window).
	DefaultProcessLimit int `toml:"default_process_limit"`

	// DefaultDestinationConcurrencyLimit bounds concurrently dispatched
	// entries for a single destination queue (per-queue window).
	DefaultDestinationConcurrencyLimit int `toml:"default_destination_concurrency_limit"`

	// DefaultDestinationRecipientLimit bounds the recipients packed into
	// a single entry (per-entry cap).
	DefaultDestinationRecipientLimit int `toml:"default_destination_recipient_limit"`

	// MessageActiveLimit bounds the number of simultaneously live
	// messages.
	MessageActiveLimit int `toml:"qmgr_message_active_limit"`

	// MessageRecipientLimit is the size of the global recipient slot
	// pool shared (and borrowed) across all messages.
	MessageRecipientLimit int `toml:"qmgr_message_recipient_limit"`

	// MinimalBackoffTime is the shortest retry delay for a throttled
	// destination queue.
	MinimalBackoffTime Duration `toml:"minimal_backoff_time"`

	// MaximalBackoffTime is the longest retry delay for a throttled
	// destination queue.
	MaximalBackoffTime Duration `toml:"maximal_backoff_time"`

	// SustainedFailureWindow and SustainedFailureThreshold parameterize
	// the destination-failure classifier (internal/backoff): more than
	// SustainedFailureThreshold defer/refused reports within
	// SustainedFailureWindow classifies a destination as sustained
	// failure rather than a single flaky delivery.
	SustainedFailureWindow    Duration `toml:"sustained_failure_window"`
	SustainedFailureThreshold int      `toml:"sustained_failure_threshold"`
}

// Duration wraps time.Duration so it can be decoded from a TOML string
// like "30s", matching how operators actually write these files.
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler for BurntSushi/toml's
// string-to-type decoding path.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// Dur returns the underlying time.Duration.
func (d Duration) Dur() time.Duration { return time.Duration(d) }

// Default returns the configuration's documented default values.
func Default() Config {
	return Config{
		DefaultProcessLimit:                50,
		DefaultDestinationConcurrencyLimit: 20,
		DefaultDestinationRecipientLimit:   50,
		MessageActiveLimit:                 20000,
		MessageRecipientLimit:              20000,
		MinimalBackoffTime:                 Duration(5 * time.Minute),
		MaximalBackoffTime:                 Duration(4 * time.Hour),
		SustainedFailureWindow:             Duration(10 * time.Second),
		SustainedFailureThreshold:          3,
	}
}

// Load reads path and decodes it over the documented defaults - fields
// absent from the file keep their default value.
func Load(path string) (Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
