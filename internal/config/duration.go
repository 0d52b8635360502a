package config

import (
	"encoding/json"
	"fmt"
	"time"
)

// Duration is a custom time.Duration type that reads and writes human-readable strings such as "30s".
type Duration time.Duration

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// MarshalText implements encoding.TextMarshaler for Duration.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// String returns the shortest whole-unit representation of the duration, e.g. "5m" rather than "5m0s".
func (d Duration) String() string {
	duration := time.Duration(d)
	if duration == 0 {
		return "0s"
	}

	units := []struct {
		unit   time.Duration
		suffix string
	}{
		{time.Hour, "h"},
		{time.Minute, "m"},
		{time.Second, "s"},
		{time.Millisecond, "ms"},
	}

	for _, u := range units {
		if duration%u.unit == 0 {
			return fmt.Sprintf("%d%s", duration/u.unit, u.suffix)
		}
	}

	return duration.String()
}

// UnmarshalText implements encoding.TextUnmarshaler for Duration.
func (d *Duration) UnmarshalText(text []byte) error {
	duration, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(duration)
	return nil
}

// UnmarshalJSON accepts a duration string or a number of seconds.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		return d.UnmarshalText([]byte(s))
	}

	var secs float64
	if err := json.Unmarshal(data, &secs); err != nil {
		return fmt.Errorf("duration must be a string or a number of seconds: %w", err)
	}
	*d = Duration(secs * float64(time.Second))

	return nil
}
