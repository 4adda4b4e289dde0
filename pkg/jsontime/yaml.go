package jsontime

import (
	"fmt"
	"time"
)

// MarshalYAML mirrors the JSON form: Unix milliseconds, 0 for the zero
// time.
func (m Milli) MarshalYAML() (any, error) {
	if time.Time(m).IsZero() {
		return int64(0), nil
	}
	return time.Time(m).UnixMilli(), nil
}

// UnmarshalYAML implements yaml unmarshaling from Unix milliseconds.
func (m *Milli) UnmarshalYAML(unmarshal func(any) error) error {
	var t int64
	if err := unmarshal(&t); err != nil {
		return err
	}
	if t == 0 {
		*m = Milli{}
		return nil
	}
	*m = Milli(time.UnixMilli(t))
	return nil
}

// MarshalYAML mirrors the JSON form: a duration string like "1m30s".
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// UnmarshalYAML implements yaml unmarshaling from a duration string or
// an integer nanosecond count.
func (d *Duration) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err == nil {
		dur, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", s, err)
		}
		*d = Duration(dur)
		return nil
	}
	var n int64
	if err := unmarshal(&n); err != nil {
		return err
	}
	*d = Duration(time.Duration(n))
	return nil
}
