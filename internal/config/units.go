package config

import (
	"encoding/json"

	"github.com/jmylchreest/abrplay/pkg/units"
)

// ByteSize is a size value that supports human-readable parsing such as
// "64MB" or "512KB". A bare number is a byte count.
type ByteSize int64

// UnmarshalText implements encoding.TextUnmarshaler for YAML/Viper support.
func (b *ByteSize) UnmarshalText(text []byte) error {
	parsed, err := units.ParseSize(string(text))
	if err != nil {
		return err
	}
	*b = ByteSize(parsed)
	return nil
}

// UnmarshalJSON accepts either a string or a raw byte count.
func (b *ByteSize) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		var n int64
		if err := json.Unmarshal(data, &n); err != nil {
			return err
		}
		*b = ByteSize(n)
		return nil
	}
	return b.UnmarshalText([]byte(s))
}

// MarshalText implements encoding.TextMarshaler.
func (b ByteSize) MarshalText() ([]byte, error) {
	return []byte(b.String()), nil
}

// Bytes returns the size in bytes.
func (b ByteSize) Bytes() int64 {
	return int64(b)
}

func (b ByteSize) String() string {
	return units.FormatSize(units.Size(b))
}

// Bitrate is a bit-per-second value that supports human-readable parsing
// such as "2.5Mbps" or "800k". A bare number is bits per second.
type Bitrate int64

// UnmarshalText implements encoding.TextUnmarshaler for YAML/Viper support.
func (r *Bitrate) UnmarshalText(text []byte) error {
	parsed, err := units.ParseRate(string(text))
	if err != nil {
		return err
	}
	*r = Bitrate(parsed)
	return nil
}

// UnmarshalJSON accepts either a string or a raw bit rate.
func (r *Bitrate) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		var n int64
		if err := json.Unmarshal(data, &n); err != nil {
			return err
		}
		*r = Bitrate(n)
		return nil
	}
	return r.UnmarshalText([]byte(s))
}

// MarshalText implements encoding.TextMarshaler.
func (r Bitrate) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// BitsPerSecond returns the raw rate.
func (r Bitrate) BitsPerSecond() int64 {
	return int64(r)
}

func (r Bitrate) String() string {
	return units.FormatRate(units.Rate(r))
}
