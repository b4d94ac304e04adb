package store

import (
	"crypto/rand"
	"database/sql/driver"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
	"gorm.io/gorm"
)

// ULID is a ulid.ULID stored as its 26-character string form.
type ULID ulid.ULID

// NewULID generates a new ULID.
func NewULID() ULID {
	return ULID(ulid.MustNew(ulid.Timestamp(time.Now()), rand.Reader))
}

// ParseULID parses a ULID string.
func ParseULID(s string) (ULID, error) {
	id, err := ulid.Parse(s)
	if err != nil {
		return ULID{}, fmt.Errorf("invalid ULID: %w", err)
	}
	return ULID(id), nil
}

func (u ULID) String() string {
	return ulid.ULID(u).String()
}

// IsZero returns true if the ULID is zero/empty.
func (u ULID) IsZero() bool {
	return ulid.ULID(u).Compare(ulid.ULID{}) == 0
}

// Value implements driver.Valuer.
func (u ULID) Value() (driver.Value, error) {
	if u.IsZero() {
		return nil, nil
	}
	return u.String(), nil
}

// Scan implements sql.Scanner.
func (u *ULID) Scan(value any) error {
	var s string
	switch v := value.(type) {
	case nil:
	case string:
		s = v
	case []byte:
		s = string(v)
	default:
		return fmt.Errorf("unsupported type for ULID: %T", value)
	}
	if s == "" {
		*u = ULID{}
		return nil
	}
	id, err := ulid.Parse(s)
	if err != nil {
		return fmt.Errorf("scanning ULID: %w", err)
	}
	*u = ULID(id)
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (u ULID) MarshalText() ([]byte, error) {
	if u.IsZero() {
		return []byte{}, nil
	}
	return []byte(u.String()), nil
}

// GormDataType returns the GORM data type for ULID.
func (ULID) GormDataType() string {
	return "varchar(26)"
}

// BaseModel provides the ULID primary key and timestamps.
type BaseModel struct {
	ID        ULID      `gorm:"primarykey;type:varchar(26)" json:"id"`
	CreatedAt time.Time `json:"created_at"`
}

// BeforeCreate generates a ULID if not already set.
func (b *BaseModel) BeforeCreate(*gorm.DB) error {
	if b.ID.IsZero() {
		b.ID = NewULID()
	}
	return nil
}

// BandwidthSample is one bandwidth estimate observed for a host.
type BandwidthSample struct {
	BaseModel
	Host         string    `gorm:"size:255;index:idx_bandwidth_host_time,priority:1;not null" json:"host"`
	Bandwidth    int64     `gorm:"not null" json:"bandwidth"`
	BytesSampled int64     `json:"bytes_sampled"`
	RecordedAt   time.Time `gorm:"index:idx_bandwidth_host_time,priority:2;not null" json:"recorded_at"`
}

// TableName overrides the default table name.
func (BandwidthSample) TableName() string {
	return "bandwidth_samples"
}

// SessionRecord summarizes one finished playback session.
type SessionRecord struct {
	BaseModel
	SessionID      string        `gorm:"size:36;uniqueIndex;not null" json:"session_id"`
	ManifestURI    string        `gorm:"size:2048;not null" json:"manifest_uri"`
	Live           bool          `json:"live"`
	FinalVariantID int           `json:"final_variant_id"`
	Bandwidth      int64         `json:"bandwidth"`
	Switches       int           `json:"switches"`
	BufferingTime  time.Duration `json:"buffering_time"`
	GapsJumped     int64         `json:"gaps_jumped"`
	Stalls         int64         `json:"stalls"`
	Error          string        `gorm:"size:1024" json:"error,omitempty"`
	StartedAt      time.Time     `json:"started_at"`
	EndedAt        time.Time     `json:"ended_at"`
}

// TableName overrides the default table name.
func (SessionRecord) TableName() string {
	return "session_records"
}
