package store

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"gorm.io/gorm"
)

// ErrNotFound is returned when no matching record exists.
var ErrNotFound = errors.New("record not found")

// historyWindow is how many recent samples seed an estimate.
const historyWindow = 5

// BandwidthHistory stores bandwidth estimates per host.
type BandwidthHistory struct {
	db  *gorm.DB
	now func() time.Time
}

// NewBandwidthHistory creates a BandwidthHistory.
func NewBandwidthHistory(db *DB) *BandwidthHistory {
	return &BandwidthHistory{db: db.DB, now: time.Now}
}

// HostOf returns the host a manifest URI is served from, the key history
// is stored under.
func HostOf(uri string) string {
	u, err := url.Parse(uri)
	if err != nil || u.Host == "" {
		return uri
	}
	return strings.ToLower(u.Host)
}

// Record stores an estimate for host.
func (h *BandwidthHistory) Record(ctx context.Context, host string, bandwidth, bytesSampled int64) error {
	if bandwidth <= 0 {
		return nil
	}
	sample := &BandwidthSample{
		Host:         host,
		Bandwidth:    bandwidth,
		BytesSampled: bytesSampled,
		RecordedAt:   h.now(),
	}
	if err := h.db.WithContext(ctx).Create(sample).Error; err != nil {
		return fmt.Errorf("recording bandwidth sample: %w", err)
	}
	return nil
}

// Estimate returns the byte-weighted average of the most recent samples for
// host newer than maxAge. ErrNotFound means there is no usable history.
func (h *BandwidthHistory) Estimate(ctx context.Context, host string, maxAge time.Duration) (int64, error) {
	var samples []BandwidthSample
	q := h.db.WithContext(ctx).Where("host = ?", host)
	if maxAge > 0 {
		q = q.Where("recorded_at >= ?", h.now().Add(-maxAge))
	}
	if err := q.Order("recorded_at DESC").Limit(historyWindow).Find(&samples).Error; err != nil {
		return 0, fmt.Errorf("loading bandwidth history: %w", err)
	}
	if len(samples) == 0 {
		return 0, ErrNotFound
	}

	var weighted, weights float64
	for _, s := range samples {
		w := float64(max(s.BytesSampled, 1))
		weighted += float64(s.Bandwidth) * w
		weights += w
	}
	return int64(weighted / weights), nil
}

// Samples returns the most recent samples for host, newest first.
func (h *BandwidthHistory) Samples(ctx context.Context, host string, limit int) ([]BandwidthSample, error) {
	var samples []BandwidthSample
	if limit <= 0 {
		limit = 100
	}
	err := h.db.WithContext(ctx).Where("host = ?", host).
		Order("recorded_at DESC").Limit(limit).Find(&samples).Error
	if err != nil {
		return nil, fmt.Errorf("listing bandwidth samples: %w", err)
	}
	return samples, nil
}

// Prune deletes samples older than before and returns how many went.
func (h *BandwidthHistory) Prune(ctx context.Context, before time.Time) (int64, error) {
	res := h.db.WithContext(ctx).Where("recorded_at < ?", before).Delete(&BandwidthSample{})
	if res.Error != nil {
		return 0, fmt.Errorf("pruning bandwidth samples: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// Sessions stores session summaries.
type Sessions struct {
	db *gorm.DB
}

// NewSessions creates a Sessions repository.
func NewSessions(db *DB) *Sessions {
	return &Sessions{db: db.DB}
}

// Save inserts or replaces the record for rec.SessionID.
func (s *Sessions) Save(ctx context.Context, rec *SessionRecord) error {
	var existing SessionRecord
	err := s.db.WithContext(ctx).Where("session_id = ?", rec.SessionID).First(&existing).Error
	switch {
	case err == nil:
		rec.ID = existing.ID
		rec.CreatedAt = existing.CreatedAt
		if err := s.db.WithContext(ctx).Save(rec).Error; err != nil {
			return fmt.Errorf("updating session record: %w", err)
		}
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		if err := s.db.WithContext(ctx).Create(rec).Error; err != nil {
			return fmt.Errorf("creating session record: %w", err)
		}
		return nil
	default:
		return fmt.Errorf("looking up session record: %w", err)
	}
}

// Get returns the record for a session ID.
func (s *Sessions) Get(ctx context.Context, sessionID string) (*SessionRecord, error) {
	var rec SessionRecord
	err := s.db.WithContext(ctx).Where("session_id = ?", sessionID).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting session record: %w", err)
	}
	return &rec, nil
}

// List returns the most recent sessions, newest first.
func (s *Sessions) List(ctx context.Context, limit int) ([]SessionRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	var recs []SessionRecord
	if err := s.db.WithContext(ctx).Order("started_at DESC").Limit(limit).Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("listing session records: %w", err)
	}
	return recs, nil
}
