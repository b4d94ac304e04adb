package sink

import (
	"math"
	"sync"
	"time"

	"github.com/jmylchreest/abrplay/internal/media"
)

// BufferedSource reports the ranges a playhead may play through.
type BufferedSource interface {
	BufferedAll() []media.TimeRange
}

// VirtualPlayhead advances presentation time with the wall clock scaled by
// the playback rate. It never moves past the buffered range it sits in and
// holds still while buffering or paused.
type VirtualPlayhead struct {
	mu        sync.Mutex
	source    BufferedSource
	now       func() time.Time
	tolerance float64

	position  float64
	anchor    time.Time
	rate      float64
	paused    bool
	buffering bool
}

// NewVirtualPlayhead starts a playhead at start, paused until Play.
func NewVirtualPlayhead(source BufferedSource, start float64) *VirtualPlayhead {
	return &VirtualPlayhead{
		source:    source,
		now:       time.Now,
		tolerance: DefaultMergeTolerance,
		position:  start,
		rate:      1,
		paused:    true,
	}
}

// SetClock replaces the wall clock.
func (p *VirtualPlayhead) SetClock(now func() time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.advanceLocked()
	p.now = now
	p.anchor = now()
}

func (p *VirtualPlayhead) moving() bool {
	return !p.paused && !p.buffering && p.rate != 0
}

// advanceLocked folds elapsed wall time into position.
func (p *VirtualPlayhead) advanceLocked() {
	now := p.now()
	if !p.moving() {
		p.anchor = now
		return
	}
	target := p.position + now.Sub(p.anchor).Seconds()*p.rate
	p.anchor = now
	if p.source == nil {
		p.position = math.Max(target, 0)
		return
	}

	ranges := p.source.BufferedAll()
	var current *media.TimeRange
	for i := range ranges {
		if ranges[i].Contains(p.position, p.tolerance) {
			current = &ranges[i]
			break
		}
	}
	if current == nil {
		return
	}
	p.position = math.Min(math.Max(target, current.Start), current.End)
}

// Time returns the current presentation time.
func (p *VirtualPlayhead) Time() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.advanceLocked()
	return p.position
}

// Jump moves the playhead, used for seeks and gap jumps.
func (p *VirtualPlayhead) Jump(t float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.position = t
	p.anchor = p.now()
}

// SetRate changes the playback rate. Negative rates rewind.
func (p *VirtualPlayhead) SetRate(rate float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.advanceLocked()
	p.rate = rate
}

// Rate returns the playback rate.
func (p *VirtualPlayhead) Rate() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rate
}

// SetBuffering freezes or releases the playhead.
func (p *VirtualPlayhead) SetBuffering(buffering bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.advanceLocked()
	p.buffering = buffering
}

// Buffering reports whether the playhead is held for buffering.
func (p *VirtualPlayhead) Buffering() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.buffering
}

// Play starts advancing.
func (p *VirtualPlayhead) Play() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.advanceLocked()
	p.paused = false
}

// Pause stops advancing.
func (p *VirtualPlayhead) Pause() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.advanceLocked()
	p.paused = true
}

// Paused reports whether playback is paused.
func (p *VirtualPlayhead) Paused() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.paused
}
