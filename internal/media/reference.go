package media

import (
	"errors"
	"fmt"
	"math"
	"slices"
)

var (
	// ErrInvalidTimeRange is returned when a reference does not satisfy start < end.
	ErrInvalidTimeRange = errors.New("segment start must be before its end")

	// ErrInvalidByteRange is returned for negative or inverted byte ranges.
	ErrInvalidByteRange = errors.New("invalid byte range")

	// ErrNoURIs is returned when a reference has no candidate location.
	ErrNoURIs = errors.New("reference has no URIs")
)

// InitSegmentReference locates a stream's initialization data. Many
// SegmentReferences share one InitSegmentReference.
type InitSegmentReference struct {
	uris      []string
	startByte int64
	endByte   int64
	metadata  []byte
}

// NewInitSegmentReference builds an init reference. endByte < 0 means the
// range is open ended.
func NewInitSegmentReference(uris []string, startByte, endByte int64) (*InitSegmentReference, error) {
	if len(uris) == 0 {
		return nil, ErrNoURIs
	}
	if err := checkByteRange(startByte, endByte); err != nil {
		return nil, err
	}
	return &InitSegmentReference{
		uris:      slices.Clone(uris),
		startByte: startByte,
		endByte:   endByte,
	}, nil
}

// NewInitSegmentReferenceWithData builds an init reference whose payload is
// already known, so no fetch is required.
func NewInitSegmentReferenceWithData(data []byte) *InitSegmentReference {
	return &InitSegmentReference{endByte: -1, metadata: slices.Clone(data)}
}

// URIs returns a copy of the candidate locations.
func (r *InitSegmentReference) URIs() []string { return slices.Clone(r.uris) }

// StartByte of the range.
func (r *InitSegmentReference) StartByte() int64 { return r.startByte }

// EndByte of the range, negative when open.
func (r *InitSegmentReference) EndByte() int64 { return r.endByte }

// Metadata returns pre-supplied initialization bytes, nil when they must be fetched.
func (r *InitSegmentReference) Metadata() []byte { return r.metadata }

// Equal reports whether two init references locate the same data.
func (r *InitSegmentReference) Equal(o *InitSegmentReference) bool {
	if r == o {
		return true
	}
	if r == nil || o == nil {
		return false
	}
	return slices.Equal(r.uris, o.uris) && r.startByte == o.startByte &&
		r.endByte == o.endByte && slices.Equal(r.metadata, o.metadata)
}

// SegmentReference locates one media segment covering [StartTime, EndTime)
// in presentation time (seconds). References are immutable.
type SegmentReference struct {
	startTime         float64
	endTime           float64
	uris              []string
	startByte         int64
	endByte           int64
	init              *InitSegmentReference
	timestampOffset   float64
	appendWindowStart float64
	appendWindowEnd   float64
}

// SegmentOptions carries the optional parts of a SegmentReference.
type SegmentOptions struct {
	StartByte         int64
	EndByte           int64 // negative means open ended; zero value is treated as open when StartByte is 0
	Init              *InitSegmentReference
	TimestampOffset   float64
	AppendWindowStart float64
	AppendWindowEnd   float64 // zero means unbounded
}

// NewSegmentReference validates and builds a reference.
func NewSegmentReference(start, end float64, uris []string, opts SegmentOptions) (*SegmentReference, error) {
	if math.IsNaN(start) || math.IsNaN(end) || !(start < end) {
		return nil, fmt.Errorf("%w: [%g, %g)", ErrInvalidTimeRange, start, end)
	}
	if len(uris) == 0 {
		return nil, ErrNoURIs
	}
	endByte := opts.EndByte
	if endByte == 0 && opts.StartByte == 0 {
		endByte = -1
	}
	if err := checkByteRange(opts.StartByte, endByte); err != nil {
		return nil, err
	}
	windowEnd := opts.AppendWindowEnd
	if windowEnd == 0 {
		windowEnd = math.Inf(1)
	}
	return &SegmentReference{
		startTime:         start,
		endTime:           end,
		uris:              slices.Clone(uris),
		startByte:         opts.StartByte,
		endByte:           endByte,
		init:              opts.Init,
		timestampOffset:   opts.TimestampOffset,
		appendWindowStart: opts.AppendWindowStart,
		appendWindowEnd:   windowEnd,
	}, nil
}

// MustSegmentReference is NewSegmentReference for statically known input.
func MustSegmentReference(start, end float64, uris []string, opts SegmentOptions) *SegmentReference {
	ref, err := NewSegmentReference(start, end, uris, opts)
	if err != nil {
		panic(err)
	}
	return ref
}

func checkByteRange(start, end int64) error {
	if start < 0 {
		return fmt.Errorf("%w: start %d", ErrInvalidByteRange, start)
	}
	if end >= 0 && end < start {
		return fmt.Errorf("%w: %d-%d", ErrInvalidByteRange, start, end)
	}
	return nil
}

func (r *SegmentReference) StartTime() float64 { return r.startTime }
func (r *SegmentReference) EndTime() float64   { return r.endTime }
func (r *SegmentReference) Duration() float64  { return r.endTime - r.startTime }
func (r *SegmentReference) URIs() []string     { return slices.Clone(r.uris) }
func (r *SegmentReference) StartByte() int64   { return r.startByte }

// EndByte of the range, negative when open ended.
func (r *SegmentReference) EndByte() int64 { return r.endByte }

// Init returns the shared init reference, nil for self-initializing segments.
func (r *SegmentReference) Init() *InitSegmentReference { return r.init }

// TimestampOffset maps media timestamps to presentation time.
func (r *SegmentReference) TimestampOffset() float64 { return r.timestampOffset }

// AppendWindow returns the window samples are clipped to.
func (r *SegmentReference) AppendWindow() (start, end float64) {
	return r.appendWindowStart, r.appendWindowEnd
}

// Contains reports whether t lies in [start, end).
func (r *SegmentReference) Contains(t float64) bool {
	return t >= r.startTime && t < r.endTime
}

// WithTimestampOffset returns a copy with a different timestamp offset.
func (r *SegmentReference) WithTimestampOffset(offset float64) *SegmentReference {
	cp := *r
	cp.timestampOffset = offset
	return &cp
}

func (r *SegmentReference) String() string {
	uri := ""
	if len(r.uris) > 0 {
		uri = r.uris[0]
	}
	return fmt.Sprintf("[%.3f, %.3f) %s", r.startTime, r.endTime, uri)
}
