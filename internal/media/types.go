// Package media holds the presentation model shared by the manifest
// parsers, the streaming engine and the adaptation logic.
package media

import (
	"strings"
)

// ContentType identifies an elementary stream kind.
type ContentType string

const (
	ContentTypeAudio ContentType = "audio"
	ContentTypeVideo ContentType = "video"
	ContentTypeText  ContentType = "text"
)

// ContentTypes lists the types in the order loops are started.
var ContentTypes = []ContentType{ContentTypeVideo, ContentTypeAudio, ContentTypeText}

func (c ContentType) String() string {
	return string(c)
}

// Stream is one rendition of one content type.
type Stream struct {
	ID        int
	Type      ContentType
	MimeType  string
	Codecs    string
	Bandwidth int64
	Width     int
	Height    int
	FrameRate float64
	Language  string
	Label     string
	Kind      string

	// Index is owned by the manifest parser, which merges updates into it.
	Index *SegmentIndex

	// TrickMode is an optional I-frame rendition used while fast-forwarding.
	TrickMode *Stream
}

// Pixels returns Width*Height.
func (s *Stream) Pixels() int {
	return s.Width * s.Height
}

// HasAudioCodec reports whether a muxed stream advertises an audio codec.
func (s *Stream) HasAudioCodec() bool {
	for c := range strings.SplitSeq(s.Codecs, ",") {
		c = strings.TrimSpace(c)
		if strings.HasPrefix(c, "mp4a") || strings.HasPrefix(c, "ac-3") ||
			strings.HasPrefix(c, "ec-3") || strings.HasPrefix(c, "opus") {
			return true
		}
	}
	return false
}

// Variant pairs at most one audio and at most one video stream.
type Variant struct {
	ID        int
	Bandwidth int64
	Audio     *Stream
	Video     *Stream
	Language  string

	// Allowed is cleared by callers that need to take a variant out of
	// rotation (for example after an unrecoverable key-system failure).
	Allowed bool
}

// Width of the video stream, 0 for audio-only variants.
func (v *Variant) Width() int {
	if v.Video == nil {
		return 0
	}
	return v.Video.Width
}

// Height of the video stream, 0 for audio-only variants.
func (v *Variant) Height() int {
	if v.Video == nil {
		return 0
	}
	return v.Video.Height
}

// FrameRate of the video stream, 0 when unknown.
func (v *Variant) FrameRate() float64 {
	if v.Video == nil {
		return 0
	}
	return v.Video.FrameRate
}

// Pixels of the video stream.
func (v *Variant) Pixels() int {
	return v.Width() * v.Height()
}

// Stream returns the variant's stream for ct, or nil.
func (v *Variant) Stream(ct ContentType) *Stream {
	switch ct {
	case ContentTypeAudio:
		return v.Audio
	case ContentTypeVideo:
		return v.Video
	default:
		return nil
	}
}

// Streams returns the non-nil streams, video first.
func (v *Variant) Streams() []*Stream {
	out := make([]*Stream, 0, 2)
	if v.Video != nil {
		out = append(out, v.Video)
	}
	if v.Audio != nil {
		out = append(out, v.Audio)
	}
	return out
}

// Manifest is the parsed presentation.
type Manifest struct {
	URI         string
	Timeline    *PresentationTimeline
	Variants    []*Variant
	TextStreams []*Stream

	// MinBufferTime is the minimum buffer the manifest asks for, 0 if absent.
	MinBufferTime float64
}

// AllowedVariants returns the variants still in rotation.
func (m *Manifest) AllowedVariants() []*Variant {
	out := make([]*Variant, 0, len(m.Variants))
	for _, v := range m.Variants {
		if v.Allowed {
			out = append(out, v)
		}
	}
	return out
}

// VariantByID finds a variant by ID.
func (m *Manifest) VariantByID(id int) *Variant {
	for _, v := range m.Variants {
		if v.ID == id {
			return v
		}
	}
	return nil
}

// TextStreamByID finds a text stream by ID.
func (m *Manifest) TextStreamByID(id int) *Stream {
	for _, s := range m.TextStreams {
		if s.ID == id {
			return s
		}
	}
	return nil
}

// Release drops every segment index the manifest owns.
func (m *Manifest) Release() {
	seen := make(map[*SegmentIndex]bool)
	release := func(s *Stream) {
		for ; s != nil; s = s.TrickMode {
			if s.Index != nil && !seen[s.Index] {
				seen[s.Index] = true
				s.Index.Release()
			}
		}
	}
	for _, v := range m.Variants {
		release(v.Audio)
		release(v.Video)
	}
	for _, s := range m.TextStreams {
		release(s)
	}
}
