package manifest

import (
	"encoding/xml"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/jmylchreest/abrplay/pkg/duration"
)

// mpdDocument is the root element of a Media Presentation Description.
type mpdDocument struct {
	XMLName                    xml.Name    `xml:"MPD"`
	Type                       string      `xml:"type,attr"`
	Profiles                   string      `xml:"profiles,attr"`
	MediaPresentationDuration  string      `xml:"mediaPresentationDuration,attr"`
	MinimumUpdatePeriod        string      `xml:"minimumUpdatePeriod,attr"`
	TimeShiftBufferDepth       string      `xml:"timeShiftBufferDepth,attr"`
	SuggestedPresentationDelay string      `xml:"suggestedPresentationDelay,attr"`
	AvailabilityStartTime      string      `xml:"availabilityStartTime,attr"`
	PublishTime                string      `xml:"publishTime,attr"`
	MaxSegmentDuration         string      `xml:"maxSegmentDuration,attr"`
	MinBufferTime              string      `xml:"minBufferTime,attr"`
	Location                   string      `xml:"Location"`
	BaseURLs                   []string    `xml:"BaseURL"`
	Periods                    []mpdPeriod `xml:"Period"`
}

func (m *mpdDocument) dynamic() bool {
	return m.Type == "dynamic"
}

type mpdPeriod struct {
	ID              string              `xml:"id,attr"`
	Start           string              `xml:"start,attr"`
	Duration        string              `xml:"duration,attr"`
	BaseURLs        []string            `xml:"BaseURL"`
	SegmentTemplate *mpdSegmentTemplate `xml:"SegmentTemplate"`
	SegmentList     *mpdSegmentList     `xml:"SegmentList"`
	SegmentBase     *mpdSegmentBase     `xml:"SegmentBase"`
	AdaptationSets  []mpdAdaptationSet  `xml:"AdaptationSet"`
}

type mpdDescriptor struct {
	SchemeIDURI string `xml:"schemeIdUri,attr"`
	Value       string `xml:"value,attr"`
}

type mpdAdaptationSet struct {
	ID                  string              `xml:"id,attr"`
	ContentType         string              `xml:"contentType,attr"`
	Lang                string              `xml:"lang,attr"`
	MimeType            string              `xml:"mimeType,attr"`
	Codecs              string              `xml:"codecs,attr"`
	Width               int                 `xml:"width,attr"`
	Height              int                 `xml:"height,attr"`
	FrameRate           string              `xml:"frameRate,attr"`
	Label               string              `xml:"label,attr"`
	Roles               []mpdDescriptor     `xml:"Role"`
	EssentialProperties []mpdDescriptor     `xml:"EssentialProperty"`
	BaseURLs            []string            `xml:"BaseURL"`
	SegmentTemplate     *mpdSegmentTemplate `xml:"SegmentTemplate"`
	SegmentList         *mpdSegmentList     `xml:"SegmentList"`
	SegmentBase         *mpdSegmentBase     `xml:"SegmentBase"`
	Representations     []mpdRepresentation `xml:"Representation"`
}

type mpdRepresentation struct {
	ID              string              `xml:"id,attr"`
	Bandwidth       int64               `xml:"bandwidth,attr"`
	Codecs          string              `xml:"codecs,attr"`
	MimeType        string              `xml:"mimeType,attr"`
	Width           int                 `xml:"width,attr"`
	Height          int                 `xml:"height,attr"`
	FrameRate       string              `xml:"frameRate,attr"`
	BaseURLs        []string            `xml:"BaseURL"`
	SegmentTemplate *mpdSegmentTemplate `xml:"SegmentTemplate"`
	SegmentList     *mpdSegmentList     `xml:"SegmentList"`
	SegmentBase     *mpdSegmentBase     `xml:"SegmentBase"`
}

// mpdSegmentTemplate fields are pointers so that inheritance can tell an
// absent attribute from an explicit zero.
type mpdSegmentTemplate struct {
	Timescale              *uint64             `xml:"timescale,attr"`
	Duration               *uint64             `xml:"duration,attr"`
	StartNumber            *uint64             `xml:"startNumber,attr"`
	PresentationTimeOffset *uint64             `xml:"presentationTimeOffset,attr"`
	Initialization         string              `xml:"initialization,attr"`
	Media                  string              `xml:"media,attr"`
	Timeline               *mpdSegmentTimeline `xml:"SegmentTimeline"`
}

type mpdSegmentTimeline struct {
	S []mpdS `xml:"S"`
}

// mpdS is one SegmentTimeline entry; R of -1 repeats until the next entry
// or the end of the period.
type mpdS struct {
	T *uint64 `xml:"t,attr"`
	D uint64  `xml:"d,attr"`
	R int64   `xml:"r,attr"`
}

type mpdURL struct {
	SourceURL string `xml:"sourceURL,attr"`
	Range     string `xml:"range,attr"`
}

type mpdSegmentURL struct {
	Media      string `xml:"media,attr"`
	MediaRange string `xml:"mediaRange,attr"`
}

type mpdSegmentList struct {
	Timescale              *uint64             `xml:"timescale,attr"`
	Duration               *uint64             `xml:"duration,attr"`
	StartNumber            *uint64             `xml:"startNumber,attr"`
	PresentationTimeOffset *uint64             `xml:"presentationTimeOffset,attr"`
	Initialization         *mpdURL             `xml:"Initialization"`
	Timeline               *mpdSegmentTimeline `xml:"SegmentTimeline"`
	SegmentURLs            []mpdSegmentURL     `xml:"SegmentURL"`
}

type mpdSegmentBase struct {
	Timescale              *uint64 `xml:"timescale,attr"`
	PresentationTimeOffset *uint64 `xml:"presentationTimeOffset,attr"`
	IndexRange             string  `xml:"indexRange,attr"`
	Initialization         *mpdURL `xml:"Initialization"`
}

func parseMPD(data []byte) (*mpdDocument, error) {
	var doc mpdDocument
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	if len(doc.Periods) == 0 {
		return nil, errors.New("MPD has no periods")
	}
	return &doc, nil
}

// mergeTemplates overlays child on parent; either may be nil.
func mergeTemplates(parent, child *mpdSegmentTemplate) *mpdSegmentTemplate {
	switch {
	case parent == nil:
		return child
	case child == nil:
		return parent
	}
	out := *parent
	if child.Timescale != nil {
		out.Timescale = child.Timescale
	}
	if child.Duration != nil {
		out.Duration = child.Duration
	}
	if child.StartNumber != nil {
		out.StartNumber = child.StartNumber
	}
	if child.PresentationTimeOffset != nil {
		out.PresentationTimeOffset = child.PresentationTimeOffset
	}
	if child.Initialization != "" {
		out.Initialization = child.Initialization
	}
	if child.Media != "" {
		out.Media = child.Media
	}
	if child.Timeline != nil {
		out.Timeline = child.Timeline
	}
	return &out
}

func mergeLists(parent, child *mpdSegmentList) *mpdSegmentList {
	switch {
	case parent == nil:
		return child
	case child == nil:
		return parent
	}
	out := *parent
	if child.Timescale != nil {
		out.Timescale = child.Timescale
	}
	if child.Duration != nil {
		out.Duration = child.Duration
	}
	if child.StartNumber != nil {
		out.StartNumber = child.StartNumber
	}
	if child.PresentationTimeOffset != nil {
		out.PresentationTimeOffset = child.PresentationTimeOffset
	}
	if child.Initialization != nil {
		out.Initialization = child.Initialization
	}
	if child.Timeline != nil {
		out.Timeline = child.Timeline
	}
	if len(child.SegmentURLs) > 0 {
		out.SegmentURLs = child.SegmentURLs
	}
	return &out
}

func mergeBases(parent, child *mpdSegmentBase) *mpdSegmentBase {
	switch {
	case parent == nil:
		return child
	case child == nil:
		return parent
	}
	out := *parent
	if child.Timescale != nil {
		out.Timescale = child.Timescale
	}
	if child.PresentationTimeOffset != nil {
		out.PresentationTimeOffset = child.PresentationTimeOffset
	}
	if child.IndexRange != "" {
		out.IndexRange = child.IndexRange
	}
	if child.Initialization != nil {
		out.Initialization = child.Initialization
	}
	return &out
}

func valueOr(p *uint64, def uint64) uint64 {
	if p == nil {
		return def
	}
	return *p
}

// secondsAttr parses an optional duration attribute into seconds.
func secondsAttr(s string) (float64, bool, error) {
	if strings.TrimSpace(s) == "" {
		return 0, false, nil
	}
	d, err := duration.ParseISO8601(s)
	if err != nil {
		return 0, false, err
	}
	return d.Seconds(), true, nil
}

// parseByteRange parses "first-last".
func parseByteRange(s string) (start, end int64, err error) {
	a, b, ok := strings.Cut(strings.TrimSpace(s), "-")
	if !ok {
		return 0, 0, fmt.Errorf("invalid byte range %q", s)
	}
	if start, err = strconv.ParseInt(a, 10, 64); err != nil {
		return 0, 0, fmt.Errorf("invalid byte range %q: %w", s, err)
	}
	if b == "" {
		return start, -1, nil
	}
	if end, err = strconv.ParseInt(b, 10, 64); err != nil {
		return 0, 0, fmt.Errorf("invalid byte range %q: %w", s, err)
	}
	if end < start {
		return 0, 0, fmt.Errorf("invalid byte range %q", s)
	}
	return start, end, nil
}

// parseFrameRate accepts "25" and "30000/1001".
func parseFrameRate(s string) float64 {
	num, den, ok := strings.Cut(s, "/")
	n, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0
	}
	if !ok {
		return n
	}
	d, err := strconv.ParseFloat(den, 64)
	if err != nil || d == 0 {
		return 0
	}
	return n / d
}

var templateIdentifier = regexp.MustCompile(`\$(RepresentationID|Number|Time|Bandwidth)(%0(\d+)d)?\$|\$\$`)

// fillTemplate expands $RepresentationID$, $Number$, $Time$, $Bandwidth$
// (with optional %0Nd width) and the $$ escape.
func fillTemplate(tmpl, repID string, number, t uint64, bandwidth int64) string {
	return templateIdentifier.ReplaceAllStringFunc(tmpl, func(match string) string {
		if match == "$$" {
			return "$"
		}
		m := templateIdentifier.FindStringSubmatch(match)
		var value string
		switch m[1] {
		case "RepresentationID":
			return repID
		case "Number":
			value = strconv.FormatUint(number, 10)
		case "Time":
			value = strconv.FormatUint(t, 10)
		case "Bandwidth":
			value = strconv.FormatInt(bandwidth, 10)
		}
		if m[3] != "" {
			width, err := strconv.Atoi(m[3])
			if err == nil && len(value) < width {
				value = strings.Repeat("0", width-len(value)) + value
			}
		}
		return value
	})
}
