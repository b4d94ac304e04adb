// Package handlers provides the HTTP API handlers for playback sessions.
package handlers

import (
	"errors"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/jmylchreest/abrplay/internal/config"
	"github.com/jmylchreest/abrplay/internal/media"
	"github.com/jmylchreest/abrplay/internal/player"
	"github.com/jmylchreest/abrplay/internal/playerr"
	"github.com/jmylchreest/abrplay/internal/store"
	"github.com/jmylchreest/abrplay/internal/streaming"
)

// SessionInput identifies a session by path.
type SessionInput struct {
	ID string `path:"id" doc:"Session ID"`
}

// SessionOutput wraps a session snapshot.
type SessionOutput struct {
	Body player.Stats
}

// StatusResponse acknowledges a command.
type StatusResponse struct {
	Status string `json:"status"`
}

// StatusOutput wraps StatusResponse.
type StatusOutput struct {
	Body StatusResponse
}

func ok() *StatusOutput {
	return &StatusOutput{Body: StatusResponse{Status: "ok"}}
}

// StreamResponse describes one rendition.
type StreamResponse struct {
	ID        int     `json:"id"`
	Type      string  `json:"type"`
	MimeType  string  `json:"mime_type"`
	Codecs    string  `json:"codecs,omitempty"`
	Bandwidth int64   `json:"bandwidth,omitempty"`
	Width     int     `json:"width,omitempty"`
	Height    int     `json:"height,omitempty"`
	FrameRate float64 `json:"frame_rate,omitempty"`
	Language  string  `json:"language,omitempty"`
	Label     string  `json:"label,omitempty"`
	Kind      string  `json:"kind,omitempty"`
	TrickMode bool    `json:"trick_mode,omitempty"`
}

// StreamFromMedia converts a media stream.
func StreamFromMedia(s *media.Stream) *StreamResponse {
	if s == nil {
		return nil
	}
	return &StreamResponse{
		ID:        s.ID,
		Type:      s.Type.String(),
		MimeType:  s.MimeType,
		Codecs:    s.Codecs,
		Bandwidth: s.Bandwidth,
		Width:     s.Width,
		Height:    s.Height,
		FrameRate: s.FrameRate,
		Language:  s.Language,
		Label:     s.Label,
		Kind:      s.Kind,
		TrickMode: s.TrickMode != nil,
	}
}

// VariantResponse describes one variant.
type VariantResponse struct {
	ID        int             `json:"id"`
	Bandwidth int64           `json:"bandwidth"`
	Language  string          `json:"language,omitempty"`
	Allowed   bool            `json:"allowed"`
	Active    bool            `json:"active"`
	Video     *StreamResponse `json:"video,omitempty"`
	Audio     *StreamResponse `json:"audio,omitempty"`
}

// TracksResponse lists the selectable tracks of a session.
type TracksResponse struct {
	Variants    []VariantResponse `json:"variants"`
	TextStreams []StreamResponse  `json:"text_streams"`
	ActiveText  *int              `json:"active_text,omitempty"`
}

// SessionRecordResponse is a stored session summary.
type SessionRecordResponse struct {
	SessionID      string    `json:"session_id"`
	ManifestURI    string    `json:"manifest_uri"`
	Live           bool      `json:"live"`
	FinalVariantID int       `json:"final_variant_id"`
	Bandwidth      int64     `json:"bandwidth"`
	Switches       int       `json:"switches"`
	BufferingTime  string    `json:"buffering_time"`
	GapsJumped     int64     `json:"gaps_jumped"`
	Stalls         int64     `json:"stalls"`
	Error          string    `json:"error,omitempty"`
	StartedAt      time.Time `json:"started_at"`
	EndedAt        time.Time `json:"ended_at"`
}

// SessionRecordFromStore converts a stored record.
func SessionRecordFromStore(r *store.SessionRecord) SessionRecordResponse {
	return SessionRecordResponse{
		SessionID:      r.SessionID,
		ManifestURI:    r.ManifestURI,
		Live:           r.Live,
		FinalVariantID: r.FinalVariantID,
		Bandwidth:      r.Bandwidth,
		Switches:       r.Switches,
		BufferingTime:  r.BufferingTime.String(),
		GapsJumped:     r.GapsJumped,
		Stalls:         r.Stalls,
		Error:          r.Error,
		StartedAt:      r.StartedAt,
		EndedAt:        r.EndedAt,
	}
}

// BandwidthSampleResponse is one stored estimate.
type BandwidthSampleResponse struct {
	Bandwidth    int64     `json:"bandwidth"`
	BytesSampled int64     `json:"bytes_sampled"`
	RecordedAt   time.Time `json:"recorded_at"`
}

// EventResponse is a streaming event as sent on the event stream.
type EventResponse struct {
	Type        string    `json:"type"`
	Time        time.Time `json:"time"`
	ContentType string    `json:"content_type,omitempty"`
	Buffering   bool      `json:"buffering,omitempty"`
	VariantID   *int      `json:"variant_id,omitempty"`
	From        float64   `json:"from,omitempty"`
	To          float64   `json:"to,omitempty"`
	Error       string    `json:"error,omitempty"`
	Code        int       `json:"code,omitempty"`
	Severity    string    `json:"severity,omitempty"`
}

// EventFromStreaming converts an engine event.
func EventFromStreaming(ev streaming.Event) EventResponse {
	out := EventResponse{
		Type:        string(ev.Type),
		Time:        ev.Time,
		ContentType: ev.ContentType.String(),
		Buffering:   ev.Buffering,
		From:        ev.From,
		To:          ev.To,
	}
	if ev.Variant != nil {
		id := ev.Variant.ID
		out.VariantID = &id
	}
	if ev.Err != nil {
		out.Error = ev.Err.Error()
		if pe, ok := playerr.As(ev.Err); ok {
			out.Code = int(pe.Code)
			out.Severity = pe.Severity.String()
		}
	}
	return out
}

// toHTTPError maps domain errors onto API errors.
func toHTTPError(msg string, err error) error {
	switch {
	case errors.Is(err, player.ErrSessionNotFound),
		errors.Is(err, player.ErrUnknownVariant),
		errors.Is(err, player.ErrUnknownTextStream),
		errors.Is(err, streaming.ErrUnknownStream),
		errors.Is(err, store.ErrNotFound):
		return huma.Error404NotFound(msg, err)
	case errors.Is(err, config.ErrUnknownKey),
		errors.Is(err, streaming.ErrInvalidPlaybackRate):
		return huma.Error400BadRequest(msg, err)
	case errors.Is(err, streaming.ErrNotStarted),
		errors.Is(err, player.ErrClosed):
		return huma.Error409Conflict(msg, err)
	}
	if pe, ok := playerr.As(err); ok {
		switch pe.Category {
		case playerr.CategoryNetwork:
			return huma.Error502BadGateway(msg, err)
		case playerr.CategoryManifest, playerr.CategoryMedia:
			return huma.Error422UnprocessableEntity(msg, err)
		case playerr.CategoryStreaming:
			if pe.Code == playerr.CodeEngineDestroyed {
				return huma.Error409Conflict(msg, err)
			}
		}
	}
	return huma.Error500InternalServerError(msg, err)
}
