package handlers

import (
	"context"
	"math"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/sse"

	"github.com/jmylchreest/abrplay/internal/observability"
	"github.com/jmylchreest/abrplay/internal/player"
)

// heartbeatInterval keeps idle event streams open through proxies.
const heartbeatInterval = 30 * time.Second

// SessionHandler controls running playback sessions.
type SessionHandler struct {
	pool *player.Pool
}

// NewSessionHandler creates a session handler.
func NewSessionHandler(pool *player.Pool) *SessionHandler {
	return &SessionHandler{pool: pool}
}

// Register registers the session routes with the API.
func (h *SessionHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID:   "createSession",
		Method:        http.MethodPost,
		Path:          "/api/v1/sessions",
		Summary:       "Start a session",
		Description:   "Loads a manifest and starts streaming it",
		Tags:          []string{"Sessions"},
		DefaultStatus: http.StatusCreated,
	}, h.Create)

	huma.Register(api, huma.Operation{
		OperationID: "listSessions",
		Method:      http.MethodGet,
		Path:        "/api/v1/sessions",
		Summary:     "List sessions",
		Description: "Returns a snapshot of every running session",
		Tags:        []string{"Sessions"},
	}, h.List)

	huma.Register(api, huma.Operation{
		OperationID: "getSession",
		Method:      http.MethodGet,
		Path:        "/api/v1/sessions/{id}",
		Summary:     "Get session",
		Description: "Returns buffering, adaptation and sink statistics for a session",
		Tags:        []string{"Sessions"},
	}, h.Get)

	huma.Register(api, huma.Operation{
		OperationID: "deleteSession",
		Method:      http.MethodDelete,
		Path:        "/api/v1/sessions/{id}",
		Summary:     "Stop session",
		Description: "Stops streaming and releases the session",
		Tags:        []string{"Sessions"},
	}, h.Delete)

	huma.Register(api, huma.Operation{
		OperationID: "getSessionTracks",
		Method:      http.MethodGet,
		Path:        "/api/v1/sessions/{id}/tracks",
		Summary:     "List tracks",
		Description: "Returns the variants and text streams of the session's manifest",
		Tags:        []string{"Sessions"},
	}, h.Tracks)

	huma.Register(api, huma.Operation{
		OperationID: "seekSession",
		Method:      http.MethodPost,
		Path:        "/api/v1/sessions/{id}/seek",
		Summary:     "Seek",
		Tags:        []string{"Playback"},
	}, h.Seek)

	huma.Register(api, huma.Operation{
		OperationID: "pauseSession",
		Method:      http.MethodPost,
		Path:        "/api/v1/sessions/{id}/pause",
		Summary:     "Pause",
		Tags:        []string{"Playback"},
	}, h.Pause)

	huma.Register(api, huma.Operation{
		OperationID: "resumeSession",
		Method:      http.MethodPost,
		Path:        "/api/v1/sessions/{id}/resume",
		Summary:     "Resume",
		Tags:        []string{"Playback"},
	}, h.Resume)

	huma.Register(api, huma.Operation{
		OperationID: "selectVariant",
		Method:      http.MethodPost,
		Path:        "/api/v1/sessions/{id}/variant",
		Summary:     "Select variant",
		Description: "Plays a specific variant and turns automatic adaptation off",
		Tags:        []string{"Playback"},
	}, h.SelectVariant)

	huma.Register(api, huma.Operation{
		OperationID: "setAdaptation",
		Method:      http.MethodPut,
		Path:        "/api/v1/sessions/{id}/abr",
		Summary:     "Enable or disable adaptation",
		Tags:        []string{"Playback"},
	}, h.SetAdaptation)

	huma.Register(api, huma.Operation{
		OperationID: "selectTextStream",
		Method:      http.MethodPost,
		Path:        "/api/v1/sessions/{id}/text",
		Summary:     "Select text stream",
		Description: "Streams a text track; a negative stream_id turns text off",
		Tags:        []string{"Playback"},
	}, h.SelectText)

	huma.Register(api, huma.Operation{
		OperationID: "trickPlay",
		Method:      http.MethodPost,
		Path:        "/api/v1/sessions/{id}/trickplay",
		Summary:     "Start trick play",
		Tags:        []string{"Playback"},
	}, h.TrickPlay)

	huma.Register(api, huma.Operation{
		OperationID: "cancelTrickPlay",
		Method:      http.MethodDelete,
		Path:        "/api/v1/sessions/{id}/trickplay",
		Summary:     "Cancel trick play",
		Tags:        []string{"Playback"},
	}, h.CancelTrickPlay)

	huma.Register(api, huma.Operation{
		OperationID: "configureSession",
		Method:      http.MethodPatch,
		Path:        "/api/v1/sessions/{id}/config",
		Summary:     "Reconfigure session",
		Description: "Applies dotted-key configuration updates, for example streaming.buffering_goal",
		Tags:        []string{"Sessions"},
	}, h.Configure)

	sse.Register(api, huma.Operation{
		OperationID: "sessionEvents",
		Method:      http.MethodGet,
		Path:        "/api/v1/sessions/{id}/events",
		Summary:     "Subscribe to session events",
		Description: "Server-sent events for buffering, adaptation, track changes, gaps, errors and end of stream",
		Tags:        []string{"Sessions"},
	}, map[string]any{
		"event": EventResponse{},
	}, h.Events)
}

// CreateSessionInput starts a session.
type CreateSessionInput struct {
	Body struct {
		URI   string   `json:"uri" minLength:"1" doc:"Manifest URI (http, https, file or data)"`
		Start *float64 `json:"start,omitempty" doc:"Start position in seconds; defaults to 0, or the live edge"`
	}
}

// Create starts a session.
func (h *SessionHandler) Create(ctx context.Context, input *CreateSessionInput) (*SessionOutput, error) {
	s, err := h.pool.Play(ctx, input.Body.URI, player.ParseStart(input.Body.Start))
	if err != nil {
		observability.LoggerFromContext(ctx).Warn("failed to start session",
			"uri", input.Body.URI, "error", err)
		return nil, toHTTPError("failed to start session", err)
	}
	return &SessionOutput{Body: s.Stats()}, nil
}

// ListSessionsOutput lists running sessions.
type ListSessionsOutput struct {
	Body struct {
		Sessions []player.Stats `json:"sessions"`
	}
}

// List returns every running session.
func (h *SessionHandler) List(_ context.Context, _ *struct{}) (*ListSessionsOutput, error) {
	out := &ListSessionsOutput{}
	out.Body.Sessions = make([]player.Stats, 0, h.pool.Len())
	for _, s := range h.pool.List() {
		out.Body.Sessions = append(out.Body.Sessions, s.Stats())
	}
	return out, nil
}

// Get returns one session.
func (h *SessionHandler) Get(_ context.Context, input *SessionInput) (*SessionOutput, error) {
	s, err := h.pool.Get(input.ID)
	if err != nil {
		return nil, toHTTPError("session not found", err)
	}
	return &SessionOutput{Body: s.Stats()}, nil
}

// Delete stops a session.
func (h *SessionHandler) Delete(ctx context.Context, input *SessionInput) (*StatusOutput, error) {
	if err := h.pool.Close(ctx, input.ID); err != nil {
		return nil, toHTTPError("failed to stop session", err)
	}
	return ok(), nil
}

// TracksOutput wraps TracksResponse.
type TracksOutput struct {
	Body TracksResponse
}

// Tracks lists the selectable tracks.
func (h *SessionHandler) Tracks(_ context.Context, input *SessionInput) (*TracksOutput, error) {
	s, err := h.pool.Get(input.ID)
	if err != nil {
		return nil, toHTTPError("session not found", err)
	}
	m := s.Manifest()
	active := s.Engine().ActiveVariant()
	out := &TracksOutput{Body: TracksResponse{
		Variants:    make([]VariantResponse, 0, len(m.Variants)),
		TextStreams: make([]StreamResponse, 0, len(m.TextStreams)),
	}}
	for _, v := range m.Variants {
		out.Body.Variants = append(out.Body.Variants, VariantResponse{
			ID:        v.ID,
			Bandwidth: v.Bandwidth,
			Language:  v.Language,
			Allowed:   v.Allowed,
			Active:    v == active,
			Video:     StreamFromMedia(v.Video),
			Audio:     StreamFromMedia(v.Audio),
		})
	}
	for _, ts := range m.TextStreams {
		out.Body.TextStreams = append(out.Body.TextStreams, *StreamFromMedia(ts))
	}
	if ts := s.Engine().TextStream(); ts != nil {
		id := ts.ID
		out.Body.ActiveText = &id
	}
	return out, nil
}

// SeekInput moves playback.
type SeekInput struct {
	ID   string `path:"id"`
	Body struct {
		Time float64 `json:"time" doc:"Target presentation time in seconds"`
	}
}

// Seek moves playback.
func (h *SessionHandler) Seek(_ context.Context, input *SeekInput) (*StatusOutput, error) {
	s, err := h.pool.Get(input.ID)
	if err != nil {
		return nil, toHTTPError("session not found", err)
	}
	if math.IsNaN(input.Body.Time) {
		return nil, huma.Error400BadRequest("time must be a number")
	}
	if err := s.Seek(input.Body.Time); err != nil {
		return nil, toHTTPError("seek failed", err)
	}
	return ok(), nil
}

// Pause pauses the playhead.
func (h *SessionHandler) Pause(_ context.Context, input *SessionInput) (*StatusOutput, error) {
	s, err := h.pool.Get(input.ID)
	if err != nil {
		return nil, toHTTPError("session not found", err)
	}
	s.Pause()
	return ok(), nil
}

// Resume restarts the playhead.
func (h *SessionHandler) Resume(_ context.Context, input *SessionInput) (*StatusOutput, error) {
	s, err := h.pool.Get(input.ID)
	if err != nil {
		return nil, toHTTPError("session not found", err)
	}
	s.Resume()
	return ok(), nil
}

// SelectVariantInput picks a variant.
type SelectVariantInput struct {
	ID   string `path:"id"`
	Body struct {
		VariantID   int    `json:"variant_id"`
		ClearBuffer bool   `json:"clear_buffer,omitempty" doc:"Drop buffered content ahead of the playhead"`
		SafeMargin  string `json:"safe_margin,omitempty" doc:"Content kept ahead of the playhead when clearing, e.g. 2s"`
	}
}

// SelectVariant plays one variant.
func (h *SessionHandler) SelectVariant(_ context.Context, input *SelectVariantInput) (*StatusOutput, error) {
	s, err := h.pool.Get(input.ID)
	if err != nil {
		return nil, toHTTPError("session not found", err)
	}
	var margin time.Duration
	if input.Body.SafeMargin != "" {
		margin, err = time.ParseDuration(input.Body.SafeMargin)
		if err != nil {
			return nil, huma.Error400BadRequest("invalid safe_margin", err)
		}
	}
	if err := s.SelectVariant(input.Body.VariantID, input.Body.ClearBuffer, margin); err != nil {
		return nil, toHTTPError("variant selection failed", err)
	}
	return ok(), nil
}

// SetAdaptationInput toggles adaptation.
type SetAdaptationInput struct {
	ID   string `path:"id"`
	Body struct {
		Enabled bool `json:"enabled"`
	}
}

// SetAdaptation turns adaptation on or off.
func (h *SessionHandler) SetAdaptation(_ context.Context, input *SetAdaptationInput) (*StatusOutput, error) {
	s, err := h.pool.Get(input.ID)
	if err != nil {
		return nil, toHTTPError("session not found", err)
	}
	s.SetAdaptation(input.Body.Enabled)
	return ok(), nil
}

// SelectTextInput picks a text stream.
type SelectTextInput struct {
	ID   string `path:"id"`
	Body struct {
		StreamID int `json:"stream_id"`
	}
}

// SelectText streams a text track or turns text off.
func (h *SessionHandler) SelectText(_ context.Context, input *SelectTextInput) (*StatusOutput, error) {
	s, err := h.pool.Get(input.ID)
	if err != nil {
		return nil, toHTTPError("session not found", err)
	}
	if err := s.SelectTextStream(input.Body.StreamID); err != nil {
		return nil, toHTTPError("text selection failed", err)
	}
	return ok(), nil
}

// TrickPlayInput sets the playback rate.
type TrickPlayInput struct {
	ID   string `path:"id"`
	Body struct {
		Rate float64 `json:"rate" doc:"Playback rate; negative rewinds"`
	}
}

// TrickPlay changes the playback rate.
func (h *SessionHandler) TrickPlay(_ context.Context, input *TrickPlayInput) (*StatusOutput, error) {
	s, err := h.pool.Get(input.ID)
	if err != nil {
		return nil, toHTTPError("session not found", err)
	}
	if err := s.TrickPlay(input.Body.Rate); err != nil {
		return nil, toHTTPError("trick play failed", err)
	}
	return ok(), nil
}

// CancelTrickPlay restores normal playback.
func (h *SessionHandler) CancelTrickPlay(_ context.Context, input *SessionInput) (*StatusOutput, error) {
	s, err := h.pool.Get(input.ID)
	if err != nil {
		return nil, toHTTPError("session not found", err)
	}
	if err := s.CancelTrickPlay(); err != nil {
		return nil, toHTTPError("cancelling trick play failed", err)
	}
	return ok(), nil
}

// ConfigureInput carries dotted-key updates.
type ConfigureInput struct {
	ID   string `path:"id"`
	Body struct {
		Updates map[string]any `json:"updates"`
	}
}

// ConfigOutput returns the effective configuration.
type ConfigOutput struct {
	Body map[string]any
}

// Configure applies updates to one session.
func (h *SessionHandler) Configure(ctx context.Context, input *ConfigureInput) (*ConfigOutput, error) {
	s, err := h.pool.Get(input.ID)
	if err != nil {
		return nil, toHTTPError("session not found", err)
	}
	cfg, err := s.Configure(input.Body.Updates)
	if err != nil {
		return nil, toHTTPError("invalid configuration", err)
	}
	observability.LoggerFromContext(ctx).Info("session reconfigured", "session_id", s.ID())
	return &ConfigOutput{Body: configMap(cfg)}, nil
}

// EventsInput selects the session to stream.
type EventsInput struct {
	ID string `path:"id"`
}

// Events streams engine events until the client leaves or the session
// stops.
func (h *SessionHandler) Events(ctx context.Context, input *EventsInput, send sse.Sender) {
	s, err := h.pool.Get(input.ID)
	if err != nil {
		_ = send.Data(EventResponse{Type: "error", Time: time.Now(), Error: err.Error()})
		return
	}
	sub := s.Engine().Subscribe()
	defer s.Engine().Unsubscribe(sub.ID)

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.Done():
			return
		case ev, open := <-sub.Events:
			if !open {
				return
			}
			if err := send.Data(EventFromStreaming(ev)); err != nil {
				return
			}
		case <-heartbeat.C:
			if err := send(sse.Message{Data: EventResponse{Type: "heartbeat", Time: time.Now()}}); err != nil {
				return
			}
		}
	}
}
