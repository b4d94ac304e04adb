package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/jmylchreest/abrplay/internal/store"
)

// HistoryHandler serves stored session summaries and bandwidth samples.
type HistoryHandler struct {
	sessions  *store.Sessions
	bandwidth *store.BandwidthHistory
}

// NewHistoryHandler creates a history handler.
func NewHistoryHandler(sessions *store.Sessions, bandwidth *store.BandwidthHistory) *HistoryHandler {
	return &HistoryHandler{sessions: sessions, bandwidth: bandwidth}
}

// Register registers the history routes with the API.
func (h *HistoryHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "listSessionHistory",
		Method:      http.MethodGet,
		Path:        "/api/v1/history/sessions",
		Summary:     "List finished sessions",
		Tags:        []string{"History"},
	}, h.ListSessions)

	huma.Register(api, huma.Operation{
		OperationID: "getSessionHistory",
		Method:      http.MethodGet,
		Path:        "/api/v1/history/sessions/{id}",
		Summary:     "Get a finished session",
		Tags:        []string{"History"},
	}, h.GetSession)

	huma.Register(api, huma.Operation{
		OperationID: "getBandwidthHistory",
		Method:      http.MethodGet,
		Path:        "/api/v1/history/bandwidth/{host}",
		Summary:     "Get bandwidth history",
		Description: "Returns recent estimates for a host and the estimate a new session would start from",
		Tags:        []string{"History"},
	}, h.GetBandwidth)
}

// ListSessionHistoryInput pages session history.
type ListSessionHistoryInput struct {
	Limit int `query:"limit" default:"50" minimum:"1" maximum:"500"`
}

// ListSessionHistoryOutput lists stored sessions.
type ListSessionHistoryOutput struct {
	Body struct {
		Sessions []SessionRecordResponse `json:"sessions"`
	}
}

// ListSessions returns the most recent sessions.
func (h *HistoryHandler) ListSessions(ctx context.Context, input *ListSessionHistoryInput) (*ListSessionHistoryOutput, error) {
	recs, err := h.sessions.List(ctx, input.Limit)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to list sessions", err)
	}
	out := &ListSessionHistoryOutput{}
	out.Body.Sessions = make([]SessionRecordResponse, len(recs))
	for i := range recs {
		out.Body.Sessions[i] = SessionRecordFromStore(&recs[i])
	}
	return out, nil
}

// SessionRecordOutput wraps one stored session.
type SessionRecordOutput struct {
	Body SessionRecordResponse
}

// GetSession returns one stored session.
func (h *HistoryHandler) GetSession(ctx context.Context, input *SessionInput) (*SessionRecordOutput, error) {
	rec, err := h.sessions.Get(ctx, input.ID)
	if err != nil {
		return nil, toHTTPError("session record not found", err)
	}
	return &SessionRecordOutput{Body: SessionRecordFromStore(rec)}, nil
}

// BandwidthInput selects a host.
type BandwidthInput struct {
	Host   string `path:"host"`
	MaxAge string `query:"max_age" default:"24h" doc:"Only samples newer than this count toward the estimate"`
}

// BandwidthOutput lists a host's samples.
type BandwidthOutput struct {
	Body struct {
		Host     string                    `json:"host"`
		Estimate int64                     `json:"estimate,omitempty"`
		Samples  []BandwidthSampleResponse `json:"samples"`
	}
}

// GetBandwidth returns a host's bandwidth history.
func (h *HistoryHandler) GetBandwidth(ctx context.Context, input *BandwidthInput) (*BandwidthOutput, error) {
	maxAge, err := time.ParseDuration(input.MaxAge)
	if err != nil {
		return nil, huma.Error400BadRequest("invalid max_age", err)
	}
	samples, err := h.bandwidth.Samples(ctx, input.Host, 0)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to load bandwidth history", err)
	}
	out := &BandwidthOutput{}
	out.Body.Host = input.Host
	out.Body.Samples = make([]BandwidthSampleResponse, len(samples))
	for i, s := range samples {
		out.Body.Samples[i] = BandwidthSampleResponse{
			Bandwidth:    s.Bandwidth,
			BytesSampled: s.BytesSampled,
			RecordedAt:   s.RecordedAt,
		}
	}
	if est, err := h.bandwidth.Estimate(ctx, input.Host, maxAge); err == nil {
		out.Body.Estimate = est
	}
	return out, nil
}
