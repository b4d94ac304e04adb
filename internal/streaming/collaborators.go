package streaming

import (
	"context"
	"log/slog"
	"time"

	"github.com/jmylchreest/abrplay/internal/demux"
	"github.com/jmylchreest/abrplay/internal/media"
	"github.com/jmylchreest/abrplay/internal/netfetch"
)

// Fetcher retrieves segments. *netfetch.Client satisfies it.
type Fetcher interface {
	Fetch(ctx context.Context, req *netfetch.Request) (*netfetch.Response, error)
}

// DemuxerProvider creates a demuxer for a container MIME type.
// *demux.Registry satisfies it.
type DemuxerProvider interface {
	New(mimeType string, logger *slog.Logger) (demux.Demuxer, error)
}

// DRMGate blocks until decryption keys for a type are usable.
type DRMGate interface {
	WaitReady(ctx context.Context, ct media.ContentType) error
}

// MediaBufferSink receives init segments and demuxed media.
// *sink.MemorySink satisfies it.
type MediaBufferSink interface {
	AppendInit(ctx context.Context, ct media.ContentType, mimeType string, data []byte) error
	AppendMedia(ctx context.Context, ct media.ContentType, ref *media.SegmentReference, res *demux.Result) error
	Remove(ctx context.Context, ct media.ContentType, start, end float64) error
	Clear(ctx context.Context, ct media.ContentType) error
	Buffered(ct media.ContentType) []media.TimeRange
	EndOfStream(ctx context.Context, ct media.ContentType) error
}

// Playhead reports the current presentation time.
type Playhead interface {
	Time() float64
}

// PlayheadController is a Playhead the engine can move. When the playhead
// given to the engine implements it, gap jumps, seeks, trick play and
// buffering state are applied to it.
type PlayheadController interface {
	Playhead
	Jump(t float64)
	SetRate(rate float64)
	SetBuffering(buffering bool)
}

// BandwidthObserver receives download measurements and playback-rate
// changes. *abr.Manager satisfies it.
type BandwidthObserver interface {
	SegmentDownloaded(duration time.Duration, numBytes int64)
	SetPlaybackRate(rate float64)
}

// readyGate is the DRMGate used when content is clear.
type readyGate struct{}

func (readyGate) WaitReady(context.Context, media.ContentType) error { return nil }

type nopObserver struct{}

func (nopObserver) SegmentDownloaded(time.Duration, int64) {}
func (nopObserver) SetPlaybackRate(float64)                {}
