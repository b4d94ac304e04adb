package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/jmylchreest/abrplay/internal/media"
	"github.com/jmylchreest/abrplay/internal/netfetch"
	"github.com/jmylchreest/abrplay/internal/player"
	"github.com/jmylchreest/abrplay/internal/store"
	"github.com/jmylchreest/abrplay/internal/streaming"
	"github.com/jmylchreest/abrplay/pkg/format"
	"github.com/jmylchreest/abrplay/pkg/units"
)

var playCmd = &cobra.Command{
	Use:   "play <manifest-uri>",
	Short: "Play a presentation against a virtual playhead",
	Long: `Load an HLS or DASH manifest and stream it until it ends, fails, or the
--duration elapses. Segments are fetched, demuxed and buffered exactly as a
real player would, while a virtual playhead advances in wall-clock time.

Progress is printed every --stats-interval; engine events are printed as
they happen.`,
	Example: `  abrplay play https://example.com/live/master.m3u8 --duration 2m
  abrplay play https://example.com/vod/manifest.mpd --start 600 --variant 3 --json`,
	Args: cobra.ExactArgs(1),
	RunE: runPlay,
}

func init() {
	addPlayFlags(playCmd.Flags())
	rootCmd.AddCommand(playCmd)
}

func addPlayFlags(flags *pflag.FlagSet) {
	flags.Float64("start", 0, "start position in seconds (default: start of VOD, live edge for live)")
	flags.Duration("duration", 0, "stop after this long (0 = until the presentation ends)")
	flags.Int("variant", -1, "pin a variant by ID and disable adaptation")
	flags.Bool("no-abr", false, "disable adaptation")
	flags.Int("text", -1, "select a text stream by ID")
	flags.Float64("rate", 1, "trick play rate")
	flags.Duration("stats-interval", 2*time.Second, "how often to print progress (0 disables)")
	flags.Bool("json", false, "print progress and events as JSON lines")
}

// playOptions are the play command flags.
type playOptions struct {
	start     float64
	limit     time.Duration
	variantID int
	noABR     bool
	textID    int
	rate      float64
	interval  time.Duration
	json      bool
}

// playOptionsFrom reads the play flags. start is NaN unless --start was given.
func playOptionsFrom(flags *pflag.FlagSet) (playOptions, error) {
	o := playOptions{start: math.NaN()}
	var err error
	if flags.Changed("start") {
		if o.start, err = flags.GetFloat64("start"); err != nil {
			return o, err
		}
	}
	if o.limit, err = flags.GetDuration("duration"); err != nil {
		return o, err
	}
	if o.variantID, err = flags.GetInt("variant"); err != nil {
		return o, err
	}
	if o.noABR, err = flags.GetBool("no-abr"); err != nil {
		return o, err
	}
	if o.textID, err = flags.GetInt("text"); err != nil {
		return o, err
	}
	if o.rate, err = flags.GetFloat64("rate"); err != nil {
		return o, err
	}
	if o.interval, err = flags.GetDuration("stats-interval"); err != nil {
		return o, err
	}
	if o.json, err = flags.GetBool("json"); err != nil {
		return o, err
	}
	if o.rate == 0 {
		return o, fmt.Errorf("--rate must not be zero")
	}
	return o, nil
}

func runPlay(cmd *cobra.Command, args []string) error {
	o, err := playOptionsFrom(cmd.Flags())
	if err != nil {
		return err
	}
	if o.noABR || o.variantID >= 0 {
		cfg.ABR.Enabled = false
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fetcher, err := netfetch.NewFromConfig(cfg.Network, logger)
	if err != nil {
		return fmt.Errorf("creating network client: %w", err)
	}
	opts := player.Options{Config: cfg, Fetcher: fetcher, Logger: logger}
	if cfg.Database.Enabled {
		db, err := store.Open(ctx, cfg.Database, logger)
		if err != nil {
			return fmt.Errorf("initializing database: %w", err)
		}
		defer func() { _ = db.Close() }()
		opts.History = store.NewBandwidthHistory(db)
		opts.Sessions = store.NewSessions(db)
	}

	session, err := player.Open(ctx, args[0], opts)
	if err != nil {
		return fmt.Errorf("opening %s: %w", args[0], err)
	}
	defer func() {
		if err := session.Close(context.WithoutCancel(ctx)); err != nil {
			logger.Warn("closing session", slog.String("error", err.Error()))
		}
	}()

	sub := session.Engine().Subscribe()
	defer session.Engine().Unsubscribe(sub.ID)

	if err := session.Start(ctx, o.start); err != nil {
		return fmt.Errorf("starting playback: %w", err)
	}
	if o.variantID >= 0 {
		if err := session.SelectVariant(o.variantID, true, 0); err != nil {
			return err
		}
	}
	if o.textID >= 0 {
		if err := session.SelectTextStream(o.textID); err != nil {
			return err
		}
	}
	if o.rate != 1 {
		if err := session.TrickPlay(o.rate); err != nil {
			return err
		}
	}

	out := cmd.OutOrStdout()
	p := &progressPrinter{out: out, json: o.json}

	var deadline <-chan time.Time
	if o.limit > 0 {
		timer := time.NewTimer(o.limit)
		defer timer.Stop()
		deadline = timer.C
	}
	var tick <-chan time.Time
	if o.interval > 0 {
		ticker := time.NewTicker(o.interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			p.stats(session.Stats())
			return nil
		case <-deadline:
			p.stats(session.Stats())
			return nil
		case <-tick:
			p.stats(session.Stats())
		case ev, ok := <-sub.Events:
			if !ok {
				sub.Events = nil
				continue
			}
			p.event(ev)
		case <-session.Ended():
			p.stats(session.Stats())
			return nil
		case <-session.Done():
			p.stats(session.Stats())
			return session.Engine().Err()
		}
	}
}

// progressPrinter writes session progress as text or JSON lines.
type progressPrinter struct {
	out  io.Writer
	json bool
}

func (p *progressPrinter) stats(st player.Stats) {
	if p.json {
		p.writeJSON(map[string]any{"type": "stats", "stats": st})
		return
	}
	s := st.Streaming
	var segments int64
	for _, ts := range s.Types {
		segments += ts.Segments
	}
	fmt.Fprintf(p.out, "[%s] variant %d  ahead %.1fs  est %s  buffer %s  segments %s  rate %.2gx  stalls %d  gaps %d",
		format.Position(s.Playhead),
		s.ActiveVariantID,
		s.BufferedAhead,
		units.FormatRate(units.Rate(st.ABR.Estimate)),
		format.Bytes(st.Buffer.CurrentSize),
		format.Count(segments),
		s.PlaybackRate,
		s.Stalls,
		s.GapsJumped,
	)
	if s.Buffering {
		fmt.Fprint(p.out, "  buffering")
	}
	if st.Paused {
		fmt.Fprint(p.out, "  paused")
	}
	fmt.Fprintln(p.out)
}

func (p *progressPrinter) event(ev streaming.Event) {
	if p.json {
		line := map[string]any{"type": "event", "event": ev}
		if ev.Variant != nil {
			line["variant_id"] = ev.Variant.ID
		}
		if ev.Err != nil {
			line["error"] = ev.Err.Error()
		}
		p.writeJSON(line)
		return
	}
	switch ev.Type {
	case streaming.EventAdaptation, streaming.EventVariantChanged:
		fmt.Fprintf(p.out, "%s: %s\n", ev.Type, describeVariant(ev.Variant))
	case streaming.EventBuffering:
		fmt.Fprintf(p.out, "%s: %t\n", ev.Type, ev.Buffering)
	case streaming.EventStallDetected, streaming.EventGapJumped:
		fmt.Fprintf(p.out, "%s: %s -> %s\n", ev.Type, format.Position(ev.From), format.Position(ev.To))
	case streaming.EventError:
		fmt.Fprintf(p.out, "%s: %v\n", ev.Type, ev.Err)
	default:
		fmt.Fprintln(p.out, ev.Type)
	}
}

func (p *progressPrinter) writeJSON(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		logger.Warn("encoding progress", slog.String("error", err.Error()))
		return
	}
	fmt.Fprintln(p.out, string(data))
}

// describeVariant renders a variant as "#1 2.5Mbps 1280x720".
func describeVariant(v *media.Variant) string {
	if v == nil {
		return "none"
	}
	out := fmt.Sprintf("#%d %s", v.ID, units.FormatRate(units.Rate(v.Bandwidth)))
	if v.Height() > 0 {
		out += fmt.Sprintf(" %dx%d", v.Width(), v.Height())
	}
	if v.Language != "" {
		out += " " + v.Language
	}
	return out
}
