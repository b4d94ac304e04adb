package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/jmylchreest/abrplay/internal/media"
	"github.com/jmylchreest/abrplay/internal/netfetch"
	"github.com/jmylchreest/abrplay/internal/player"
	"github.com/jmylchreest/abrplay/pkg/format"
	"github.com/jmylchreest/abrplay/pkg/units"
)

var probeJSON bool

var probeCmd = &cobra.Command{
	Use:   "probe <manifest-uri>",
	Short: "Print the variants and text streams of a manifest",
	Long: `Fetch and parse a manifest without starting playback, then list its
timeline, variants and text streams. Variant IDs printed here are the ones
accepted by "play --variant".`,
	Args: cobra.ExactArgs(1),
	RunE: runProbe,
}

func init() {
	probeCmd.Flags().BoolVar(&probeJSON, "json", false, "output as JSON")
	rootCmd.AddCommand(probeCmd)
}

// probeStream is one rendition in probe output.
type probeStream struct {
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
}

type probeVariant struct {
	ID        int          `json:"id"`
	Bandwidth int64        `json:"bandwidth"`
	Allowed   bool         `json:"allowed"`
	Video     *probeStream `json:"video,omitempty"`
	Audio     *probeStream `json:"audio,omitempty"`
}

type probeResult struct {
	URI            string         `json:"uri"`
	Live           bool           `json:"live"`
	Duration       float64        `json:"duration,omitempty"`
	SeekRangeStart float64        `json:"seek_range_start"`
	SeekRangeEnd   float64        `json:"seek_range_end"`
	Variants       []probeVariant `json:"variants"`
	TextStreams    []probeStream  `json:"text_streams"`
}

func toProbeStream(s *media.Stream) *probeStream {
	if s == nil {
		return nil
	}
	return &probeStream{
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
	}
}

func newProbeResult(uri string, m *media.Manifest) probeResult {
	start, end := m.Timeline.SeekRange()
	res := probeResult{
		URI:            uri,
		Live:           m.Timeline.IsLive(),
		SeekRangeStart: start,
		SeekRangeEnd:   end,
		Variants:       make([]probeVariant, 0, len(m.Variants)),
		TextStreams:    make([]probeStream, 0, len(m.TextStreams)),
	}
	if !res.Live {
		res.Duration = m.Timeline.Duration()
	}
	for _, v := range m.Variants {
		res.Variants = append(res.Variants, probeVariant{
			ID:        v.ID,
			Bandwidth: v.Bandwidth,
			Allowed:   v.Allowed,
			Video:     toProbeStream(v.Video),
			Audio:     toProbeStream(v.Audio),
		})
	}
	for _, s := range m.TextStreams {
		res.TextStreams = append(res.TextStreams, *toProbeStream(s))
	}
	return res
}

func runProbe(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	fetcher, err := netfetch.NewFromConfig(cfg.Network, logger)
	if err != nil {
		return fmt.Errorf("creating network client: %w", err)
	}
	session, err := player.Open(ctx, args[0], player.Options{Config: cfg, Fetcher: fetcher, Logger: logger})
	if err != nil {
		return fmt.Errorf("opening %s: %w", args[0], err)
	}
	defer func() { _ = session.Close(context.WithoutCancel(ctx)) }()

	res := newProbeResult(args[0], session.Manifest())
	if probeJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}
	return writeProbe(cmd.OutOrStdout(), res)
}

func writeProbe(out io.Writer, res probeResult) error {
	kind := "vod"
	if res.Live {
		kind = "live"
	}
	fmt.Fprintf(out, "URI:        %s\n", res.URI)
	fmt.Fprintf(out, "Type:       %s\n", kind)
	if !res.Live {
		fmt.Fprintf(out, "Duration:   %s\n", format.Position(res.Duration))
	}
	fmt.Fprintf(out, "Seek range: %s - %s\n\n", format.Position(res.SeekRangeStart), format.Position(res.SeekRangeEnd))

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tBANDWIDTH\tRESOLUTION\tFPS\tVIDEO\tAUDIO\tLANG\tALLOWED")
	for _, v := range res.Variants {
		resolution, fps, video, audio, lang := "-", "-", "-", "-", "-"
		if v.Video != nil {
			if v.Video.Height > 0 {
				resolution = fmt.Sprintf("%dx%d", v.Video.Width, v.Video.Height)
			}
			if v.Video.FrameRate > 0 {
				fps = fmt.Sprintf("%.3g", v.Video.FrameRate)
			}
			video = codecOrMime(v.Video)
		}
		if v.Audio != nil {
			audio = codecOrMime(v.Audio)
			if v.Audio.Language != "" {
				lang = v.Audio.Language
			}
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\t%s\t%t\n",
			v.ID, units.FormatRate(units.Rate(v.Bandwidth)), resolution, fps, video, audio, lang, v.Allowed)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	if len(res.TextStreams) == 0 {
		return nil
	}
	fmt.Fprintln(out)
	w = tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TEXT ID\tMIME\tLANG\tLABEL")
	for _, s := range res.TextStreams {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", s.ID, codecOrMime(&s), orDash(s.Language), orDash(s.Label))
	}
	return w.Flush()
}

func codecOrMime(s *probeStream) string {
	if s.Codecs != "" {
		return s.Codecs
	}
	return orDash(s.MimeType)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
