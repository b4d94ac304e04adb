package netfetch

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/oklog/ulid/v2"
	"golang.org/x/net/http2"

	"github.com/jmylchreest/abrplay/internal/observability"
	"github.com/jmylchreest/abrplay/internal/playerr"
)

// HTTP header constants.
const (
	HeaderAcceptEncoding  = "Accept-Encoding"
	HeaderContentEncoding = "Content-Encoding"
	HeaderUserAgent       = "User-Agent"
	HeaderRange           = "Range"
	HeaderRequestID       = "X-Request-ID"

	EncodingGzip    = "gzip"
	EncodingDeflate = "deflate"
	EncodingBrotli  = "br"

	DefaultAcceptEncodingHeader = "gzip, deflate, br"
	DefaultUserAgent            = "abrplay/1.0"
)

var (
	ErrResponseTooLarge = errors.New("response body exceeds maximum size limit")

	errStalled        = errors.New("no data received within stall timeout")
	errConnectTimeout = errors.New("no response headers within connection timeout")
)

// HTTPOptions configures the HTTP(S) plugin.
type HTTPOptions struct {
	UserAgent string
	// HTTP2 enables HTTP/2 negotiation on the default transport.
	HTTP2 bool
	// MaxResponseSize limits decompressed bodies; 0 disables the limit.
	MaxResponseSize int64
	// Transport overrides the default transport (tests).
	Transport http.RoundTripper
	Logger    *slog.Logger
}

// HTTPPlugin fetches http and https URIs.
type HTTPPlugin struct {
	client          *http.Client
	userAgent       string
	maxResponseSize int64
	logger          *slog.Logger
}

// NewHTTPPlugin creates the plugin and its transport.
func NewHTTPPlugin(opts HTTPOptions) (*HTTPPlugin, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.UserAgent == "" {
		opts.UserAgent = DefaultUserAgent
	}

	transport := opts.Transport
	if transport == nil {
		tr := &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout:   DefaultConnectionTimeout,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			MaxIdleConns:          100,
			MaxIdleConnsPerHost:   8,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: time.Second,
			// Bodies are decompressed here so brotli is handled too.
			DisableCompression: true,
		}
		if opts.HTTP2 {
			if err := http2.ConfigureTransport(tr); err != nil {
				return nil, fmt.Errorf("configuring http2 transport: %w", err)
			}
		}
		transport = tr
	}

	return &HTTPPlugin{
		client:          &http.Client{Transport: transport},
		userAgent:       opts.UserAgent,
		maxResponseSize: opts.MaxResponseSize,
		logger:          opts.Logger,
	}, nil
}

// Fetch implements SchemePlugin.
func (p *HTTPPlugin) Fetch(ctx context.Context, uri string, req *Request) (*Response, error) {
	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, uri, body)
	if err != nil {
		return nil, playerr.Wrap(playerr.Critical, playerr.CategoryNetwork, playerr.CodeHTTPError,
			"building request", err).WithData("uri", uri)
	}
	for k, vs := range req.Headers {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	if httpReq.Header.Get(HeaderUserAgent) == "" {
		httpReq.Header.Set(HeaderUserAgent, p.userAgent)
	}
	if httpReq.Header.Get(HeaderAcceptEncoding) == "" {
		httpReq.Header.Set(HeaderAcceptEncoding, DefaultAcceptEncodingHeader)
	}
	if req.Range != nil {
		httpReq.Header.Set(HeaderRange, req.Range.Header())
	}
	requestID := ulid.Make().String()
	httpReq.Header.Set(HeaderRequestID, requestID)

	var connTimer *time.Timer
	if req.Retry.ConnectionTimeout > 0 {
		connTimer = time.AfterFunc(req.Retry.ConnectionTimeout, func() { cancel(errConnectTimeout) })
	}

	start := time.Now()
	resp, err := p.client.Do(httpReq)
	if connTimer != nil {
		connTimer.Stop()
	}
	if err != nil {
		return nil, classifyTransportError(ctx, uri, err)
	}
	defer resp.Body.Close()

	reader := p.wrapDecompression(resp)
	if req.Retry.StallTimeout > 0 {
		sr := newStallReader(reader, req.Retry.StallTimeout, func() { cancel(errStalled) })
		defer sr.stop()
		reader = sr
	}
	if p.maxResponseSize > 0 {
		reader = newLimitedReader(reader, p.maxResponseSize)
	}

	data, err := io.ReadAll(reader)
	if err != nil {
		if errors.Is(err, ErrResponseTooLarge) {
			return nil, playerr.Wrap(playerr.Critical, playerr.CategoryNetwork, playerr.CodeHTTPError,
				"reading response", err).WithData("uri", uri)
		}
		return nil, classifyTransportError(ctx, uri, err)
	}
	duration := time.Since(start)

	p.logger.Log(ctx, observability.LevelTrace, "http response",
		slog.String("uri", uri),
		slog.String("request_id", requestID),
		slog.Int("status", resp.StatusCode),
		slog.Int("bytes", len(data)),
		slog.Duration("duration", duration),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		sev := playerr.Recoverable
		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			sev = playerr.Critical
		}
		return nil, playerr.New(sev, playerr.CategoryNetwork, playerr.CodeBadHTTPStatus,
			fmt.Sprintf("unexpected status %d", resp.StatusCode)).
			WithData("uri", uri).
			WithData("status", resp.StatusCode)
	}

	finalURI := uri
	if resp.Request != nil && resp.Request.URL != nil {
		finalURI = resp.Request.URL.String()
	}
	return &Response{
		URI:         finalURI,
		OriginalURI: uri,
		Data:        data,
		Headers:     resp.Header,
		Status:      resp.StatusCode,
		Duration:    duration,
	}, nil
}

// classifyTransportError maps a failed round trip or body read to a
// recoverable network error. Caller-initiated aborts are detected by the
// Client, not here.
func classifyTransportError(ctx context.Context, uri string, err error) error {
	cause := context.Cause(ctx)
	switch {
	case errors.Is(cause, errStalled):
		return playerr.Wrap(playerr.Recoverable, playerr.CategoryNetwork, playerr.CodeStalled,
			"transfer stalled", err).WithData("uri", uri)
	case errors.Is(cause, errConnectTimeout), errors.Is(err, context.DeadlineExceeded):
		return playerr.Wrap(playerr.Recoverable, playerr.CategoryNetwork, playerr.CodeTimeout,
			"request timed out", err).WithData("uri", uri)
	default:
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return playerr.Wrap(playerr.Recoverable, playerr.CategoryNetwork, playerr.CodeTimeout,
				"request timed out", err).WithData("uri", uri)
		}
		return playerr.Wrap(playerr.Recoverable, playerr.CategoryNetwork, playerr.CodeHTTPError,
			"request failed", err).WithData("uri", uri)
	}
}

// wrapDecompression wraps the response body with appropriate decompression.
func (p *HTTPPlugin) wrapDecompression(resp *http.Response) io.Reader {
	encoding := resp.Header.Get(HeaderContentEncoding)
	if encoding == "" {
		return resp.Body
	}

	switch strings.ToLower(encoding) {
	case EncodingGzip:
		reader, err := gzip.NewReader(resp.Body)
		if err != nil {
			p.logger.Warn("failed to create gzip reader, returning raw body",
				slog.String("error", err.Error()),
			)
			return resp.Body
		}
		return reader
	case EncodingDeflate:
		return flate.NewReader(resp.Body)
	case EncodingBrotli:
		return brotli.NewReader(resp.Body)
	default:
		p.logger.Debug("unknown content encoding, returning raw body",
			slog.String("encoding", encoding),
		)
		return resp.Body
	}
}

// stallReader fires onStall when no bytes arrive for the timeout.
type stallReader struct {
	reader  io.Reader
	timeout time.Duration
	mu      sync.Mutex
	timer   *time.Timer
}

func newStallReader(r io.Reader, timeout time.Duration, onStall func()) *stallReader {
	return &stallReader{
		reader:  r,
		timeout: timeout,
		timer:   time.AfterFunc(timeout, onStall),
	}
}

func (s *stallReader) Read(p []byte) (int, error) {
	n, err := s.reader.Read(p)
	if n > 0 {
		s.mu.Lock()
		s.timer.Reset(s.timeout)
		s.mu.Unlock()
	}
	return n, err
}

func (s *stallReader) stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.timer.Stop()
}

// limitedReader returns ErrResponseTooLarge once more than the limit is read.
type limitedReader struct {
	reader    io.Reader
	remaining int64
	exceeded  bool
}

func newLimitedReader(r io.Reader, limit int64) *limitedReader {
	return &limitedReader{reader: r, remaining: limit}
}

func (l *limitedReader) Read(p []byte) (int, error) {
	if l.exceeded {
		return 0, ErrResponseTooLarge
	}

	n, err := l.reader.Read(p)
	l.remaining -= int64(n)

	if l.remaining < 0 {
		l.exceeded = true
		return n, ErrResponseTooLarge
	}
	return n, err
}
