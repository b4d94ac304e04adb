// Package netfetch fetches manifests and media segments over pluggable URI
// schemes with per-request retry, URI failover, circuit breaking and
// transparent decompression.
package netfetch

import (
	"fmt"
	"net/http"
	"time"

	"github.com/jmylchreest/abrplay/internal/config"
)

// RequestType identifies what a request is for so filters can treat
// manifests, segments and timing requests differently.
type RequestType int

const (
	RequestManifest RequestType = iota
	RequestSegment
	RequestTiming
)

func (t RequestType) String() string {
	switch t {
	case RequestManifest:
		return "manifest"
	case RequestSegment:
		return "segment"
	case RequestTiming:
		return "timing"
	default:
		return "unknown"
	}
}

// Default retry values.
const (
	DefaultMaxAttempts       = 2
	DefaultBaseDelay         = time.Second
	DefaultBackoffFactor     = 2.0
	DefaultFuzzFactor        = 0.5
	DefaultTimeout           = 30 * time.Second
	DefaultStallTimeout      = 5 * time.Second
	DefaultConnectionTimeout = 10 * time.Second
)

// RetryParameters controls how one logical request is retried. A zero
// Timeout, StallTimeout or ConnectionTimeout disables that limit.
type RetryParameters struct {
	MaxAttempts       int
	BaseDelay         time.Duration
	BackoffFactor     float64
	FuzzFactor        float64
	Timeout           time.Duration
	StallTimeout      time.Duration
	ConnectionTimeout time.Duration
}

// DefaultRetryParameters returns the parameters used when a request carries none.
func DefaultRetryParameters() RetryParameters {
	return RetryParameters{
		MaxAttempts:       DefaultMaxAttempts,
		BaseDelay:         DefaultBaseDelay,
		BackoffFactor:     DefaultBackoffFactor,
		FuzzFactor:        DefaultFuzzFactor,
		Timeout:           DefaultTimeout,
		StallTimeout:      DefaultStallTimeout,
		ConnectionTimeout: DefaultConnectionTimeout,
	}
}

// RetryFromConfig converts a loaded retry section.
func RetryFromConfig(c config.RetryConfig) RetryParameters {
	return RetryParameters{
		MaxAttempts:       c.MaxAttempts,
		BaseDelay:         c.BaseDelay,
		BackoffFactor:     c.BackoffFactor,
		FuzzFactor:        c.FuzzFactor,
		Timeout:           c.Timeout,
		StallTimeout:      c.StallTimeout,
		ConnectionTimeout: c.ConnectionTimeout,
	}
}

func (p RetryParameters) normalized() RetryParameters {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 1
	}
	if p.BackoffFactor < 1 {
		p.BackoffFactor = 1
	}
	if p.FuzzFactor < 0 {
		p.FuzzFactor = 0
	}
	return p
}

// ByteRange is an inclusive byte range. End < 0 means "to the end".
type ByteRange struct {
	Start int64
	End   int64
}

// Header renders the range as an HTTP Range header value.
func (r ByteRange) Header() string {
	if r.End < 0 {
		return fmt.Sprintf("bytes=%d-", r.Start)
	}
	return fmt.Sprintf("bytes=%d-%d", r.Start, r.End)
}

// Request is one logical fetch. URIs are tried in order within each attempt.
type Request struct {
	URIs    []string
	Method  string
	Headers http.Header
	Range   *ByteRange
	Type    RequestType
	Retry   RetryParameters
	Body    []byte
}

// NewRequest builds a GET request for the given candidate URIs.
func NewRequest(typ RequestType, uris []string, retry RetryParameters) *Request {
	return &Request{
		URIs:    append([]string(nil), uris...),
		Method:  http.MethodGet,
		Headers: make(http.Header),
		Type:    typ,
		Retry:   retry,
	}
}

// WithRange sets an inclusive byte range and returns the request.
func (r *Request) WithRange(start, end int64) *Request {
	r.Range = &ByteRange{Start: start, End: end}
	return r
}

func (r *Request) clone() *Request {
	c := *r
	c.URIs = append([]string(nil), r.URIs...)
	c.Headers = r.Headers.Clone()
	if c.Headers == nil {
		c.Headers = make(http.Header)
	}
	if r.Range != nil {
		rng := *r.Range
		c.Range = &rng
	}
	if c.Method == "" {
		c.Method = http.MethodGet
	}
	return &c
}

// Response is the result of a successful fetch.
type Response struct {
	// URI is the URI that finally served the data, after redirects.
	URI string
	// OriginalURI is the candidate URI the request was sent to.
	OriginalURI string
	Data        []byte
	Headers     http.Header
	Status      int
	Duration    time.Duration
	FromCache   bool
}
