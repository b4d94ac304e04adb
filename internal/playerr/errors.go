// Package playerr defines the structured errors surfaced by the streaming
// engine and its collaborators.
package playerr

import (
	"errors"
	"fmt"
	"log/slog"
)

// Severity tells the caller whether playback can continue.
type Severity int

const (
	Recoverable Severity = 1
	Critical    Severity = 2
)

func (s Severity) String() string {
	switch s {
	case Recoverable:
		return "recoverable"
	case Critical:
		return "critical"
	default:
		return "unknown"
	}
}

// Category groups error codes by the subsystem that produced them.
type Category int

const (
	CategoryNetwork   Category = 1
	CategoryMedia     Category = 3
	CategoryManifest  Category = 4
	CategoryBuffer    Category = 5
	CategoryStreaming Category = 6
	CategoryInvariant Category = 9
)

func (c Category) String() string {
	switch c {
	case CategoryNetwork:
		return "network"
	case CategoryMedia:
		return "media"
	case CategoryManifest:
		return "manifest"
	case CategoryBuffer:
		return "buffer"
	case CategoryStreaming:
		return "streaming"
	case CategoryInvariant:
		return "invariant"
	default:
		return "unknown"
	}
}

// Code identifies a specific failure.
type Code int

// Network codes.
const (
	CodeUnsupportedScheme Code = 1000
	CodeBadHTTPStatus     Code = 1001
	CodeHTTPError         Code = 1002
	CodeTimeout           Code = 1003
	CodeMalformedDataURI  Code = 1004
	CodeRequestFiltered   Code = 1006
	CodeResponseFiltered  Code = 1007
	CodeStalled           Code = 1008
	CodeCircuitOpen       Code = 1009
	CodeOperationAborted  Code = 1010
)

// Media codes.
const (
	CodeContainerParse     Code = 3000
	CodeUnsupportedCodec   Code = 3001
	CodeMissingInitSegment Code = 3002
)

// Manifest codes.
const (
	CodeManifestUnknownType Code = 4000
	CodeManifestInvalid     Code = 4001
	CodeManifestNoVariants  Code = 4002
	CodeManifestUpdate      Code = 4003
)

// Buffer codes.
const (
	CodeAppendFailed  Code = 5000
	CodeQuotaExceeded Code = 5001
	CodeRemoveFailed  Code = 5002
	CodeSinkNotReady  Code = 5003
)

// Streaming codes.
const (
	CodeStreamingFailed Code = 6000
	CodeNoVariant       Code = 6001
	CodeEngineDestroyed Code = 6002
	CodeDRMNotReady     Code = 6003
	CodeStreamDisabled  Code = 6004
)

// Invariant codes.
const (
	CodeInvariantViolated Code = 9000
)

// Error is a categorized player error. It unwraps to Cause.
type Error struct {
	Severity    Severity
	Category    Category
	Code        Code
	Message     string
	ContentType string
	Cause       error
	Data        map[string]any
}

// New creates an error without a cause.
func New(sev Severity, cat Category, code Code, msg string) *Error {
	return &Error{Severity: sev, Category: cat, Code: code, Message: msg}
}

// Wrap creates an error around cause.
func Wrap(sev Severity, cat Category, code Code, msg string, cause error) *Error {
	return &Error{Severity: sev, Category: cat, Code: code, Message: msg, Cause: cause}
}

func (e *Error) Error() string {
	prefix := fmt.Sprintf("%s %s error %d", e.Severity, e.Category, e.Code)
	if e.ContentType != "" {
		prefix += " (" + e.ContentType + ")"
	}
	if e.Message != "" {
		prefix += ": " + e.Message
	}
	if e.Cause != nil {
		prefix += ": " + e.Cause.Error()
	}
	return prefix
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches another *Error by code.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// WithContentType returns a copy tagged with a content type.
func (e *Error) WithContentType(ct string) *Error {
	cp := *e
	cp.ContentType = ct
	return &cp
}

// WithSeverity returns a copy with a different severity.
func (e *Error) WithSeverity(sev Severity) *Error {
	cp := *e
	cp.Severity = sev
	return &cp
}

// WithData returns a copy carrying an extra key/value.
func (e *Error) WithData(key string, value any) *Error {
	cp := *e
	cp.Data = make(map[string]any, len(e.Data)+1)
	for k, v := range e.Data {
		cp.Data[k] = v
	}
	cp.Data[key] = value
	return &cp
}

// LogValue implements slog.LogValuer.
func (e *Error) LogValue() slog.Value {
	attrs := []slog.Attr{
		slog.String("severity", e.Severity.String()),
		slog.String("category", e.Category.String()),
		slog.Int("code", int(e.Code)),
		slog.String("message", e.Message),
	}
	if e.ContentType != "" {
		attrs = append(attrs, slog.String("content_type", e.ContentType))
	}
	if e.Cause != nil {
		attrs = append(attrs, slog.String("cause", e.Cause.Error()))
	}
	return slog.GroupValue(attrs...)
}

// As extracts an *Error from err's chain.
func As(err error) (*Error, bool) {
	var pe *Error
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}

// IsCritical reports whether err is a critical player error.
func IsCritical(err error) bool {
	pe, ok := As(err)
	return ok && pe.Severity == Critical
}

// CodeOf returns the code of err, or 0 when err is not a player error.
func CodeOf(err error) Code {
	if pe, ok := As(err); ok {
		return pe.Code
	}
	return 0
}
