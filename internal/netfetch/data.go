package netfetch

import (
	"context"
	"encoding/base64"
	"net/http"
	"net/url"
	"strings"

	"github.com/jmylchreest/abrplay/internal/playerr"
)

// DataPlugin serves RFC 2397 data: URIs, used for inline init segments and
// text tracks embedded in manifests.
type DataPlugin struct{}

// Fetch implements SchemePlugin.
func (DataPlugin) Fetch(_ context.Context, uri string, _ *Request) (*Response, error) {
	mimeType, data, err := ParseDataURI(uri)
	if err != nil {
		return nil, err
	}
	h := make(http.Header)
	h.Set("Content-Type", mimeType)
	return &Response{
		URI:         uri,
		OriginalURI: uri,
		Data:        data,
		Headers:     h,
		Status:      http.StatusOK,
	}, nil
}

// ParseDataURI decodes a data: URI into its media type and payload.
// An empty media type defaults to text/plain.
func ParseDataURI(uri string) (string, []byte, error) {
	malformed := func(msg string, cause error) error {
		return playerr.Wrap(playerr.Critical, playerr.CategoryNetwork, playerr.CodeMalformedDataURI, msg, cause)
	}

	rest, ok := strings.CutPrefix(uri, "data:")
	if !ok {
		if len(uri) >= 5 && strings.EqualFold(uri[:5], "data:") {
			rest = uri[5:]
		} else {
			return "", nil, malformed("not a data URI", nil)
		}
	}
	header, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return "", nil, malformed("missing comma", nil)
	}

	params := strings.Split(header, ";")
	mimeType := params[0]
	isBase64 := false
	if len(params) > 1 && strings.EqualFold(params[len(params)-1], "base64") {
		isBase64 = true
		params = params[:len(params)-1]
	}
	if mimeType == "" {
		mimeType = "text/plain"
	}
	if len(params) > 1 {
		mimeType += ";" + strings.Join(params[1:], ";")
	}

	if isBase64 {
		data, err := base64.StdEncoding.DecodeString(payload)
		if err != nil {
			// Some packagers emit unpadded payloads.
			data, err = base64.RawStdEncoding.DecodeString(strings.TrimRight(payload, "="))
			if err != nil {
				return "", nil, malformed("invalid base64 payload", err)
			}
		}
		return mimeType, data, nil
	}

	decoded, err := url.PathUnescape(payload)
	if err != nil {
		return "", nil, malformed("invalid percent-encoding", err)
	}
	return mimeType, []byte(decoded), nil
}
