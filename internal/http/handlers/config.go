package handlers

import (
	"context"
	"fmt"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/jmylchreest/abrplay/internal/config"
)

// redactedKeys never leave the process.
var redactedKeys = map[string]bool{
	"database.dsn": true,
}

// ConfigHandler exposes the configuration new sessions start with.
type ConfigHandler struct {
	cfg *config.Config
}

// NewConfigHandler creates a config handler.
func NewConfigHandler(cfg *config.Config) *ConfigHandler {
	return &ConfigHandler{cfg: cfg}
}

// Register registers the config routes with the API.
func (h *ConfigHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "getConfig",
		Method:      http.MethodGet,
		Path:        "/api/v1/config",
		Summary:     "Get configuration",
		Description: "Returns the configuration new sessions start with, keyed by dotted path",
		Tags:        []string{"Configuration"},
	}, h.GetConfig)

	huma.Register(api, huma.Operation{
		OperationID: "listConfigKeys",
		Method:      http.MethodGet,
		Path:        "/api/v1/config/keys",
		Summary:     "List configuration keys",
		Description: "Returns every key accepted by session reconfiguration",
		Tags:        []string{"Configuration"},
	}, h.ListKeys)
}

// GetConfig returns the base configuration.
func (h *ConfigHandler) GetConfig(_ context.Context, _ *struct{}) (*ConfigOutput, error) {
	return &ConfigOutput{Body: configMap(h.cfg)}, nil
}

// ConfigKeysOutput lists configuration keys.
type ConfigKeysOutput struct {
	Body struct {
		Keys []string `json:"keys"`
	}
}

// ListKeys returns every configuration key.
func (h *ConfigHandler) ListKeys(_ context.Context, _ *struct{}) (*ConfigKeysOutput, error) {
	out := &ConfigKeysOutput{}
	out.Body.Keys = config.Keys()
	return out, nil
}

// configMap renders cfg for JSON: durations and units as their text forms,
// secrets redacted.
func configMap(cfg *config.Config) map[string]any {
	values := config.Values(cfg)
	for k, v := range values {
		if redactedKeys[k] {
			if s, ok := v.(string); ok && s != "" {
				values[k] = "[REDACTED]"
			}
			continue
		}
		if sv, ok := v.(fmt.Stringer); ok {
			values[k] = sv.String()
		}
	}
	return values
}
