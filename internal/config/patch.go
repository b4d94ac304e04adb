package config

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/spf13/viper"
)

// ErrUnknownKey is returned by Patch for paths that are not configuration keys.
var ErrUnknownKey = errors.New("unknown configuration key")

// Keys returns every leaf configuration key in dotted form, sorted.
func Keys() []string {
	values := make(map[string]any)
	flatten(reflect.ValueOf(Config{}), "", values)
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Values returns every leaf value of cfg keyed by its dotted path.
func Values(cfg *Config) map[string]any {
	out := make(map[string]any)
	flatten(reflect.ValueOf(*cfg), "", out)
	return out
}

// Patch returns a copy of cfg with updates applied. Keys are dotted paths
// such as "streaming.buffering_goal"; values may be typed or strings
// ("30s", "2Mbps"). Unknown keys and invalid results are rejected and cfg
// is left untouched.
func Patch(cfg *Config, updates map[string]any) (*Config, error) {
	current := make(map[string]any)
	flatten(reflect.ValueOf(*cfg), "", current)

	v := viper.New()
	for k, val := range current {
		v.Set(k, val)
	}
	for k, val := range updates {
		key := strings.ToLower(k)
		if _, ok := current[key]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownKey, k)
		}
		v.Set(key, val)
	}

	var out Config
	if err := v.UnmarshalExact(&out, decodeHook()); err != nil {
		return nil, fmt.Errorf("applying config patch: %w", err)
	}
	if err := out.Validate(); err != nil {
		return nil, fmt.Errorf("validating config patch: %w", err)
	}
	return &out, nil
}

// flatten walks a struct by mapstructure tags, collecting leaf values.
func flatten(v reflect.Value, prefix string, out map[string]any) {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		tag := field.Tag.Get("mapstructure")
		if tag == "" || tag == "-" {
			continue
		}
		key := tag
		if prefix != "" {
			key = prefix + "." + tag
		}
		fv := v.Field(i)
		if fv.Kind() == reflect.Struct {
			flatten(fv, key, out)
			continue
		}
		out[key] = fv.Interface()
	}
}
