package cmd

import (
	"fmt"
	"reflect"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/jmylchreest/abrplay/internal/config"
	"github.com/jmylchreest/abrplay/pkg/duration"
)

var configDefaults bool

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration management commands",
	Long:  `Commands for inspecting abrplay configuration.`,
}

var configDumpCmd = &cobra.Command{
	Use:   "dump",
	Short: "Dump the effective configuration",
	Long: `Dump the effective configuration in YAML format.

With --defaults only built-in defaults are shown, which makes a good
starting template:

  abrplay config dump --defaults > abrplay.yaml

Configuration can be set via:
  - Config file (abrplay.yaml in ., ./configs or $HOME/.abrplay)
  - Environment variables (ABRPLAY_STREAMING_BUFFERING_GOAL, etc.)
  - Command-line flags (for some options)

Environment variables use the ABRPLAY_ prefix and underscores for nesting.
Example: abr.default_bandwidth_estimate -> ABRPLAY_ABR_DEFAULT_BANDWIDTH_ESTIMATE`,
	RunE: runConfigDump,
}

var configKeysCmd = &cobra.Command{
	Use:   "keys",
	Short: "List configuration keys",
	Long:  `List every dotted configuration key accepted by files, environment and the session configure API.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		for _, key := range config.Keys() {
			fmt.Fprintln(cmd.OutOrStdout(), key)
		}
		return nil
	},
}

func init() {
	configDumpCmd.Flags().BoolVar(&configDefaults, "defaults", false, "dump built-in defaults instead of the effective configuration")
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configDumpCmd)
	configCmd.AddCommand(configKeysCmd)
}

// toMap converts a struct to a map, formatting durations and sizes for human readability.
func toMap(v any) map[string]any {
	result := make(map[string]any)
	val := reflect.ValueOf(v)
	if val.Kind() == reflect.Ptr {
		val = val.Elem()
	}
	typ := val.Type()

	for i := range val.NumField() {
		field := val.Field(i)
		key := typ.Field(i).Tag.Get("mapstructure")
		if key == "" {
			key = typ.Field(i).Name
		}

		switch v := field.Interface().(type) {
		case time.Duration:
			result[key] = duration.Format(v)
		case fmt.Stringer:
			result[key] = v.String()
		default:
			if field.Kind() == reflect.Struct {
				result[key] = toMap(field.Interface())
			} else {
				result[key] = field.Interface()
			}
		}
	}
	return result
}

func runConfigDump(cmd *cobra.Command, _ []string) error {
	dump := cfg
	if configDefaults {
		dump = config.Default()
	}

	yamlData, err := yaml.Marshal(toMap(dump))
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "# abrplay Configuration File")
	fmt.Fprintln(out, "# ===========================")
	fmt.Fprintln(out, "#")
	fmt.Fprintln(out, "# Duration format: 500ms, 30s, 5m, 1h, 1d")
	fmt.Fprintln(out, "# Size format: 64MB, 1GB")
	fmt.Fprintln(out, "# Bitrate format: 500kbps, 2.5Mbps")
	fmt.Fprintln(out, "#")
	fmt.Fprintln(out, "# Environment variable overrides:")
	fmt.Fprintln(out, "#   ABRPLAY_SERVER_HOST, ABRPLAY_SERVER_PORT")
	fmt.Fprintln(out, "#   ABRPLAY_DATABASE_DRIVER, ABRPLAY_DATABASE_DSN")
	fmt.Fprintln(out, "#   ABRPLAY_LOGGING_LEVEL, ABRPLAY_LOGGING_FORMAT")
	fmt.Fprintln(out, "#   etc.")
	fmt.Fprintln(out)
	fmt.Fprint(out, string(yamlData))

	return nil
}
