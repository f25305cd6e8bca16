package cmd

import (
	"fmt"
	"io"
	"reflect"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/jmylchreest/pandactl/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration management commands",
	Long:  `Commands for managing pandactl configuration.`,
}

var dumpDefaults bool

var configDumpCmd = &cobra.Command{
	Use:   "dump",
	Short: "Dump the effective configuration",
	Long: `Dump the effective configuration in YAML format, with credentials masked.

With --defaults only the built-in defaults are shown. Redirect the output to
a file to create a configuration template:

  pandactl config dump --defaults > pandactl.yaml

Configuration can be set via:
  - Config file (pandactl.yaml in ., $HOME/.pandactl or /etc/pandactl)
  - Environment variables (PANDACTL_API_ACCESS_KEY, PANDACTL_UPLOAD_WORKERS, etc.)
  - Command-line flags

Environment variables use the PANDACTL_ prefix and underscores for nesting.
Example: monitor.interval -> PANDACTL_MONITOR_INTERVAL`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg := appConfig
		if dumpDefaults || cfg == nil {
			cfg = config.Defaults()
		}
		return dumpConfig(cmd.OutOrStdout(), cfg.Redacted())
	},
}

func init() {
	configDumpCmd.Flags().BoolVar(&dumpDefaults, "defaults", false, "show the built-in defaults instead of the effective configuration")
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configDumpCmd)
}

// toMap converts a struct to a map keyed by mapstructure tags, formatting
// durations for human readability.
func toMap(v any) map[string]any {
	result := make(map[string]any)
	val := reflect.ValueOf(v)
	if val.Kind() == reflect.Ptr {
		val = val.Elem()
	}
	typ := val.Type()

	for i := 0; i < val.NumField(); i++ {
		field := val.Field(i)
		fieldType := typ.Field(i)

		key := fieldType.Tag.Get("mapstructure")
		if key == "" {
			key = fieldType.Name
		}

		switch v := field.Interface().(type) {
		case time.Duration:
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

func dumpConfig(out io.Writer, cfg config.Config) error {
	yamlData, err := yaml.Marshal(toMap(cfg))
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	fmt.Fprintln(out, "# pandactl configuration")
	fmt.Fprintln(out, "#")
	fmt.Fprintln(out, "# Duration format: 500ms, 30s, 5m, 1h")
	fmt.Fprintln(out, "# Credentials are masked.")
	fmt.Fprintln(out, "")
	_, err = out.Write(yamlData)
	return err
}
