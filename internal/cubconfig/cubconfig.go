// Package cubconfig implements cub's layered configuration: built-in
// defaults, overridden by a project config file, overridden by CUB_*
// environment variables, overridden by command-line flags. Each resolved
// value carries the layer it came from for diagnostics.
package cubconfig

import (
	"fmt"
	"os"
	"reflect"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// ValueSource names which layer supplied a configuration value.
type ValueSource string

const (
	SourceDefault ValueSource = "default"
	SourceFile    ValueSource = "file"
	SourceEnv     ValueSource = "env"
	SourceFlag    ValueSource = "flag"
)

// Config is the resolved run configuration (§4.4, §6.3 flags).
type Config struct {
	Harness        string  `mapstructure:"harness"`
	Model          string  `mapstructure:"model"`
	Once           bool    `mapstructure:"once"`
	Task           string  `mapstructure:"task"`
	Parent         string  `mapstructure:"parent"`
	Label          string  `mapstructure:"label"`
	MaxTokens      int     `mapstructure:"max_tokens"`
	MaxCostUSD     float64 `mapstructure:"max_cost_usd"`
	MaxTasks       int     `mapstructure:"max_tasks"`
	MaxIterations  int     `mapstructure:"max_iterations"`
	WarnAt         float64 `mapstructure:"warn_at"`
	PerTaskTimeout int     `mapstructure:"per_task_timeout_s"`
	Stream         bool    `mapstructure:"stream"`
	RequireClean   bool    `mapstructure:"require_clean"`
	ProjectDir     string  `mapstructure:"project_dir"`
	TaskBackend    string  `mapstructure:"task_backend"` // "jsonstore" (default) or "extstore"
	TaskBackendBin string  `mapstructure:"task_backend_bin"`
}

func defaults() Config {
	return Config{
		Harness:       "claude",
		MaxIterations: 0,
		WarnAt:        0.8,
		RequireClean:  true,
		ProjectDir:    ".",
		TaskBackend:   "jsonstore",
	}
}

// Loader resolves Config across the four layers using viper, tagging each
// resolved field's source for `cub config --explain`-style diagnostics.
type Loader struct {
	v   *viper.Viper
	cmd *cobra.Command
}

func NewLoader() *Loader {
	v := viper.New()
	v.SetConfigName("cub")
	v.SetConfigType("yaml")
	v.AddConfigPath(".cub")
	v.AddConfigPath(".")
	v.SetEnvPrefix("CUB")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	return &Loader{v: v}
}

// BindFlags wires a command's flags into the loader so a flag, when set,
// takes precedence over file and env values.
func (l *Loader) BindFlags(cmd *cobra.Command) error {
	l.cmd = cmd
	return l.v.BindPFlags(cmd.Flags())
}

// Load reads the project config file (if present) and merges
// defaults/file/env/flags into a resolved Config.
func (l *Loader) Load() (Config, error) {
	d := defaults()
	l.v.SetDefault("harness", d.Harness)
	l.v.SetDefault("warn_at", d.WarnAt)
	l.v.SetDefault("require_clean", d.RequireClean)
	l.v.SetDefault("project_dir", d.ProjectDir)
	l.v.SetDefault("task_backend", d.TaskBackend)

	if err := l.v.ReadInConfig(); err != nil {
		if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
			return Config{}, fmt.Errorf("cubconfig: %w", err)
		}
	}

	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("cubconfig: %w", err)
	}
	return cfg, nil
}

// Source reports which layer ultimately supplied key, checked in the same
// precedence order viper resolves values: flag, then env, then file, then
// the built-in default.
func (l *Loader) Source(key string) ValueSource {
	if l.cmd != nil {
		if flag := l.cmd.Flags().Lookup(key); flag != nil && flag.Changed {
			return SourceFlag
		}
	}
	envKey := "CUB_" + strings.ToUpper(strings.NewReplacer(".", "_", "-", "_").Replace(key))
	if _, present := os.LookupEnv(envKey); present {
		return SourceEnv
	}
	if l.v.InConfig(key) {
		return SourceFile
	}
	return SourceDefault
}

// WriteExample renders the default Config as plain YAML, keyed by the same
// names Load reads, suitable for seeding a project's .cub/cub.yaml.
func WriteExample() ([]byte, error) {
	v := reflect.ValueOf(defaults())
	out := make(map[string]any, v.NumField())
	for i := 0; i < v.NumField(); i++ {
		out[v.Type().Field(i).Tag.Get("mapstructure")] = v.Field(i).Interface()
	}
	return yaml.Marshal(out)
}
