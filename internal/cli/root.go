// Package cli wires configuration, the dataset and the recommendation
// pipeline into the carrec commands.
package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"carrec/internal/config"
	"carrec/internal/domain"
	"carrec/internal/logging"
)

const envPrefix = "CARREC"

// flag keys shared between cobra and viper
const (
	keyConfig   = "config"
	keyData     = "data"
	keyProvider = "provider"
	keyModel    = "model"
	keyLogLevel = "log-level"
	keyYearMin  = "year-min"
	keyYearMax  = "year-max"
	keyMake     = "make"
	keyBodyType = "body-type"
	keyTopN     = "top-n"
)

// app is the state a command run shares between its pre-run hook and body.
type app struct {
	v   *viper.Viper
	cfg *config.AppConfig
	// cfgPath is where the configuration was read from; empty for built-in defaults.
	cfgPath string
}

// NewRootCmd builds the command tree. Each call gets its own viper instance.
func NewRootCmd() *cobra.Command {
	a := &app{v: viper.New()}

	root := &cobra.Command{
		Use:   "carrec",
		Short: "Natural-language car recommendations over a CSV dataset",
		Long: `carrec loads a vehicle CSV, asks a hosted language model which cars fit
your requirements and maps the answer back to rows of the dataset.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd)
		},
	}

	pf := root.PersistentFlags()
	pf.String(keyConfig, "", "path to YAML config (default ./config.yaml, then ~/.config/carrec/config.yaml)")
	pf.String(keyData, "", "vehicle CSV to load (overrides dataset.path)")
	pf.String(keyProvider, "", "text generation provider: anthropic or openai")
	pf.String(keyModel, "", "model name sent to the provider")
	pf.String(keyLogLevel, "", "log level: trace, debug, info, warn, error, disabled")
	pf.Int(keyYearMin, 0, "earliest model year to consider")
	pf.Int(keyYearMax, 0, "latest model year to consider")
	pf.StringSlice(keyMake, nil, "manufacturers to consider (repeatable)")
	pf.StringSlice(keyBodyType, nil, "body types / size classes to consider (repeatable)")
	pf.Int(keyTopN, 0, "number of recommendations to return")

	_ = a.v.BindPFlags(pf)
	a.v.SetEnvPrefix(envPrefix)
	a.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	a.v.AutomaticEnv()

	root.AddCommand(
		newTUICmd(a),
		newRecommendCmd(a),
		newServeCmd(a),
		newInsightsCmd(a),
	)
	return root
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func (a *app) setup(cmd *cobra.Command) error {
	_ = godotenv.Load()

	var err error
	if path := a.v.GetString(keyConfig); path != "" {
		a.cfg, err = config.Load(path)
		a.cfgPath = path
	} else {
		a.cfg, a.cfgPath, err = config.LoadDefault()
	}
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	a.applyOverrides()
	if err := a.cfg.Validate(); err != nil {
		return err
	}

	// the TUI owns the terminal and sets up its own log file
	if cmd.Name() != "tui" {
		logging.Init(logging.Config{Level: a.cfg.Log.Level, Format: a.cfg.Log.Format, Output: cmd.ErrOrStderr()})
	}
	return nil
}

func (a *app) applyOverrides() {
	if s := a.v.GetString(keyData); s != "" {
		a.cfg.Dataset.Path = s
	}
	if s := a.v.GetString(keyProvider); s != "" && !strings.EqualFold(s, a.cfg.Provider.Type) {
		// provider-specific defaults belong to the old provider
		a.cfg.Provider = config.ProviderConfig{
			Type:        strings.ToLower(s),
			Temperature: a.cfg.Provider.Temperature,
			MaxTokens:   a.cfg.Provider.MaxTokens,
			TimeoutSecs: a.cfg.Provider.TimeoutSecs,
		}
		config.ApplyDefaults(a.cfg)
	}
	if s := a.v.GetString(keyModel); s != "" {
		a.cfg.Provider.Model = s
	}
	if s := a.v.GetString(keyLogLevel); s != "" {
		a.cfg.Log.Level = s
	}
	if n := a.v.GetInt(keyTopN); n > 0 {
		a.cfg.Pipeline.TopN = n
	}
}

func (a *app) criteria() domain.FilterCriteria {
	return domain.FilterCriteria{
		YearMin:   a.v.GetInt(keyYearMin),
		YearMax:   a.v.GetInt(keyYearMax),
		Makes:     a.v.GetStringSlice(keyMake),
		BodyTypes: a.v.GetStringSlice(keyBodyType),
	}
}
