package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/xkilldash9x/scalpel-forms/api/schemas"
	"github.com/xkilldash9x/scalpel-forms/internal/config"
	"github.com/xkilldash9x/scalpel-forms/internal/observability"
	"github.com/xkilldash9x/scalpel-forms/internal/service"
	"github.com/xkilldash9x/scalpel-forms/internal/store"
)

const envPrefix = "SCALPEL_FORMS"

// engineFactory builds the engine a command runs against.
type engineFactory func(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*service.Engine, error)

func browserEngine(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*service.Engine, error) {
	c, err := service.NewComponents(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	return service.NewEngine(cfg, c, logger), nil
}

// historyStore is the read side of the submission history.
type historyStore interface {
	ListSubmissions(ctx context.Context, pageURL string, limit int) ([]store.SubmissionRecord, error)
	GetOutcome(ctx context.Context, id string) (*schemas.SubmissionOutcome, error)
	Close()
}

type storeFactory func(ctx context.Context, cfg config.DatabaseConfig, logger *zap.Logger) (historyStore, error)

func postgresStore(ctx context.Context, cfg config.DatabaseConfig, logger *zap.Logger) (historyStore, error) {
	return store.Open(ctx, cfg, logger)
}

// app is the state shared by the root command and its children for one execution.
type app struct {
	cfgFile   string
	cfg       *config.Config
	newEngine engineFactory
	openStore storeFactory
	confirm   confirmFunc
}

// NewRootCommand returns a fresh command tree. Each call is independent so
// flags from one execution never leak into the next.
func NewRootCommand() *cobra.Command {
	return newRootCmd(&app{newEngine: browserEngine, openStore: postgresStore, confirm: surveyConfirm})
}

func newRootCmd(a *app) *cobra.Command {

	root := &cobra.Command{
		Use:               "scalpel-forms",
		Short:             "Extract, fill and submit web forms through a real browser.",
		Version:           Version,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.load,
	}
	root.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	pf := root.PersistentFlags()
	pf.StringVarP(&a.cfgFile, "config", "c", "", "config file (default is ./config.yaml)")
	pf.Bool("headless", true, "run Chrome without a window")
	pf.String("remote-url", "", "attach to a running Chrome DevTools endpoint instead of launching one")
	pf.String("log-level", "", "override logger.level")

	root.AddCommand(newExtractCmd(a), newSubmitCmd(a), newHistoryCmd(a), newVersionCmd())
	return root
}

// load builds the configuration (defaults, file, environment, flags) and the logger.
func (a *app) load(cmd *cobra.Command, _ []string) error {
	v := viper.New()
	config.SetDefaults(v)

	if err := initializeConfig(v, a.cfgFile); err != nil {
		return fmt.Errorf("failed to initialize configuration: %w", err)
	}
	for key, flag := range map[string]string{
		"browser.headless":   "headless",
		"browser.remote_url": "remote-url",
		"logger.level":       "log-level",
	} {
		f := cmd.Flags().Lookup(flag)
		if f == nil || !f.Changed {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return err
		}
	}

	cfg, err := config.NewConfigFromViper(v)
	if err != nil {
		return fmt.Errorf("failed to load or validate config: %w", err)
	}
	observability.InitializeLogger(cfg.Logger())
	a.cfg = cfg

	observability.GetLogger().Debug("Configuration loaded.",
		zap.String("version", Version),
		zap.String("config_file", v.ConfigFileUsed()),
	)
	return nil
}

// initializeConfig reads the config file, if any, and enables environment overrides.
func initializeConfig(v *viper.Viper, cfgFile string) error {
	if cfgFile != "" {
		path, err := homedir.Expand(cfgFile)
		if err != nil {
			return err
		}
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}
	return nil
}

// Execute runs the command line against ctx. Errors are logged here; the
// caller only decides the exit code.
func Execute(ctx context.Context) error {
	if err := NewRootCommand().ExecuteContext(ctx); err != nil {
		if !errors.Is(err, context.Canceled) {
			observability.GetLogger().Error("Command execution failed.", zap.Error(err))
		}
		return err
	}
	return nil
}
