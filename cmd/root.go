package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/TFMV/synowatch/internal/config"
	"github.com/TFMV/synowatch/internal/logging"
	"github.com/TFMV/synowatch/internal/tree"
)

var (
	cfgFile   string
	configErr error
	version   = "0.1.0"

	v = config.NewViper()
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "synowatch",
	Short: "Keep the Synology media index in sync with the file system",
	Long: `synowatch recursively watches the media shares of a DiskStation and
runs synoindex for every file or directory that is created, removed,
modified or renamed, so the media server sees changes made over SMB,
NFS, rsync or the shell.

Without a subcommand synowatch runs the watcher.`,
	Version:      version,
	SilenceUsage: true,
	RunE:         runWatch,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default $HOME/.synowatch.yaml or /etc/synowatch.yaml)")
	flags.String("logfile", "", "write program messages to this file instead of stderr")
	flags.String("loglevel", "", "minimum level that is logged (DEBUG|INFO|WARNING|ERROR, default INFO)")
	flags.String("pidfile", "", "write the process id to this file")
	flags.String("backend", "", "watch backend (inotify|fsnotify)")
	flags.String("command", "", "index command template (default \""+config.Default().Command+"\")")
	flags.Bool("dry-run", false, "log index commands without running them")
	flags.Float64("rate", 0, "maximum index commands per second (0 = unlimited)")
	flags.String("journal", "", "sqlite file journaling index commands until they succeed")
	flags.String("status-addr", "", "serve /metrics and /healthz on this address")

	// Bind flags to viper
	v.BindPFlag("logfile", flags.Lookup("logfile"))
	v.BindPFlag("loglevel", flags.Lookup("loglevel"))
	v.BindPFlag("pidfile", flags.Lookup("pidfile"))
	v.BindPFlag("backend", flags.Lookup("backend"))
	v.BindPFlag("command", flags.Lookup("command"))
	v.BindPFlag("dry_run", flags.Lookup("dry-run"))
	v.BindPFlag("rate", flags.Lookup("rate"))
	v.BindPFlag("journal", flags.Lookup("journal"))
	v.BindPFlag("status_addr", flags.Lookup("status-addr"))
}

// initConfig reads in the config file if one is given or found.
func initConfig() {
	if cfgFile == "" {
		cfgFile = config.Find()
	}
	if cfgFile == "" {
		return
	}
	v.SetConfigFile(cfgFile)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		configErr = fmt.Errorf("read config %s: %w", cfgFile, err)
	}
}

// loadConfig decodes the configuration and builds the logger it asks for.
func loadConfig() (*config.Config, *zap.Logger, error) {
	if configErr != nil {
		return nil, nil, configErr
	}
	cfg, err := config.Load(v)
	if err != nil {
		return nil, nil, err
	}
	logger, err := logging.New(cfg.LogLevel, cfg.LogFile)
	if err != nil {
		return nil, nil, err
	}
	if f := v.ConfigFileUsed(); f != "" {
		logger.Debug("using config file", zap.String("file", f))
	}
	return cfg, logger, nil
}

func newBackend(name string) (tree.Backend, error) {
	switch name {
	case config.BackendFsnotify:
		return tree.NewFsnotify()
	case config.BackendInotify:
		return tree.NewInotify()
	default:
		return nil, fmt.Errorf("unknown backend %q", name)
	}
}

// openTree opens the backend named in cfg and installs the configured roots.
func openTree(cfg *config.Config, logger *zap.Logger) (*tree.Tree, error) {
	roots, err := cfg.Roots()
	if err != nil {
		return nil, err
	}
	backend, err := newBackend(cfg.Backend)
	if err != nil {
		return nil, err
	}
	tr, err := tree.Open(backend, roots, tree.WithLogger(logger))
	if err != nil {
		backend.Close()
		return nil, watchLimitAdvice(err)
	}
	return tr, nil
}
