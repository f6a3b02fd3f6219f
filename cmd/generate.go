package cmd

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"text/template"

	"github.com/spf13/cobra"

	"github.com/TFMV/synowatch/internal/config"
)

var generatePaths []string

// generateConfigCmd represents the generate-config command
var generateConfigCmd = &cobra.Command{
	Use:   "generate-config",
	Short: "Print a configuration file",
	Long: `Print the effective configuration as YAML. Directories given with --path
replace the configured ones and use the default events and excludes.

Examples:
  synowatch generate-config > /etc/synowatch.yaml
  synowatch generate-config --path /volume1/music --path /volume2/video`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if configErr != nil {
			return configErr
		}
		cfg, err := config.Load(v)
		if err != nil {
			return err
		}
		return generateConfig(cmd.OutOrStdout(), cfg, generatePaths)
	},
}

// generateInitCmd represents the generate-init command
var generateInitCmd = &cobra.Command{
	Use:   "generate-init",
	Short: "Print an init script",
	Long: `Print an rc.d style init script that starts synowatch in the background
with the current --config, --pidfile, --logfile and --loglevel settings.

Example:
  synowatch generate-init --logfile /var/log/synowatch.log > /usr/local/etc/rc.d/synowatch.sh`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		exe, err := os.Executable()
		if err != nil {
			return fmt.Errorf("locate executable: %w", err)
		}
		script := initScript{
			Executable: exe,
			ConfigFile: cfgFile,
			PidFile:    v.GetString("pidfile"),
			LogFile:    v.GetString("logfile"),
			LogLevel:   v.GetString("loglevel"),
		}
		return generateInit(cmd.OutOrStdout(), script)
	},
}

func init() {
	rootCmd.AddCommand(generateConfigCmd)
	rootCmd.AddCommand(generateInitCmd)

	generateConfigCmd.Flags().StringSliceVar(&generatePaths, "path", nil, "directory to watch (repeatable)")
}

func generateConfig(w io.Writer, cfg *config.Config, paths []string) error {
	if len(paths) > 0 {
		cfg.Paths = cfg.Paths[:0]
		for _, p := range paths {
			abs, err := filepath.Abs(p)
			if err != nil {
				return fmt.Errorf("path %q: %w", p, err)
			}
			cfg.Paths = append(cfg.Paths, config.DefaultPath(abs))
		}
		if err := cfg.Validate(); err != nil {
			return err
		}
	}
	out, err := config.Marshal(cfg)
	if err != nil {
		return err
	}
	_, err = w.Write(out)
	return err
}

type initScript struct {
	Executable string
	ConfigFile string
	PidFile    string
	LogFile    string
	LogLevel   string
}

var initTemplate = template.Must(template.New("init").Parse(`#!/bin/sh
# synowatch init script, generated by "synowatch generate-init".

DAEMON="{{.Executable}}"
PIDFILE="{{.PidFile}}"
ARGS="watch --pidfile $PIDFILE{{if .ConfigFile}} --config {{.ConfigFile}}{{end}}{{if .LogFile}} --logfile {{.LogFile}}{{end}}{{if .LogLevel}} --loglevel {{.LogLevel}}{{end}}"

running() {
    [ -f "$PIDFILE" ] && kill -0 "$(cat "$PIDFILE")" 2>/dev/null
}

start() {
    if running; then
        echo "synowatch is already running"
        return 0
    fi
    echo "Starting synowatch"
    nohup $DAEMON $ARGS >/dev/null 2>&1 &
}

stop() {
    if ! running; then
        echo "synowatch is not running"
        return 0
    fi
    echo "Stopping synowatch"
    kill -TERM "$(cat "$PIDFILE")"
    for i in 1 2 3 4 5 6 7 8 9 10; do
        running || return 0
        sleep 1
    done
    echo "synowatch did not stop"
    return 1
}

case "$1" in
    start) start ;;
    stop) stop ;;
    restart) stop && start ;;
    status)
        if running; then
            echo "synowatch is running"
        else
            echo "synowatch is not running"
            exit 3
        fi
        ;;
    *)
        echo "Usage: $0 {start|stop|restart|status}"
        exit 1
        ;;
esac
`))

func generateInit(w io.Writer, s initScript) error {
	if s.PidFile == "" {
		s.PidFile = config.DefaultPidFile
	}
	if s.ConfigFile != "" {
		abs, err := filepath.Abs(s.ConfigFile)
		if err != nil {
			return fmt.Errorf("config file %q: %w", s.ConfigFile, err)
		}
		s.ConfigFile = abs
	}
	if err := initTemplate.Execute(w, s); err != nil {
		return fmt.Errorf("render init script: %w", err)
	}
	return nil
}
