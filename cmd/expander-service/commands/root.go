package commands

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"expander-service/internal/config"
	"expander-service/internal/core"
	"expander-service/internal/logger"
)

var (
	version string
	commit  string
	date    string
)

type flagValues struct {
	configPath string
	logLevel   int
	logFile    string
	listenIP   string
	listenPort int
	serverIP   string
	serverPort int
	serialPort string
	bgPath     string
	soundsRoot string
}

var rootCmd = newRootCmd()

func newRootCmd() *cobra.Command {
	var fv flagValues
	cmd := &cobra.Command{
		Use:   "expander-service",
		Short: "Expander controller - OSC commands, audio playback, inputs and motor telemetry",
		Long: `expander-service drives an I/O expander installation. It accepts OSC
commands over UDP, plays sound effects and background music, debounces
digital inputs and relays motor controller telemetry from the serial link
as outbound OSC events.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, &fv)
			if err != nil {
				return err
			}
			return run(cmd.Context(), cmd.Version, cfg)
		},
	}

	bindFlags(cmd, &fv)
	return cmd
}

func bindFlags(cmd *cobra.Command, fv *flagValues) {
	f := cmd.Flags()
	f.StringVarP(&fv.configPath, "config", "c", "", "YAML config file")
	f.IntVar(&fv.logLevel, "log", 3, "Service log level (0=NONE, 1=ERROR, 2=WARN, 3=INFO, 4=DEBUG)")
	f.StringVar(&fv.logFile, "logfile", "", "Also append log lines to this file")
	f.StringVar(&fv.listenIP, "ip", "", "Command listen address")
	f.IntVar(&fv.listenPort, "port", 0, "Command listen port")
	f.StringVar(&fv.serverIP, "serverip", "", "Event destination address")
	f.IntVar(&fv.serverPort, "serverport", 0, "Event destination port")
	f.StringVar(&fv.serialPort, "serialport", "", "Motor controller serial port, e.g. ttyUSB0")
	f.StringVar(&fv.bgPath, "bgpath", "", "Background track directory, relative to the sounds root")
	f.StringVar(&fv.soundsRoot, "sounds", "", "Sounds root directory")
}

// Execute runs the root command. It is called once by main.main().
func Execute() error {
	rootCmd.SilenceUsage = true
	return rootCmd.Execute()
}

// SetVersionInfo sets the version information for the CLI
func SetVersionInfo(v, c, d string) {
	version = v
	commit = c
	date = d
	rootCmd.Version = fmt.Sprintf("%s (commit: %s, built: %s)", v, c, d)
}

// applyFlags overlays the flags the user actually set onto cfg.
func applyFlags(cmd *cobra.Command, fv *flagValues, cfg *config.Config) {
	changed := cmd.Flags().Changed

	if changed("log") {
		cfg.Logging.Level = fv.logLevel
	}
	if changed("logfile") {
		cfg.Logging.File = fv.logFile
	}
	if changed("ip") {
		cfg.Listen.Host = fv.listenIP
	}
	if changed("port") {
		cfg.Listen.Port = fv.listenPort
	}
	if changed("serverip") {
		cfg.Server.Host = fv.serverIP
	}
	if changed("serverport") {
		cfg.Server.Port = fv.serverPort
	}
	if changed("serialport") {
		cfg.Serial.Port = fv.serialPort
	}
	if changed("bgpath") {
		cfg.Sounds.BackgroundDir = fv.bgPath
	}
	if changed("sounds") {
		cfg.Sounds.Root = fv.soundsRoot
	}
}

func loadConfig(cmd *cobra.Command, fv *flagValues) (*config.Config, error) {
	cfg, err := config.Load(fv.configPath)
	if err != nil {
		return nil, err
	}
	applyFlags(cmd, fv, cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func run(parent context.Context, ver string, cfg *config.Config) error {
	l, err := logger.Setup(logger.LogLevel(cfg.Logging.Level), cfg.Logging.File)
	if err != nil {
		return err
	}
	defer l.Close()

	l.Infof("Starting expander service %s", ver)

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	system := core.NewExpanderSystem(cfg, l)
	if err := system.Start(ctx); err != nil {
		system.Shutdown()
		return fmt.Errorf("failed to start system: %w", err)
	}

	system.Run(ctx)
	if ctx.Err() != nil {
		l.Infof("Received signal, shutting down...")
	}
	system.Shutdown()
	return nil
}
