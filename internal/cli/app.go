package cli

import (
	"io"
	"os"

	"github.com/rileyhilliard/vmctl/internal/config"
	"github.com/rileyhilliard/vmctl/internal/controlplane"
	"github.com/rileyhilliard/vmctl/internal/errors"
	"github.com/rileyhilliard/vmctl/internal/logger"
)

// app is what a command needs once flags and config are resolved.
type app struct {
	cfg    *config.Config
	log    logger.Logger
	client *controlplane.Client

	closers []io.Closer
}

type appOptions struct {
	// component tags every log line.
	component string
	// tui means the terminal belongs to the dashboard: without a log file
	// nothing is logged at all.
	tui bool
}

// loadConfig resolves the config file, applies --server and validates.
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadOrDefault(cfgFile)
	if err != nil {
		return nil, err
	}
	if serverFlag != "" {
		cfg.ControlPlane.URL = serverFlag
		if err := config.Validate(cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// loadApp builds the config, logger and control plane client.
func loadApp(opts appOptions) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return newApp(cfg, opts)
}

func newApp(cfg *config.Config, opts appOptions) (*app, error) {
	a := &app{cfg: cfg}

	log, closer, err := openLogger(cfg.Log, opts)
	if err != nil {
		return nil, err
	}
	if closer != nil {
		a.closers = append(a.closers, closer)
	}
	a.log = log

	a.client = controlplane.NewClient(cfg.ControlPlane.URL, controlplane.Options{
		Timeout: cfg.ControlPlane.Timeout,
		Retries: cfg.ControlPlane.Retries,
		Logger:  log,
	})
	return a, nil
}

// Close releases the log file, if any.
func (a *app) Close() {
	for _, c := range a.closers {
		_ = c.Close()
	}
}

// openLogger picks the log destination. A log file gets the configured
// level. Without one, stderr is shared with command output, so only errors
// are shown there unless debug was asked for.
func openLogger(lc config.LogConfig, opts appOptions) (logger.Logger, io.Closer, error) {
	component := opts.component
	if component == "" {
		component = "vmctl"
	}

	if lc.File != "" {
		f, err := os.OpenFile(lc.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, errors.WrapWithCode(err, errors.ErrConfig,
				"Can't open log file "+lc.File,
				"Check log.file in your config points somewhere writable")
		}
		return logger.New(f, component, lc.Level), f, nil
	}

	if opts.tui {
		return logger.Noop(), nil, nil
	}
	level := lc.Level
	if level != "debug" {
		level = "error"
	}
	return logger.New(os.Stderr, component, level), nil, nil
}
