package driver

import (
	"time"

	"github.com/piconet-go/piconet/logger"
	"github.com/piconet-go/piconet/semver"
	"github.com/piconet-go/piconet/transport"
)

// Defaults of a driver configuration.
const (
	// DefaultDriverVersion is the firmware version this driver speaks. Boards with the same major
	// and minor version are accepted.
	DefaultDriverVersion = "2.0.20"

	DefaultStatusTimeout = 2 * time.Second  // STATUS reply timeout
	DefaultTxTimeout     = 20 * time.Second // TX_RESULT timeout, covers the firmware's retries
	DefaultReplyTimeout  = 2 * time.Second  // REPLY_RESULT timeout
)

// TransportFactory creates the transport for a device name. An empty name asks for auto-detection.
type TransportFactory func(device string) (transport.Transport, error)

// Config holds the configuration of a Driver.
type Config struct {
	driverVersion semver.Version

	statusTimeout time.Duration
	txTimeout     time.Duration
	replyTimeout  time.Duration

	factory       TransportFactory
	baudRate      int
	maxLineLength int
	debug         bool

	logger logger.Logger
}

// NewConfig creates a configuration from the defaults and the given options, applied in order.
func NewConfig(opts ...Option) (*Config, error) {
	cfg := &Config{
		driverVersion: semver.MustParse(DefaultDriverVersion),
		statusTimeout: DefaultStatusTimeout,
		txTimeout:     DefaultTxTimeout,
		replyTimeout:  DefaultReplyTimeout,
		baudRate:      transport.DefaultBaudRate,
		maxLineLength: transport.DefaultMaxLineLength,
		logger:        logger.GetLogger(),
	}

	for _, opt := range opts {
		if err := opt.apply(cfg); err != nil {
			return nil, err
		}
	}

	if cfg.factory == nil {
		cfg.factory = cfg.serialTransport
	}

	return cfg, nil
}

// serialTransport is the default TransportFactory.
func (cfg *Config) serialTransport(device string) (transport.Transport, error) {
	if device == "" {
		detected, err := transport.AutoDetect()
		if err != nil {
			return nil, err
		}
		cfg.logger.Info("auto-detected piconet device", "device", detected)
		device = detected
	}

	return transport.NewSerialTransport(device,
		transport.WithBaudRate(cfg.baudRate),
		transport.WithMaxLineLength(cfg.maxLineLength),
		transport.WithSerialLogger(cfg.logger),
	)
}

// DriverVersion returns the version checked against the firmware on connect.
func (cfg *Config) DriverVersion() semver.Version { return cfg.driverVersion }

// StatusTimeout returns how long to wait for a STATUS reply.
func (cfg *Config) StatusTimeout() time.Duration { return cfg.statusTimeout }

// TxTimeout returns how long to wait for a TX_RESULT.
func (cfg *Config) TxTimeout() time.Duration { return cfg.txTimeout }

// ReplyTimeout returns how long to wait for a REPLY_RESULT.
func (cfg *Config) ReplyTimeout() time.Duration { return cfg.replyTimeout }

// BaudRate returns the baud rate used by the default serial transport.
func (cfg *Config) BaudRate() int { return cfg.baudRate }

// MaxLineLength returns the longest inbound line accepted by the default serial transport.
func (cfg *Config) MaxLineLength() int { return cfg.maxLineLength }

// Debug returns whether raw lines are logged.
func (cfg *Config) Debug() bool { return cfg.debug }

// GetLogger returns the configured logger.
func (cfg *Config) GetLogger() logger.Logger { return cfg.logger }

// Option is a functional option for configuring a Driver.
type Option interface {
	apply(*Config) error
}

type optFunc func(*Config) error

func (f optFunc) apply(cfg *Config) error { return f(cfg) }

// WithDriverVersion overrides the version checked against the firmware.
func WithDriverVersion(version string) Option {
	return optFunc(func(cfg *Config) error {
		v, err := semver.Parse(version)
		if err != nil {
			return validationErr("driver version", version, "%v", err)
		}
		cfg.driverVersion = v

		return nil
	})
}

// WithStatusTimeout sets how long to wait for a STATUS reply. Default: 2s.
func WithStatusTimeout(d time.Duration) Option {
	return optFunc(func(cfg *Config) error {
		if d <= 0 {
			return validationErr("status timeout", d, "must be positive")
		}
		cfg.statusTimeout = d

		return nil
	})
}

// WithTxTimeout sets how long to wait for a TX_RESULT. Default: 20s.
func WithTxTimeout(d time.Duration) Option {
	return optFunc(func(cfg *Config) error {
		if d <= 0 {
			return validationErr("tx timeout", d, "must be positive")
		}
		cfg.txTimeout = d

		return nil
	})
}

// WithReplyTimeout sets how long to wait for a REPLY_RESULT. Default: 2s.
func WithReplyTimeout(d time.Duration) Option {
	return optFunc(func(cfg *Config) error {
		if d <= 0 {
			return validationErr("reply timeout", d, "must be positive")
		}
		cfg.replyTimeout = d

		return nil
	})
}

// WithTransportFactory sets the function creating a transport on Connect.
// By default a serial transport is created, auto-detecting the device when none is named.
func WithTransportFactory(factory TransportFactory) Option {
	return optFunc(func(cfg *Config) error {
		if factory == nil {
			return validationErr("transport factory", "<nil>", "must not be nil")
		}
		cfg.factory = factory

		return nil
	})
}

// WithTransport makes every Connect use t, ignoring the device name.
func WithTransport(t transport.Transport) Option {
	return optFunc(func(cfg *Config) error {
		if t == nil {
			return validationErr("transport", "<nil>", "must not be nil")
		}
		cfg.factory = func(string) (transport.Transport, error) { return t, nil }

		return nil
	})
}

// WithBaudRate sets the baud rate of the default serial transport. Default: 115200.
func WithBaudRate(rate int) Option {
	return optFunc(func(cfg *Config) error {
		if rate <= 0 {
			return validationErr("baud rate", rate, "must be positive")
		}
		cfg.baudRate = rate

		return nil
	})
}

// WithMaxLineLength sets the longest inbound line the default serial transport accepts.
// Default: transport.DefaultMaxLineLength.
func WithMaxLineLength(n int) Option {
	return optFunc(func(cfg *Config) error {
		if n < 1 {
			return validationErr("max line length", n, "must be positive")
		}
		cfg.maxLineLength = n

		return nil
	})
}

// WithDebug enables logging of every raw line at debug level.
func WithDebug(enabled bool) Option {
	return optFunc(func(cfg *Config) error {
		cfg.debug = enabled

		return nil
	})
}

// WithLogger sets the logger of the driver.
func WithLogger(l logger.Logger) Option {
	return optFunc(func(cfg *Config) error {
		if l == nil {
			return validationErr("logger", "<nil>", "must not be nil")
		}
		cfg.logger = l

		return nil
	})
}
