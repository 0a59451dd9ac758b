package conpro

import (
	"errors"
	"fmt"
	"net/netip"
	"time"

	"github.com/arloliu/go-conpro/eip"
	"github.com/arloliu/go-conpro/logger"
)

// ServiceConfig represents the configuration of a Service.
//
// A ServiceConfig is read-only once it has been passed to NewService.
type ServiceConfig struct {
	// setupTimeout bounds dialing the setup port and every request/reply exchange on it.
	// It should be between 100 milliseconds and 60 seconds.
	// Defaults to 5 seconds.
	setupTimeout time.Duration

	// pollTimeout is the receive timeout of the cyclic socket. The listener wakes at least this often
	// to check whether it should exit, and keep-alive senders wait at most this long for the socket.
	// It should be between 1 millisecond and 5 seconds.
	// Defaults to 50 milliseconds.
	pollTimeout time.Duration

	// closeTimeout bounds waiting for background tasks in Close. It should be between 1 and 30 seconds.
	// Defaults to 3 seconds.
	closeTimeout time.Duration

	// recvBufferSize is the read buffer size of both transports. It should be between 64 and 65535.
	// Defaults to 4096.
	recvBufferSize int

	// ports and bind host are fixed by the protocol; tests override them to run on loopback.
	setupPort      uint16
	cyclicPort     uint16
	cyclicPeerPort uint16
	bindHost       netip.Addr

	// logger provides a logger instance for logging session and cyclic I/O events.
	logger logger.Logger
}

// NewServiceConfig creates a new service configuration with default values and applies the given options.
//
// Returns a pointer to the initialized ServiceConfig and an error if any option is invalid.
func NewServiceConfig(opts ...ServiceOption) (*ServiceConfig, error) {
	cfg := &ServiceConfig{
		setupTimeout:   5 * time.Second,
		pollTimeout:    50 * time.Millisecond,
		closeTimeout:   3 * time.Second,
		recvBufferSize: 4096,
		setupPort:      eip.SetupPort,
		cyclicPort:     eip.CyclicPort,
		cyclicPeerPort: eip.CyclicPort,
		bindHost:       netip.IPv4Unspecified(),
		logger:         logger.GetLogger(),
	}

	for _, opt := range opts {
		if err := opt.apply(cfg); err != nil {
			return cfg, err
		}
	}

	return cfg, nil
}

// SetupTimeout returns the dial and exchange timeout of the setup stream.
func (cfg *ServiceConfig) SetupTimeout() time.Duration { return cfg.setupTimeout }

// PollTimeout returns the receive timeout of the cyclic socket.
func (cfg *ServiceConfig) PollTimeout() time.Duration { return cfg.pollTimeout }

// CloseTimeout returns the bound on waiting for background tasks in Close.
func (cfg *ServiceConfig) CloseTimeout() time.Duration { return cfg.closeTimeout }

// RecvBufferSize returns the read buffer size of both transports.
func (cfg *ServiceConfig) RecvBufferSize() int { return cfg.recvBufferSize }

// Logger returns the configured logger.
func (cfg *ServiceConfig) Logger() logger.Logger { return cfg.logger }

// ServiceOption represents a functional option for configuring a ServiceConfig.
type ServiceOption interface {
	apply(*ServiceConfig) error
}

type serviceOptFunc struct {
	name      string
	applyFunc func(*ServiceConfig) error
}

func (o *serviceOptFunc) apply(cfg *ServiceConfig) error {
	if cfg == nil {
		return ErrConfigNil
	}

	if err := o.applyFunc(cfg); err != nil {
		return fmt.Errorf("%s: %w", o.name, err)
	}

	return nil
}

func newServiceOptFunc(name string, f func(*ServiceConfig) error) *serviceOptFunc {
	return &serviceOptFunc{name: name, applyFunc: f}
}

// WithLogger sets the logger used by the service and everything it creates.
// A nil logger is rejected.
func WithLogger(l logger.Logger) ServiceOption {
	return newServiceOptFunc("WithLogger", func(cfg *ServiceConfig) error {
		if l == nil {
			return errors.New("logger is nil")
		}
		cfg.logger = l

		return nil
	})
}

// WithSetupTimeout sets the dial timeout and the per-exchange deadline of the setup stream.
// An error is returned if the timeout is outside the valid range [100ms, 60s].
//
// The default value is 5 seconds.
func WithSetupTimeout(val time.Duration) ServiceOption {
	return newServiceOptFunc("WithSetupTimeout", func(cfg *ServiceConfig) error {
		if val < 100*time.Millisecond || val > 60*time.Second {
			return errors.New("setup timeout out of range [100ms, 60s]")
		}
		cfg.setupTimeout = val

		return nil
	})
}

// WithPollTimeout sets the receive timeout of the cyclic socket.
// An error is returned if the timeout is outside the valid range [1ms, 5s].
//
// The default value is 50 milliseconds.
func WithPollTimeout(val time.Duration) ServiceOption {
	return newServiceOptFunc("WithPollTimeout", func(cfg *ServiceConfig) error {
		if val < time.Millisecond || val > 5*time.Second {
			return errors.New("poll timeout out of range [1ms, 5s]")
		}
		cfg.pollTimeout = val

		return nil
	})
}

// WithCloseTimeout sets how long Close waits for background tasks to exit.
// An error is returned if the timeout is outside the valid range [1s, 30s].
//
// The default value is 3 seconds.
func WithCloseTimeout(val time.Duration) ServiceOption {
	return newServiceOptFunc("WithCloseTimeout", func(cfg *ServiceConfig) error {
		if val < time.Second || val > 30*time.Second {
			return errors.New("close timeout out of range [1s, 30s]")
		}
		cfg.closeTimeout = val

		return nil
	})
}

// WithRecvBufferSize sets the read buffer size of both transports. Datagrams longer than the buffer
// are truncated and logged. An error is returned if the size is outside the valid range [64, 65535].
//
// The default value is 4096.
func WithRecvBufferSize(size int) ServiceOption {
	return newServiceOptFunc("WithRecvBufferSize", func(cfg *ServiceConfig) error {
		if size < 64 || size > 65535 {
			return errors.New("receive buffer size out of range [64, 65535]")
		}
		cfg.recvBufferSize = size

		return nil
	})
}

// withSetupPort overrides the TCP port dialed on every controller.
func withSetupPort(port uint16) ServiceOption {
	return newServiceOptFunc("withSetupPort", func(cfg *ServiceConfig) error {
		cfg.setupPort = port
		return nil
	})
}

// withCyclicPort overrides the local UDP port; 0 binds an ephemeral port.
func withCyclicPort(port uint16) ServiceOption {
	return newServiceOptFunc("withCyclicPort", func(cfg *ServiceConfig) error {
		cfg.cyclicPort = port
		return nil
	})
}

// withCyclicPeerPort overrides the UDP port keep-alives are sent to.
func withCyclicPeerPort(port uint16) ServiceOption {
	return newServiceOptFunc("withCyclicPeerPort", func(cfg *ServiceConfig) error {
		cfg.cyclicPeerPort = port
		return nil
	})
}

// withBindHost overrides the local address of the cyclic socket.
func withBindHost(host netip.Addr) ServiceOption {
	return newServiceOptFunc("withBindHost", func(cfg *ServiceConfig) error {
		if !host.Is4() {
			return errors.New("bind host must be an IPv4 address")
		}
		cfg.bindHost = host

		return nil
	})
}
