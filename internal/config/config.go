// Package config holds the validated configuration of the feedrelay
// binaries. The fields are populated from command-line flags (or the
// environment, through flagx.ArgsFromEnv) by each main package.
package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"time"

	"github.com/m-lab/feedrelay/internal/backoff"
	"github.com/m-lab/feedrelay/pkg/feedrelay/spec"
)

var (
	ErrInvalidURL     = errors.New("invalid upstream URL")
	ErrInvalidHost    = errors.New("invalid collector host")
	ErrInvalidPort    = errors.New("invalid port")
	ErrInvalidMode    = errors.New("invalid mode")
	ErrInvalidBackoff = errors.New("invalid maximum backoff")
	ErrInvalidQueue   = errors.New("invalid queue size")
	ErrInvalidWindow  = errors.New("invalid collection window")
)

// Forwarder is the configuration of the forwarding node.
type Forwarder struct {
	UpstreamURL     string
	UpstreamChannel string
	CollectorHost   string
	CollectorPort   int
	MaxBackoff      time.Duration
	QueueSize       int
	// CC is the relay connection's congestion control algorithm, or empty
	// for the system default.
	CC    string
	Debug bool
}

// CollectorAddr returns the collector's host:port.
func (f *Forwarder) CollectorAddr() string {
	return net.JoinHostPort(f.CollectorHost, strconv.Itoa(f.CollectorPort))
}

// Backoff returns the reconnection policy.
func (f *Forwarder) Backoff() backoff.Policy {
	return policy(f.MaxBackoff)
}

// Validate checks the configuration. It does not touch the network.
func (f *Forwarder) Validate() error {
	if err := validateURL(f.UpstreamURL); err != nil {
		return err
	}
	if f.CollectorHost == "" {
		return fmt.Errorf("%w: must not be empty", ErrInvalidHost)
	}
	if err := validatePort(f.CollectorPort); err != nil {
		return err
	}
	if err := validateBackoff(f.MaxBackoff); err != nil {
		return err
	}
	if f.QueueSize < 1 {
		return fmt.Errorf("%w: %d", ErrInvalidQueue, f.QueueSize)
	}
	return nil
}

// Collector is the configuration of the collecting node.
type Collector struct {
	Mode spec.Mode
	// UpstreamURL and UpstreamChannel are only used in direct mode.
	UpstreamURL     string
	UpstreamChannel string
	// ListenPort is only used in relayed mode.
	ListenPort int

	Duration time.Duration
	Count    int

	// Output is the summary JSON path. CSVOutput and DataDir are optional.
	Output    string
	CSVOutput string
	DataDir   string

	MaxBackoff time.Duration
	Debug      bool
}

// ListenAddr returns the relay listen address.
func (c *Collector) ListenAddr() string {
	return net.JoinHostPort("", strconv.Itoa(c.ListenPort))
}

// Backoff returns the reconnection policy.
func (c *Collector) Backoff() backoff.Policy {
	return policy(c.MaxBackoff)
}

// Validate checks the configuration. It does not touch the network.
func (c *Collector) Validate() error {
	switch c.Mode {
	case spec.ModeDirect:
		if err := validateURL(c.UpstreamURL); err != nil {
			return err
		}
		if err := validateBackoff(c.MaxBackoff); err != nil {
			return err
		}
	case spec.ModeRelayed:
		if err := validatePort(c.ListenPort); err != nil {
			return err
		}
	default:
		return fmt.Errorf("%w: %q", ErrInvalidMode, c.Mode)
	}
	if c.Duration < 0 || c.Count < 0 {
		return fmt.Errorf("%w: negative duration or count", ErrInvalidWindow)
	}
	if c.Duration == 0 && c.Count == 0 {
		return fmt.Errorf("%w: either a duration or a count is required",
			ErrInvalidWindow)
	}
	return nil
}

func policy(max time.Duration) backoff.Policy {
	return backoff.Policy{Initial: spec.DefaultInitialBackoff, Max: max}
}

func validateURL(s string) error {
	u, err := url.Parse(s)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("%w: scheme must be ws or wss, got %q", ErrInvalidURL,
			u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("%w: missing host", ErrInvalidURL)
	}
	return nil
}

func validatePort(p int) error {
	if p < 1 || p > 65535 {
		return fmt.Errorf("%w: %d", ErrInvalidPort, p)
	}
	return nil
}

func validateBackoff(d time.Duration) error {
	if d < spec.DefaultInitialBackoff {
		return fmt.Errorf("%w: %v is below the initial backoff %v",
			ErrInvalidBackoff, d, spec.DefaultInitialBackoff)
	}
	return nil
}
