package jobs

import (
	"context"
	"log/slog"
	"net"
	"time"

	"telecom-keeper/internal/broadcast"
)

// Connectivity reports whether the host currently has network access.
// Watch yields the current value, then every change.
type Connectivity interface {
	Online() bool
	Watch(ctx context.Context) <-chan bool
}

func boolEqual(a, b bool) bool { return a == b }

// ManualConnectivity is switched explicitly. Useful for tests and for hosts
// that learn about connectivity from an external signal.
type ManualConnectivity struct {
	v *broadcast.Value[bool]
}

func NewManualConnectivity(online bool) *ManualConnectivity {
	return &ManualConnectivity{v: broadcast.New(online, boolEqual)}
}

func (c *ManualConnectivity) Set(online bool)                       { c.v.Publish(online) }
func (c *ManualConnectivity) Online() bool                          { return c.v.Load() }
func (c *ManualConnectivity) Watch(ctx context.Context) <-chan bool { return c.v.Subscribe(ctx) }

// ProbeConnectivity considers the host online while a TCP dial to Addr
// succeeds. Call Run to start probing.
type ProbeConnectivity struct {
	Addr     string
	Interval time.Duration
	Timeout  time.Duration
	Log      *slog.Logger

	v    *broadcast.Value[bool]
	dial func(ctx context.Context, network, addr string) (net.Conn, error)
}

func NewProbeConnectivity(addr string, interval time.Duration) *ProbeConnectivity {
	d := &net.Dialer{}
	return &ProbeConnectivity{
		Addr:     addr,
		Interval: interval,
		Timeout:  3 * time.Second,
		Log:      slog.Default(),
		v:        broadcast.New(false, boolEqual),
		dial:     d.DialContext,
	}
}

func (c *ProbeConnectivity) Online() bool                          { return c.v.Load() }
func (c *ProbeConnectivity) Watch(ctx context.Context) <-chan bool { return c.v.Subscribe(ctx) }

// Run probes immediately, then every Interval, until ctx is cancelled.
func (c *ProbeConnectivity) Run(ctx context.Context) {
	interval := c.Interval
	if interval <= 0 {
		interval = 10 * time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		c.probe(ctx)
		select {
		case <-ctx.Done():
			c.v.Close()
			return
		case <-t.C:
		}
	}
}

func (c *ProbeConnectivity) probe(ctx context.Context) {
	dctx, cancel := context.WithTimeout(ctx, c.Timeout)
	defer cancel()

	conn, err := c.dial(dctx, "tcp", c.Addr)
	online := err == nil
	if conn != nil {
		_ = conn.Close()
	}
	if c.v.Publish(online) {
		c.Log.Info("connectivity changed", "online", online, "probe_addr", c.Addr)
	}
}
