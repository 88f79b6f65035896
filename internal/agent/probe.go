package agent

import (
	"context"
	"net"
	"time"
)

// Prober checks whether the network is reachable at all
type Prober interface {
	Reachable(ctx context.Context) bool
}

// TCPProber dials a well-known address
type TCPProber struct {
	Address string
	Timeout time.Duration
}

// Reachable reports whether a TCP connection could be opened
func (p TCPProber) Reachable(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, p.Timeout)
	defer cancel()

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", p.Address)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

// AlwaysReachable skips the probe
type AlwaysReachable struct{}

// Reachable always returns true
func (AlwaysReachable) Reachable(context.Context) bool { return true }

var (
	_ Prober = TCPProber{}
	_ Prober = AlwaysReachable{}
)
