// Package netcheck answers the single question the download path asks
// before touching the network: is there a usable connection right now.
package netcheck

import (
	"net"
	"time"
)

type Checker interface {
	IsConnected() bool
}

const (
	DefaultProbeAddr = "1.1.1.1:443"
	DefaultTimeout   = 3 * time.Second
)

// DialChecker probes connectivity with a short TCP dial. A failed dial is
// treated as offline; no distinction is made between DNS, route and timeout
// failures.
type DialChecker struct {
	Addr    string
	Timeout time.Duration
}

func NewDialChecker() DialChecker {
	return DialChecker{Addr: DefaultProbeAddr, Timeout: DefaultTimeout}
}

func (c DialChecker) IsConnected() bool {
	addr := c.Addr
	if addr == "" {
		addr = DefaultProbeAddr
	}
	timeout := c.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}

	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

// Static reports a fixed connectivity state.
type Static bool

func (s Static) IsConnected() bool {
	return bool(s)
}
