package config

import (
	"fmt"
	"net"
)

const portLockName = "svchost-port.lock"

// FindAvailablePort binds an ephemeral tcp port and releases it. Discovery is
// serialised across processes so two callers never observe the same port
// before either has bound it.
func FindAvailablePort() (int, error) {
	unlock, err := lockPortDiscovery()
	if err != nil {
		return 0, err
	}
	defer unlock()

	l, err := net.Listen("tcp", ":0")
	if err != nil {
		return 0, err
	}
	addr, ok := l.Addr().(*net.TCPAddr)
	if !ok {
		l.Close()
		return 0, fmt.Errorf("unexpected listener address %v", l.Addr())
	}
	if err := l.Close(); err != nil {
		return 0, err
	}
	return addr.Port, nil
}
