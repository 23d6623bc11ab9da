//go:build !unix

package config

import "sync"

// Without flock only callers inside this process are serialised.
var portMu sync.Mutex

func lockPortDiscovery() (func(), error) {
	portMu.Lock()
	return portMu.Unlock, nil
}
