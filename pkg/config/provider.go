package config

import (
	"fmt"
	"os"
	"strconv"
	"sync"

	"github.com/kbirk/svchost/pkg/log"
)

// Provider resolves the network identity of this process. Values are
// resolved at most once and then reused for the lifetime of the provider.
type Provider struct {
	conf ProviderConfig

	nameOnce sync.Once
	name     string

	portMu sync.Mutex
	port   string
}

type ProviderConfig struct {
	Source Source
	Logger log.Logger
	// Hostname overrides the machine identity lookup, os.Hostname by default.
	Hostname func() (string, error)
	// FindPort overrides port discovery, FindAvailablePort by default.
	FindPort func() (int, error)
}

func NewProvider(conf ProviderConfig) *Provider {
	if conf.Hostname == nil {
		conf.Hostname = os.Hostname
	}
	if conf.FindPort == nil {
		conf.FindPort = FindAvailablePort
	}
	return &Provider{conf: conf}
}

var (
	defaultProviderOnce sync.Once
	defaultProvider     *Provider
)

// Default returns the process-wide provider over DefaultSource.
func Default() *Provider {
	defaultProviderOnce.Do(func() {
		defaultProvider = NewProvider(ProviderConfig{Source: DefaultSource()})
	})
	return defaultProvider
}

func (p *Provider) logDebug(msg string) {
	if p.conf.Logger != nil {
		p.conf.Logger.Debug(msg)
	}
}

// Setting looks up an arbitrary key. Lookup failures report ok == false.
func (p *Provider) Setting(key string) (string, bool) {
	if p.conf.Source == nil {
		return "", false
	}
	v, err := p.conf.Source.Setting(key)
	if err != nil {
		p.logDebug(fmt.Sprintf("setting %s not configured: %v", key, err))
		return "", false
	}
	return v, true
}

// GetHostName returns the configured host name, falling back to the machine
// name.
func (p *Provider) GetHostName() string {
	p.nameOnce.Do(func() {
		if v, ok := p.Setting(KeyHostName); ok {
			p.name = v
			return
		}
		name, err := p.conf.Hostname()
		if err != nil || name == "" {
			p.logDebug(fmt.Sprintf("machine name unavailable: %v", err))
			name = "localhost"
		}
		p.name = name
	})
	return p.name
}

// GetHostPort returns the configured host port, falling back to a freshly
// discovered free port. Only successful resolutions are memoized.
func (p *Provider) GetHostPort() (string, error) {
	p.portMu.Lock()
	defer p.portMu.Unlock()

	if p.port != "" {
		return p.port, nil
	}

	if v, ok := p.Setting(KeyHostPort); ok {
		if port, err := strconv.Atoi(v); err == nil && port > 0 && port <= 65535 {
			p.port = strconv.Itoa(port)
			return p.port, nil
		}
		p.logDebug(fmt.Sprintf("ignoring malformed %s %q", KeyHostPort, v))
	}

	port, err := p.conf.FindPort()
	if err != nil {
		return "", fmt.Errorf("failed to discover an available port: %w", err)
	}
	p.port = strconv.Itoa(port)
	return p.port, nil
}
