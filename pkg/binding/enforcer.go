package binding

import (
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/kbirk/svchost/pkg/config"
	"github.com/kbirk/svchost/pkg/log"
	"github.com/kbirk/svchost/pkg/metrics"
	"github.com/kbirk/svchost/pkg/transport"
)

// Enforcer resolves one binding profile per transport kind, checks it against
// the policy ceiling and caches it. Only profiles that pass are cached.
type Enforcer struct {
	conf  EnforcerConfig
	mu    sync.RWMutex
	cache map[transport.Kind]*Profile
	group singleflight.Group
}

type EnforcerConfig struct {
	// Source supplies named binding sections. Nil means defaults only.
	Source config.Source
	Logger log.Logger
}

func NewEnforcer(conf EnforcerConfig) *Enforcer {
	return &Enforcer{
		conf:  conf,
		cache: make(map[transport.Kind]*Profile),
	}
}

var (
	defaultEnforcerOnce sync.Once
	defaultEnforcer     *Enforcer
)

// Default returns the process-wide enforcer over config.DefaultSource.
func Default() *Enforcer {
	defaultEnforcerOnce.Do(func() {
		defaultEnforcer = NewEnforcer(EnforcerConfig{Source: config.DefaultSource()})
	})
	return defaultEnforcer
}

func (e *Enforcer) logDebug(msg string) {
	if e.conf.Logger != nil {
		e.conf.Logger.Debug(msg)
	}
}

func (e *Enforcer) logWarn(msg string) {
	if e.conf.Logger != nil {
		e.conf.Logger.Warn(msg)
	}
}

func (e *Enforcer) logError(msg string) {
	if e.conf.Logger != nil {
		e.conf.Logger.Error(msg)
	}
}

// Cached returns the cached profile for kind, or nil.
func (e *Enforcer) Cached(kind transport.Kind) *Profile {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.cache[kind]
}

func (e *Enforcer) store(kind transport.Kind, p *Profile) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cache[kind] = p
}

// ResolveBinding returns the profile for kind. The first successful
// resolution is cached and every later call returns the same pointer.
func (e *Enforcer) ResolveBinding(kind transport.Kind) (*Profile, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("unknown transport kind %v", kind)
	}
	if p := e.Cached(kind); p != nil {
		return p, nil
	}

	v, err, _ := e.group.Do(kind.String(), func() (interface{}, error) {
		if p := e.Cached(kind); p != nil {
			return p, nil
		}
		p := e.load(kind)
		if err := e.EnforcePolicy(kind, p); err != nil {
			return nil, err
		}
		e.store(kind, p)
		e.logDebug(fmt.Sprintf("resolved %s binding %q", kind, p.Name))
		return p, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Profile), nil
}

// load reads the named section for kind, falling back to the default profile
// when the section is absent or malformed.
func (e *Enforcer) load(kind transport.Kind) *Profile {
	def := DefaultProfile(kind)
	if e.conf.Source == nil {
		return def
	}
	section, err := e.conf.Source.Binding(def.Name)
	if err != nil {
		if !errors.Is(err, config.ErrNotConfigured) {
			e.logWarn(fmt.Sprintf("binding %q unreadable, using default: %v", def.Name, err))
		}
		return def
	}
	p, err := overlay(def, section)
	if err != nil {
		e.logWarn(fmt.Sprintf("binding %q malformed, using default: %v", def.Name, err))
		return DefaultProfile(kind)
	}
	return p
}

// EnforcePolicy checks p against the ceiling for kind's transport family.
func (e *Enforcer) EnforcePolicy(kind transport.Kind, p *Profile) error {
	if p == nil {
		return fmt.Errorf("nil %s binding profile", kind)
	}
	err := CeilingFor(kind).Check(kind, p)
	if err != nil {
		var v *PolicyViolation
		if errors.As(err, &v) {
			metrics.RecordPolicyViolation(kind, v.Field)
		}
		e.logError(err.Error())
		return err
	}
	return nil
}

// SetBinding installs an explicit profile for kind. The profile is checked
// before it replaces the cached one, and a copy is stored.
func (e *Enforcer) SetBinding(kind transport.Kind, p *Profile) error {
	if !kind.Valid() {
		return fmt.Errorf("unknown transport kind %v", kind)
	}
	if err := e.EnforcePolicy(kind, p); err != nil {
		return err
	}
	c := p.Clone()
	c.Kind = kind
	e.store(kind, c)
	return nil
}
