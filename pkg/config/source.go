package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

const (
	KeyHostName = "HostName"
	KeyHostPort = "HostPort"
	KeyQueueURL = "QueueURL"

	EnvPrefix     = "SVCHOST_"
	EnvConfigPath = "SVCHOST_CONFIG"
)

// ErrNotConfigured reports a missing source, key or section. Callers treat it
// as a signal to fall back to a default, never as a failure.
var ErrNotConfigured = errors.New("not configured")

// Source is an external key/value settings store that may also carry named
// binding sections.
type Source interface {
	Setting(key string) (string, error)
	Binding(name string) (*BindingSection, error)
}

// Document is the on-disk shape of a settings file.
type Document struct {
	AppSettings map[string]string         `toml:"appSettings" yaml:"appSettings"`
	Bindings    map[string]BindingSection `toml:"bindings" yaml:"bindings"`
}

// BindingSection holds the fields a deployment sets for a named binding.
// Nil fields inherit the transport default.
type BindingSection struct {
	Namespace              *string       `toml:"namespace" yaml:"namespace"`
	MaxBufferSize          *int64        `toml:"maxBufferSize" yaml:"maxBufferSize"`
	MaxReceivedMessageSize *int64        `toml:"maxReceivedMessageSize" yaml:"maxReceivedMessageSize"`
	ReaderQuotas           *QuotaSection `toml:"readerQuotas" yaml:"readerQuotas"`
	OpenTimeout            *Duration     `toml:"openTimeout" yaml:"openTimeout"`
	CloseTimeout           *Duration     `toml:"closeTimeout" yaml:"closeTimeout"`
	ReceiveTimeout         *Duration     `toml:"receiveTimeout" yaml:"receiveTimeout"`
	ReceiveRetryCount      *int          `toml:"receiveRetryCount" yaml:"receiveRetryCount"`
	MaxRetryCycles         *int          `toml:"maxRetryCycles" yaml:"maxRetryCycles"`
	RetryCycleDelay        *Duration     `toml:"retryCycleDelay" yaml:"retryCycleDelay"`
	ReceiveErrorHandling   *string       `toml:"receiveErrorHandling" yaml:"receiveErrorHandling"`
}

type QuotaSection struct {
	MaxArrayLength         *int64 `toml:"maxArrayLength" yaml:"maxArrayLength"`
	MaxBytesPerRead        *int64 `toml:"maxBytesPerRead" yaml:"maxBytesPerRead"`
	MaxDepth               *int64 `toml:"maxDepth" yaml:"maxDepth"`
	MaxNameTableCharCount  *int64 `toml:"maxNameTableCharCount" yaml:"maxNameTableCharCount"`
	MaxStringContentLength *int64 `toml:"maxStringContentLength" yaml:"maxStringContentLength"`
}

// Duration decodes "10s" style strings from both TOML and YAML.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	return d.UnmarshalText([]byte(s))
}

func (d *Document) Setting(key string) (string, error) {
	if d == nil || d.AppSettings == nil {
		return "", ErrNotConfigured
	}
	v, ok := d.AppSettings[key]
	if !ok || strings.TrimSpace(v) == "" {
		return "", fmt.Errorf("setting %s: %w", key, ErrNotConfigured)
	}
	return strings.TrimSpace(v), nil
}

func (d *Document) Binding(name string) (*BindingSection, error) {
	if d == nil || d.Bindings == nil {
		return nil, ErrNotConfigured
	}
	b, ok := d.Bindings[name]
	if !ok {
		return nil, fmt.Errorf("binding %s: %w", name, ErrNotConfigured)
	}
	return &b, nil
}

// LoadFile reads a TOML or YAML settings document, chosen by extension.
func LoadFile(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config load failed (%s): %w", path, err)
	}
	var doc Document
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		err = toml.Unmarshal(data, &doc)
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &doc)
	default:
		return nil, fmt.Errorf("config load failed (%s): unsupported extension", path)
	}
	if err != nil {
		return nil, fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	return &doc, nil
}

type fileSource struct {
	path string
	once sync.Once
	doc  *Document
	err  error
}

// NewFileSource returns a Source backed by a settings file. The file is read
// on first use; a missing or malformed file yields errors on every lookup.
func NewFileSource(path string) Source {
	return &fileSource{path: path}
}

func (s *fileSource) load() (*Document, error) {
	s.once.Do(func() {
		s.doc, s.err = LoadFile(s.path)
	})
	return s.doc, s.err
}

func (s *fileSource) Setting(key string) (string, error) {
	doc, err := s.load()
	if err != nil {
		return "", err
	}
	return doc.Setting(key)
}

func (s *fileSource) Binding(name string) (*BindingSection, error) {
	doc, err := s.load()
	if err != nil {
		return nil, err
	}
	return doc.Binding(name)
}

// EnvSource reads settings from SVCHOST_<KEY> environment variables. It never
// carries binding sections.
type EnvSource struct {
	Prefix string
}

func (s EnvSource) Setting(key string) (string, error) {
	prefix := s.Prefix
	if prefix == "" {
		prefix = EnvPrefix
	}
	v := strings.TrimSpace(os.Getenv(prefix + strings.ToUpper(key)))
	if v == "" {
		return "", fmt.Errorf("env %s%s: %w", prefix, strings.ToUpper(key), ErrNotConfigured)
	}
	return v, nil
}

func (s EnvSource) Binding(name string) (*BindingSection, error) {
	return nil, ErrNotConfigured
}

type chain []Source

// Chain consults each source in order and returns the first hit.
func Chain(sources ...Source) Source {
	return chain(sources)
}

func (c chain) Setting(key string) (string, error) {
	err := error(ErrNotConfigured)
	for _, s := range c {
		if s == nil {
			continue
		}
		var v string
		v, err = s.Setting(key)
		if err == nil {
			return v, nil
		}
	}
	return "", err
}

func (c chain) Binding(name string) (*BindingSection, error) {
	err := error(ErrNotConfigured)
	for _, s := range c {
		if s == nil {
			continue
		}
		var b *BindingSection
		b, err = s.Binding(name)
		if err == nil {
			return b, nil
		}
	}
	return nil, err
}

var (
	defaultSourceOnce sync.Once
	defaultSource     Source
)

// DefaultSource is the process-wide settings source: environment variables
// first, then the file named by SVCHOST_CONFIG when set.
func DefaultSource() Source {
	defaultSourceOnce.Do(func() {
		sources := []Source{EnvSource{}}
		if path := strings.TrimSpace(os.Getenv(EnvConfigPath)); path != "" {
			sources = append(sources, NewFileSource(path))
		}
		defaultSource = Chain(sources...)
	})
	return defaultSource
}
