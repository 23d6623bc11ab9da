// Package jetstream backs the queue store with NATS JetStream streams.
package jetstream

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/nats-io/nats.go"

	"github.com/kbirk/svchost/pkg/log"
	"github.com/kbirk/svchost/pkg/queue"
)

type StoreConfig struct {
	URL string
	// Conn reuses an existing connection instead of dialing URL. It is not
	// closed by Close.
	Conn *nats.Conn
	// JetStreamOptions configure the JetStream context, e.g. nats.Domain.
	JetStreamOptions []nats.JSOpt
	Replicas         int
	Logger           log.Logger
}

// Store maps each queue onto a JetStream stream of the same name.
type Store struct {
	conf StoreConfig
	mu   sync.Mutex
	nc   *nats.Conn
	js   nats.JetStreamContext
}

func NewStore(conf StoreConfig) *Store {
	if conf.URL == "" {
		conf.URL = nats.DefaultURL
	}
	return &Store{conf: conf}
}

func (s *Store) logDebug(msg string) {
	if s.conf.Logger != nil {
		s.conf.Logger.Debug(msg)
	}
}

func (s *Store) jetStream() (nats.JetStreamContext, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.js != nil {
		return s.js, nil
	}
	nc := s.conf.Conn
	if nc == nil {
		var err error
		nc, err = nats.Connect(s.conf.URL, nats.Name("svchost-queue-store"))
		if err != nil {
			return nil, fmt.Errorf("failed to connect to NATS: %w", err)
		}
		s.nc = nc
	}
	js, err := nc.JetStream(s.conf.JetStreamOptions...)
	if err != nil {
		if s.nc != nil {
			s.nc.Close()
			s.nc = nil
		}
		return nil, fmt.Errorf("failed to open JetStream context: %w", err)
	}
	s.js = js
	return js, nil
}

func (s *Store) Exists(ctx context.Context, name string) (bool, error) {
	js, err := s.jetStream()
	if err != nil {
		return false, err
	}
	_, err = js.StreamInfo(queue.StreamName(name), nats.Context(ctx))
	if errors.Is(err, nats.ErrStreamNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *Store) Create(ctx context.Context, name string, opts queue.CreateOptions) error {
	js, err := s.jetStream()
	if err != nil {
		return err
	}
	cfg := StreamConfig(name, opts)
	if s.conf.Replicas > 0 {
		cfg.Replicas = s.conf.Replicas
	}
	_, err = js.AddStream(cfg, nats.Context(ctx))
	if errors.Is(err, nats.ErrStreamNameAlreadyInUse) {
		return nil
	}
	if err != nil {
		return err
	}
	s.logDebug(fmt.Sprintf("Created stream %s for queue %s", cfg.Name, name))
	return nil
}

// Close releases the connection if the store dialed it.
func (s *Store) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.nc != nil {
		s.nc.Close()
		s.nc = nil
	}
	s.js = nil
}

// StreamConfig is the stream backing queue name. Durable queues are file
// backed; transactional queues keep each message until it is acknowledged
// once.
func StreamConfig(name string, opts queue.CreateOptions) *nats.StreamConfig {
	cfg := &nats.StreamConfig{
		Name:        queue.StreamName(name),
		Description: name,
		Subjects:    []string{queue.Subject(name)},
		Storage:     nats.MemoryStorage,
		Retention:   nats.LimitsPolicy,
	}
	if opts.Durable {
		cfg.Storage = nats.FileStorage
	}
	if opts.Transactional {
		cfg.Retention = nats.WorkQueuePolicy
	}
	return cfg
}
