// Package mqtt publishes per-tick telemetry reports to an MQTT broker.
package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/signalsfoundry/station-keeper/internal/config"
	"github.com/signalsfoundry/station-keeper/internal/logging"
	"github.com/signalsfoundry/station-keeper/internal/sim"
)

const (
	connectTimeout = 10 * time.Second
	publishTimeout = 5 * time.Second
	// dropLogEvery limits drop warnings to one per this many dropped reports.
	dropLogEvery = 100
)

// ErrConnect is returned when the broker cannot be reached.
var ErrConnect = errors.New("mqtt connect failed")

// Client is the subset of paho.Client the sink uses.
type Client interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
	Disconnect(quiesce uint)
}

// Sink queues reports from the loop goroutine and publishes them from its
// own goroutine. A full queue drops the report.
type Sink struct {
	client Client
	topic  string
	log    logging.Logger

	mu     sync.RWMutex
	closed bool
	queue  chan []byte
	done   chan struct{}

	published atomic.Uint64
	dropped   atomic.Uint64
}

// Dial connects to cfg.Broker and returns a running sink.
func Dial(cfg config.MQTT, log logging.Logger) (*Sink, error) {
	opts := paho.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectTimeout(connectTimeout)
	c := paho.NewClient(opts)

	token := c.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return nil, fmt.Errorf("%w: %s: timed out after %s", ErrConnect, cfg.Broker, connectTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrConnect, cfg.Broker, err)
	}
	return New(c, cfg.Topic, cfg.QueueSize, log), nil
}

// New starts a sink over an already connected client.
func New(client Client, topic string, queueSize int, log logging.Logger) *Sink {
	if log == nil {
		log = logging.Noop()
	}
	if queueSize <= 0 {
		queueSize = 1
	}
	s := &Sink{
		client: client,
		topic:  topic,
		log:    log.With(logging.String("topic", topic)),
		queue:  make(chan []byte, queueSize),
		done:   make(chan struct{}),
	}
	go s.run()
	return s
}

// Observe implements sim.Observer. It never blocks.
func (s *Sink) Observe(r sim.Report) {
	payload, err := json.Marshal(r)
	if err != nil {
		s.log.Warn(context.Background(), "marshal report", logging.Err(err))
		return
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return
	}
	select {
	case s.queue <- payload:
	default:
		if n := s.dropped.Add(1); n%dropLogEvery == 1 {
			s.log.Warn(context.Background(), "telemetry queue full; dropping report",
				logging.Uint64("tick", r.Tick),
				logging.Uint64("dropped_total", n),
			)
		}
	}
}

func (s *Sink) run() {
	defer close(s.done)
	for payload := range s.queue {
		token := s.client.Publish(s.topic, 0, false, payload)
		if !token.WaitTimeout(publishTimeout) {
			s.log.Warn(context.Background(), "publish timed out", logging.Duration("timeout", publishTimeout))
			continue
		}
		if err := token.Error(); err != nil {
			s.log.Warn(context.Background(), "publish failed", logging.Err(err))
			continue
		}
		s.published.Add(1)
	}
}

// Close stops accepting reports, drains the queue and disconnects.
func (s *Sink) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	close(s.queue)
	s.mu.Unlock()

	<-s.done
	s.client.Disconnect(250)
	s.log.Info(context.Background(), "mqtt sink closed",
		logging.Uint64("published", s.published.Load()),
		logging.Uint64("dropped", s.dropped.Load()),
	)
}

// Published returns the number of reports delivered to the broker.
func (s *Sink) Published() uint64 { return s.published.Load() }

// Dropped returns the number of reports discarded because the queue was full.
func (s *Sink) Dropped() uint64 { return s.dropped.Load() }
