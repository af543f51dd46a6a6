package cdc

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/walfeed/walfeed/internal/alert"
	"github.com/walfeed/walfeed/internal/state"
)

// maxConsecutiveErrors is how many failed iterations in a row it takes to
// tear the session down and build a new one. Isolated decode errors from a
// partially buffered frame fix themselves on the next read; sustained
// errors mean protocol desync or a dead socket, and only a fresh stream
// recovers those.
const maxConsecutiveErrors = 3

// reconnectBackoff paces stream rebuild attempts when opening a new session
// itself keeps failing.
const reconnectBackoff = 5 * time.Second

// Publisher delivers one decoded event, serialized as JSON, to the
// in-process bus. Publishing is synchronous: the session loop does not read
// the next message until Publish returns, so a slow consumer slows decoding
// and, through delayed status feedback, lets WAL accumulate upstream. That
// is the intended flow-control path.
type Publisher interface {
	Publish(event string) error
}

// Manager owns one long-lived logical replication session: it drives the
// read-decode-publish-feedback loop and rebuilds the whole session after
// repeated failures.
type Manager struct {
	config    *ReplicationConfig
	publisher Publisher
	newStream func(ctx context.Context) (replicationStream, error)
	log       *logrus.Entry

	mu           sync.RWMutex
	alertManager *alert.Manager
	progress     *state.Store

	stream  replicationStream
	decoder *Decoder

	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

func NewManager(config *ReplicationConfig, publisher Publisher) *Manager {
	m := &Manager{
		config:    config,
		publisher: publisher,
		stopCh:    make(chan struct{}),
		log: logrus.WithFields(logrus.Fields{
			"component":   "cdc",
			"slot":        config.SlotName,
			"publication": config.PublicationName,
		}),
	}
	m.newStream = func(ctx context.Context) (replicationStream, error) {
		return OpenStream(ctx, m.config)
	}
	return m
}

func (m *Manager) SetAlertManager(am *alert.Manager) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.alertManager = am
}

func (m *Manager) SetProgressStore(s *state.Store) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.progress = s
}

// Start opens the initial stream and launches the session loop. A failure
// to open the first stream is fatal and returned to the caller.
func (m *Manager) Start(ctx context.Context) error {
	if m.running {
		return fmt.Errorf("manager already running")
	}

	stream, err := m.newStream(ctx)
	if err != nil {
		return fmt.Errorf("open replication stream: %w", err)
	}

	m.stream = stream
	m.decoder = NewDecoder()
	m.running = true
	m.recordSessionStart()

	m.wg.Add(1)
	go m.run(ctx)

	return nil
}

// Stop ends the session loop and closes the stream.
func (m *Manager) Stop(ctx context.Context) error {
	if !m.running {
		return nil
	}

	close(m.stopCh)
	m.wg.Wait()
	m.running = false

	if m.stream != nil {
		return m.stream.Close(ctx)
	}
	return nil
}

func (m *Manager) run(ctx context.Context) {
	defer m.wg.Done()

	errorCount := 0
	for {
		select {
		case <-m.stopCh:
			return
		case <-ctx.Done():
			return
		default:
		}

		if err := m.iterate(ctx); err != nil {
			if ctx.Err() != nil || m.stopping() {
				return
			}
			errorCount++
			m.log.WithError(err).WithField("consecutive_errors", errorCount).
				Error("replication iteration failed")
			if errorCount >= maxConsecutiveErrors {
				if !m.rebuildStream(ctx, err) {
					return
				}
				errorCount = 0
			}
		} else {
			errorCount = 0
		}
	}
}

// iterate performs one cycle of the session loop: read a frame, decode and
// publish every message in it, then acknowledge progress upstream. An empty
// read is a successful iteration.
func (m *Manager) iterate(ctx context.Context) error {
	frame, err := m.stream.ReadFrame(ctx)
	if err != nil {
		return err
	}
	if len(frame) == 0 {
		return nil
	}

	published := uint64(0)
	buf := newBuffer(frame)
	for buf.remaining() > 0 {
		event, err := m.decoder.Decode(buf)
		if err != nil {
			return err
		}
		if event == nil {
			continue
		}
		payload, err := json.Marshal(event)
		if err != nil {
			return fmt.Errorf("encode event: %w", err)
		}
		if err := m.publisher.Publish(string(payload)); err != nil {
			return fmt.Errorf("publish event: %w", err)
		}
		published++
	}

	if err := m.stream.SendStatus(ctx); err != nil {
		return err
	}
	m.recordAck(published)
	return nil
}

// rebuildStream tears down the current session and opens a new one with a
// fresh relation cache. Returns false when shutdown interrupted the rebuild.
func (m *Manager) rebuildStream(ctx context.Context, cause error) bool {
	m.log.WithError(cause).Warn("error threshold reached, rebuilding replication stream")

	m.mu.RLock()
	am := m.alertManager
	m.mu.RUnlock()
	if am != nil {
		_ = am.SendStreamRebuildAlert(m.config.SlotName, maxConsecutiveErrors, cause.Error())
	}

	if m.stream != nil {
		if err := m.stream.Close(ctx); err != nil {
			m.log.WithError(err).Warn("closing broken stream failed")
		}
	}

	for {
		stream, err := m.newStream(ctx)
		if err == nil {
			m.stream = stream
			break
		}
		m.log.WithError(err).Error("reopening replication stream failed")
		select {
		case <-time.After(reconnectBackoff):
		case <-m.stopCh:
			return false
		case <-ctx.Done():
			return false
		}
	}

	// the server re-sends Relation messages on a new session, so the old
	// schema cache must not survive into it
	m.decoder = NewDecoder()
	m.recordReconnect()
	m.recordSessionStart()
	m.log.Info("replication stream rebuilt")
	return true
}

func (m *Manager) stopping() bool {
	select {
	case <-m.stopCh:
		return true
	default:
		return false
	}
}

func (m *Manager) recordAck(published uint64) {
	m.mu.RLock()
	progress := m.progress
	m.mu.RUnlock()
	if progress == nil {
		return
	}
	if err := progress.RecordAck(uint64(m.stream.LastReceiveLSN()), published); err != nil {
		m.log.WithError(err).Warn("recording acknowledged position failed")
	}
}

func (m *Manager) recordReconnect() {
	m.mu.RLock()
	progress := m.progress
	m.mu.RUnlock()
	if progress == nil {
		return
	}
	if err := progress.RecordReconnect(); err != nil {
		m.log.WithError(err).Warn("recording reconnect failed")
	}
}

func (m *Manager) recordSessionStart() {
	m.mu.RLock()
	progress := m.progress
	m.mu.RUnlock()
	if progress == nil {
		return
	}
	if err := progress.RecordSessionStart(time.Now()); err != nil {
		m.log.WithError(err).Warn("recording session start failed")
	}
}
