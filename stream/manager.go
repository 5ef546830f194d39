package stream

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jpillora/backoff"

	"tradedeck/logger"
	"tradedeck/models"
	"tradedeck/venue"
)

// ErrNotConfigured is returned by Connect when no venue configuration has
// been supplied.
var ErrNotConfigured = errors.New("stream: no venue configuration set")

// MaxReconnectAttempts bounds the reconnection loop. After this many
// consecutive failures the manager gives up until the caller connects again.
const MaxReconnectAttempts = 5

// State is the connection lifecycle state.
type State string

const (
	StateIdle         State = "idle"
	StateConnecting   State = "connecting"
	StateOpen         State = "open"
	StateReconnecting State = "reconnecting"
	StateClosed       State = "closed"
)

const defaultPingInterval = 20 * time.Second

// Options tunes the streaming transport.
type Options struct {
	PingInterval time.Duration
}

// Manager owns the lifecycle of one streaming connection. Incoming frames
// are normalized by the venue driver and handed to the event handler in
// receipt order; malformed frames are logged and dropped. Lost connections
// are re-established with exponential backoff.
type Manager struct {
	driver  venue.Driver
	cfg     *models.VenueConfig
	handler func(*venue.Event)
	log     *logger.Log

	mu       sync.RWMutex
	conn     *websocket.Conn
	state    State
	stopping bool
	wg       sync.WaitGroup
	cancel   context.CancelFunc

	httpClient   *http.Client
	pingInterval time.Duration
	delayFor     func(attempt int) time.Duration
}

// NewManager creates a manager for one driver and configuration. The handler
// receives every normalized event; it must not be nil.
func NewManager(driver venue.Driver, cfg *models.VenueConfig, handler func(*venue.Event), opts Options) *Manager {
	pingInterval := opts.PingInterval
	if pingInterval <= 0 {
		pingInterval = defaultPingInterval
	}
	return &Manager{
		driver:       driver,
		cfg:          cfg,
		handler:      handler,
		log:          logger.GetLogger(),
		state:        StateIdle,
		httpClient:   &http.Client{Timeout: 10 * time.Second},
		pingInterval: pingInterval,
		delayFor:     ReconnectDelay,
	}
}

// ReconnectDelay computes the backoff delay for the given zero-based attempt:
// 2s, 4s, 8s, 16s, 32s.
func ReconnectDelay(attempt int) time.Duration {
	b := &backoff.Backoff{Min: 2 * time.Second, Max: 32 * time.Second, Factor: 2}
	return b.ForAttempt(float64(attempt))
}

// Connect tears down any prior session and opens a new one, subscribing to
// the given symbols once the socket is up. It returns ErrNotConfigured when
// no configuration is set; dial failures are handled by the reconnect loop.
func (m *Manager) Connect(ctx context.Context, symbols []string) error {
	if m.cfg == nil {
		return ErrNotConfigured
	}

	m.Disconnect()

	runCtx, cancel := context.WithCancel(ctx)

	m.mu.Lock()
	m.stopping = false
	m.state = StateConnecting
	m.cancel = cancel
	m.mu.Unlock()

	m.wg.Add(1)
	go m.run(runCtx, symbols)
	return nil
}

// Disconnect closes the socket and stops the reconnect loop. The attempt
// counter is reset so a later Connect starts fresh.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	m.stopping = true
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	if m.conn != nil {
		m.conn.Close()
		m.conn = nil
	}
	m.state = StateIdle
	m.mu.Unlock()

	m.wg.Wait()
}

// IsConnected reports whether the socket is currently open.
func (m *Manager) IsConnected() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state == StateOpen
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// run drives the dial / subscribe / read / reconnect cycle until the context
// is cancelled or the attempt budget is exhausted.
func (m *Manager) run(ctx context.Context, symbols []string) {
	defer m.wg.Done()

	log := m.log.WithComponent("stream_manager").WithFields(logger.Fields{
		"venue":   m.driver.Name(),
		"symbols": symbols,
	})

	attempt := 0
	for {
		if ctx.Err() != nil {
			return
		}

		wsURL := m.driver.StreamURL(m.cfg)
		m.setState(StateConnecting)

		// Session-auth venues exchange credentials for a token before the
		// socket can be dialed.
		if err := m.driver.Authenticate(ctx, m.cfg, m.httpClient); err != nil {
			log.WithError(err).Warn("failed to authenticate before stream connect")
			logger.IncrementReconnect()
			if !m.waitBackoff(ctx, &attempt, log) {
				return
			}
			continue
		}

		dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
		conn, _, err := dialer.DialContext(ctx, wsURL, nil)
		if err != nil {
			log.WithError(err).Warn("failed to connect websocket")
			logger.IncrementReconnect()
			if !m.waitBackoff(ctx, &attempt, log) {
				return
			}
			continue
		}

		if err := m.subscribe(conn, symbols); err != nil {
			log.WithError(err).Warn("failed to send subscription")
			conn.Close()
			if !m.waitBackoff(ctx, &attempt, log) {
				return
			}
			continue
		}

		m.mu.Lock()
		if m.stopping {
			m.mu.Unlock()
			conn.Close()
			return
		}
		m.conn = conn
		m.state = StateOpen
		m.mu.Unlock()
		attempt = 0

		log.Info("websocket connected")

		done := make(chan struct{})
		go m.pingLoop(conn, done)

		m.readLoop(conn, log)
		close(done)
		conn.Close()

		m.mu.Lock()
		m.conn = nil
		stopping := m.stopping
		if !stopping {
			m.state = StateClosed
		}
		m.mu.Unlock()

		if stopping || ctx.Err() != nil {
			return
		}

		log.Warn("websocket closed, reconnecting")
		logger.IncrementReconnect()
		if !m.waitBackoff(ctx, &attempt, log) {
			return
		}
	}
}

// waitBackoff sleeps for the computed delay. It returns false once the
// attempt budget is spent or the context is cancelled.
func (m *Manager) waitBackoff(ctx context.Context, attempt *int, log *logger.Entry) bool {
	if *attempt >= MaxReconnectAttempts {
		log.WithFields(logger.Fields{"attempts": *attempt}).Error("reconnect attempts exhausted, giving up")
		m.setState(StateClosed)
		return false
	}

	delay := m.delayFor(*attempt)
	*attempt++
	m.setState(StateReconnecting)

	log.WithFields(logger.Fields{"attempt": *attempt, "delay": delay.String()}).Info("waiting before reconnect")
	select {
	case <-time.After(delay):
		return true
	case <-ctx.Done():
		return false
	}
}

func (m *Manager) subscribe(conn *websocket.Conn, symbols []string) error {
	frames, err := m.driver.Subscription(m.cfg, symbols)
	if err != nil {
		return err
	}
	for _, frame := range frames {
		if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
			return err
		}
	}
	return nil
}

func (m *Manager) pingLoop(conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(m.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			conn.WriteMessage(websocket.PingMessage, nil)
		}
	}
}

// readLoop consumes frames until the connection drops. Events are dispatched
// synchronously so callbacks observe receipt order.
func (m *Manager) readLoop(conn *websocket.Conn, log *logger.Entry) {
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}

		events, err := m.driver.Normalize(msg)
		if err != nil {
			logger.IncrementFrameDropped()
			log.WithError(err).Debug("dropping malformed frame")
			continue
		}

		// Frame bytes are attributed to the first tick of the frame.
		frameBytes := len(msg)
		for _, event := range events {
			if event == nil {
				continue
			}
			if event.Tick != nil {
				logger.IncrementTickReceived(frameBytes)
				frameBytes = 0
			}

			m.mu.RLock()
			stopping := m.stopping
			m.mu.RUnlock()
			if stopping {
				return
			}

			m.handler(event)
		}
	}
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
}
