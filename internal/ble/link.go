package ble

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/velopad/velopad/internal/events"
)

// State is the connection lifecycle state of the sensor link.
type State int

const (
	StateIdle State = iota
	StateScanning
	StateConnecting
	StateSubscribed
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateScanning:
		return "scanning"
	case StateConnecting:
		return "connecting"
	case StateSubscribed:
		return "subscribed"
	case StateDisconnected:
		return "disconnected"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Reason qualifies a Disconnected state.
type Reason int

const (
	ReasonNone Reason = iota
	ReasonScanTimeout
	ReasonConnectFailed
	ReasonLinkLost
	ReasonGaveUp
)

func (r Reason) String() string {
	switch r {
	case ReasonNone:
		return "none"
	case ReasonScanTimeout:
		return "scan timeout"
	case ReasonConnectFailed:
		return "connect failed"
	case ReasonLinkLost:
		return "link lost"
	case ReasonGaveUp:
		return "gave up"
	default:
		return fmt.Sprintf("reason(%d)", int(r))
	}
}

// LinkError is a transport-level failure tagged with the state machine
// reason that produced it.
type LinkError struct {
	Reason Reason
	Err    error
}

func (e *LinkError) Error() string {
	return fmt.Sprintf("link %s: %v", e.Reason, e.Err)
}

func (e *LinkError) Unwrap() error { return e.Err }

// Status is a snapshot of the state machine. Reason is meaningful only for
// StateDisconnected.
type Status struct {
	State  State
	Reason Reason
}

func (s Status) String() string {
	if s.State == StateDisconnected {
		return fmt.Sprintf("%s (%s)", s.State, s.Reason)
	}
	return s.State.String()
}

// Reading is one decoded power sample.
type Reading struct {
	Watts float64
	At    time.Time
}

// Consumer receives link output the moment it is observed: OnReading from
// the transport's notification goroutine, OnStatus from the link goroutine.
// Implementations must not block.
type Consumer interface {
	OnReading(Reading)
	OnStatus(Status)
}

type LinkConfig struct {
	NameSubstring  string
	ScanTimeout    time.Duration
	ConnectTimeout time.Duration
	BackoffInitial time.Duration
	BackoffMax     time.Duration
	// MaxRetries caps consecutive failed attempts before the link gives
	// up with a fatal error. 0 retries forever.
	MaxRetries int
}

// Link drives the scan -> connect -> subscribe -> streaming -> disconnect
// lifecycle against the sensor peripheral and hands decoded readings and
// state transitions to its Consumer. Transitions are strictly sequential;
// every Disconnected state except GaveUp retries automatically after a
// capped exponential backoff.
type Link struct {
	transport Transport
	cfg       LinkConfig
	consumer  Consumer
	logger    *log.Logger

	statusEvent *events.ChannelEvent[Status]

	mu     sync.RWMutex
	status Status
}

func NewLink(transport Transport, cfg LinkConfig, consumer Consumer, logger *log.Logger) *Link {
	if transport == nil {
		panic("Link: transport cannot be nil")
	}
	if consumer == nil {
		panic("Link: consumer cannot be nil")
	}
	if logger == nil {
		panic("Link: logger cannot be nil")
	}
	if cfg.ScanTimeout <= 0 || cfg.ConnectTimeout <= 0 {
		panic("Link: scan and connect timeouts must be > 0")
	}
	if cfg.BackoffInitial <= 0 || cfg.BackoffMax < cfg.BackoffInitial {
		panic("Link: backoff bounds must satisfy 0 < initial <= max")
	}
	return &Link{
		transport:   transport,
		cfg:         cfg,
		consumer:    consumer,
		logger:      logger,
		statusEvent: events.NewChannelEvent[Status](true),
		status:      Status{State: StateIdle},
	}
}

// ListenStatus registers ch to receive state transitions. The current
// status is replayed immediately. Returns a deregistration function.
func (l *Link) ListenStatus(ch chan<- Status) func() {
	return l.statusEvent.Listen(ch)
}

// Status returns the current state machine snapshot.
func (l *Link) Status() Status {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.status
}

func (l *Link) setStatus(state State, reason Reason) {
	l.mu.Lock()
	l.status = Status{State: state, Reason: reason}
	status := l.status
	l.mu.Unlock()
	l.logger.Printf("Link: -> %s", status)
	l.consumer.OnStatus(status)
	l.statusEvent.Notify(status)
}

// Run drives the lifecycle until ctx is cancelled or retries are exhausted.
// It returns ctx.Err() on cancellation and the fatal link error when the
// retry budget runs out.
func (l *Link) Run(ctx context.Context) error {
	failures := 0
	backoff := l.cfg.BackoffInitial

	for {
		subscribed, err := l.session(ctx)
		if ctx.Err() != nil {
			l.setStatus(StateIdle, ReasonNone)
			return ctx.Err()
		}
		if subscribed {
			// A completed streaming session resets the retry budget.
			failures = 0
			backoff = l.cfg.BackoffInitial
		}

		l.logger.Printf("Link: session ended: %v", err)

		failures++
		if l.cfg.MaxRetries > 0 && failures >= l.cfg.MaxRetries {
			l.setStatus(StateDisconnected, ReasonGaveUp)
			return fmt.Errorf("giving up after %d failed attempts: %w", failures, err)
		}

		l.logger.Printf("Link: retrying in %v", backoff)
		select {
		case <-ctx.Done():
			l.setStatus(StateIdle, ReasonNone)
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > l.cfg.BackoffMax {
			backoff = l.cfg.BackoffMax
		}
	}
}

// session runs one scan -> connect -> subscribe -> stream pass. It returns
// whether the subscribed state was reached and the error that ended the
// session (nil only on ctx cancellation).
func (l *Link) session(ctx context.Context) (bool, error) {
	l.setStatus(StateScanning, ReasonNone)

	scanCtx, cancelScan := context.WithTimeout(ctx, l.cfg.ScanTimeout)
	peripheral, err := l.transport.Scan(scanCtx, l.cfg.NameSubstring)
	cancelScan()
	if err != nil {
		l.setStatus(StateDisconnected, ReasonScanTimeout)
		return false, &LinkError{Reason: ReasonScanTimeout, Err: err}
	}

	l.logger.Printf("Link: found %s (%s), connecting", peripheral.Name(), peripheral.Address())
	l.setStatus(StateConnecting, ReasonNone)

	lost := make(chan struct{})
	var lostOnce sync.Once
	l.transport.SetConnectHandler(func(address string, connected bool) {
		if !connected && address == peripheral.Address() {
			lostOnce.Do(func() { close(lost) })
		}
	})

	connectCtx, cancelConnect := context.WithTimeout(ctx, l.cfg.ConnectTimeout)
	err = peripheral.Connect(connectCtx)
	cancelConnect()
	if err != nil {
		l.setStatus(StateDisconnected, ReasonConnectFailed)
		return false, &LinkError{Reason: ReasonConnectFailed, Err: err}
	}

	if err := peripheral.Subscribe(l.handleNotification); err != nil {
		if derr := peripheral.Disconnect(); derr != nil {
			l.logger.Printf("Link: error disconnecting after failed subscribe: %v", derr)
		}
		l.setStatus(StateDisconnected, ReasonConnectFailed)
		return false, &LinkError{Reason: ReasonConnectFailed, Err: err}
	}

	l.setStatus(StateSubscribed, ReasonNone)
	l.logger.Printf("Link: subscribed to cycling power notifications from %s", peripheral.Name())

	select {
	case <-ctx.Done():
		if err := peripheral.Disconnect(); err != nil {
			l.logger.Printf("Link: error disconnecting on shutdown: %v", err)
		}
		return true, nil
	case <-lost:
		l.setStatus(StateDisconnected, ReasonLinkLost)
		return true, &LinkError{Reason: ReasonLinkLost, Err: errors.New("notification stream terminated")}
	}
}

// handleNotification decodes one Cycling Power Measurement payload and
// hands it to the consumer. Malformed payloads and readings arriving
// outside the subscribed state are dropped and logged, never forwarded.
func (l *Link) handleNotification(buf []byte) {
	watts, err := DecodeInstantaneousPower(buf)
	if err != nil {
		l.logger.Printf("Link: dropping notification: %v", err)
		return
	}
	if watts < 0 {
		// Negative instantaneous power (backpedaling artifacts) clamps
		// to zero rather than reaching the curve.
		watts = 0
	}

	if l.Status().State != StateSubscribed {
		l.logger.Printf("Link: discarding %d W reading outside subscribed state", watts)
		return
	}

	l.consumer.OnReading(Reading{Watts: float64(watts), At: time.Now()})
}
