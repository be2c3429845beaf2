// Package netmon observes network reachability for the sync engine.
//
// The monitor is a passive observable: it probes the API host on an
// interval, classifies the connection, and emits a change event on
// every transition. It performs no mutations itself; the sync engine
// is the subscriber that turns an offline→online transition into a
// queue drain.
package netmon

import (
	"context"
	"log"
	"net"
	"os"
	"sync"
	"time"
)

// Class is the connection class of the current network path.
type Class string

const (
	ClassWiFi        Class = "wifi"
	ClassCellular    Class = "cellular"
	ClassWired       Class = "wired"
	ClassUnknown     Class = "unknown"
	ClassUnavailable Class = "unavailable"
)

// Change describes one connectivity transition.
type Change struct {
	Connected bool
	Class     Class
	At        time.Time
}

// Monitor reports connectivity and notifies subscribers of transitions.
type Monitor interface {
	// Connected reports current reachability.
	Connected() bool

	// Class reports the current connection class. Always
	// ClassUnavailable while disconnected, regardless of any stale
	// classification.
	Class() Class

	// Expensive reports whether the path is metered (advisory).
	Expensive() bool

	// Constrained reports whether the path is in low-data mode (advisory).
	Constrained() bool

	// Subscribe returns a channel receiving every transition. The
	// channel is buffered; slow consumers drop events rather than
	// blocking the monitor.
	Subscribe() <-chan Change
}

// Prober is the polling Monitor implementation. It dials the probe
// address on an interval and treats a successful TCP connect as online.
type Prober struct {
	addr     string
	interval time.Duration
	logger   *log.Logger

	mu          sync.Mutex
	connected   bool
	class       Class
	expensive   bool
	constrained bool
	subscribers []chan Change
	running     bool

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// ProberConfig configures the connectivity prober.
type ProberConfig struct {
	// Addr is the host:port dialed to probe reachability.
	Addr string

	// Interval is the probe cadence (default: 3s).
	Interval time.Duration

	// Logger for monitor activity (default: stderr logger).
	Logger *log.Logger
}

// NewProber creates a connectivity prober. Start must be called before
// it reports transitions; until the first probe completes the monitor
// reports disconnected.
func NewProber(config ProberConfig) *Prober {
	if config.Interval == 0 {
		config.Interval = 3 * time.Second
	}
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[netmon] ", log.LstdFlags)
	}
	return &Prober{
		addr:     config.Addr,
		interval: config.Interval,
		logger:   config.Logger,
		class:    ClassUnavailable,
	}
}

// Connected implements Monitor.
func (p *Prober) Connected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connected
}

// Class implements Monitor.
func (p *Prober) Class() Class {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.connected {
		return ClassUnavailable
	}
	return p.class
}

// Expensive implements Monitor.
func (p *Prober) Expensive() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.expensive
}

// Constrained implements Monitor.
func (p *Prober) Constrained() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.constrained
}

// Subscribe implements Monitor.
func (p *Prober) Subscribe() <-chan Change {
	ch := make(chan Change, 16)
	p.mu.Lock()
	p.subscribers = append(p.subscribers, ch)
	p.mu.Unlock()
	return ch
}

// Start begins probing. It returns immediately; probing runs in the
// background until Stop or ctx cancellation.
func (p *Prober) Start(ctx context.Context) {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return
	}
	p.running = true
	ctx, p.cancel = context.WithCancel(ctx)
	p.mu.Unlock()

	p.wg.Add(1)
	go p.loop(ctx)
}

// Stop halts probing and waits for the probe loop to exit.
func (p *Prober) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	cancel := p.cancel
	p.mu.Unlock()

	cancel()
	p.wg.Wait()
}

func (p *Prober) loop(ctx context.Context) {
	defer p.wg.Done()

	// Probe once up front so callers aren't blind for a full interval.
	p.probe(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.probe(ctx)
		}
	}
}

func (p *Prober) probe(ctx context.Context) {
	dialer := net.Dialer{Timeout: p.interval}
	conn, err := dialer.DialContext(ctx, "tcp", p.addr)
	up := err == nil
	if conn != nil {
		_ = conn.Close()
	}

	class := ClassUnavailable
	if up {
		// A plain TCP probe cannot tell wifi from wired; the class
		// stays unknown until a platform-specific prober refines it.
		class = ClassUnknown
	}
	p.setState(up, class)
}

// setState records the new state and notifies subscribers on a
// transition. Also the test hook for driving transitions directly.
func (p *Prober) setState(connected bool, class Class) {
	p.mu.Lock()
	if !connected {
		class = ClassUnavailable
	}
	transition := connected != p.connected || class != p.class
	p.connected = connected
	p.class = class
	subs := p.subscribers
	p.mu.Unlock()

	if !transition {
		return
	}

	change := Change{Connected: connected, Class: class, At: time.Now()}
	for _, ch := range subs {
		select {
		case ch <- change:
		default:
			// Drop rather than block the probe loop.
		}
	}
}

// CheckNow probes immediately instead of waiting for the next tick
// and reports whether the server answered. Safe without Start.
func (p *Prober) CheckNow(ctx context.Context) bool {
	p.probe(ctx)
	return p.Connected()
}

// SetState forces the monitor's state. Exposed for tests and for
// platform integrations that know the real connection class.
func (p *Prober) SetState(connected bool, class Class) {
	p.setState(connected, class)
}
