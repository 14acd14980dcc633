package session

import (
	"sync"
	"time"

	"github.com/hypercode/collab/internal/protocol"
)

// latencySamples bounds the rolling latency window.
const latencySamples = 200

// Metrics is a point-in-time snapshot of session counters.
type Metrics struct {
	BytesIn           int64
	BytesOut          int64
	ContentChangesIn  int64
	ContentChangesOut int64
	Reconnects        int64
	// JoinLatency is the delay between the last join being sent and the
	// membership confirmation, zero if never joined.
	JoinLatency time.Duration
	// AvgLatency averages the recent one-way delivery delays derived
	// from message timestamps. Clock skew between peers makes this an
	// estimate, not a measurement.
	AvgLatency time.Duration
}

type metrics struct {
	mu sync.Mutex

	bytesIn    int64
	bytesOut   int64
	contentIn  int64
	contentOut int64
	reconnects int64

	joinSentAt  time.Time
	joinLatency time.Duration

	latencies []time.Duration
	latencyAt int
}

func (m *metrics) addBytesIn(n int) {
	m.mu.Lock()
	m.bytesIn += int64(n)
	m.mu.Unlock()
}

func (m *metrics) addBytesOut(n int) {
	m.mu.Lock()
	m.bytesOut += int64(n)
	m.mu.Unlock()
}

func (m *metrics) markContentIn() {
	m.mu.Lock()
	m.contentIn++
	m.mu.Unlock()
}

func (m *metrics) markContentOut() {
	m.mu.Lock()
	m.contentOut++
	m.mu.Unlock()
}

func (m *metrics) markReconnect() {
	m.mu.Lock()
	m.reconnects++
	m.mu.Unlock()
}

func (m *metrics) markJoinSent() {
	m.mu.Lock()
	m.joinSentAt = time.Now()
	m.mu.Unlock()
}

func (m *metrics) markJoined() {
	m.mu.Lock()
	if !m.joinSentAt.IsZero() {
		m.joinLatency = time.Since(m.joinSentAt)
	}
	m.mu.Unlock()
}

// observeLatency records now minus the sender's epoch-millis timestamp.
// Non-positive deltas from skewed clocks are dropped.
func (m *metrics) observeLatency(ts int64) {
	if ts <= 0 {
		return
	}
	delta := protocol.NowMillis() - ts
	if delta <= 0 {
		return
	}
	d := time.Duration(delta) * time.Millisecond

	m.mu.Lock()
	if len(m.latencies) < latencySamples {
		m.latencies = append(m.latencies, d)
	} else {
		m.latencies[m.latencyAt] = d
		m.latencyAt = (m.latencyAt + 1) % latencySamples
	}
	m.mu.Unlock()
}

func (m *metrics) snapshot() Metrics {
	m.mu.Lock()
	defer m.mu.Unlock()

	var avg time.Duration
	if len(m.latencies) > 0 {
		var sum time.Duration
		for _, d := range m.latencies {
			sum += d
		}
		avg = sum / time.Duration(len(m.latencies))
	}

	return Metrics{
		BytesIn:           m.bytesIn,
		BytesOut:          m.bytesOut,
		ContentChangesIn:  m.contentIn,
		ContentChangesOut: m.contentOut,
		Reconnects:        m.reconnects,
		JoinLatency:       m.joinLatency,
		AvgLatency:        avg,
	}
}

// Metrics returns the session's current counters.
func (s *Session) Metrics() Metrics {
	return s.metrics.snapshot()
}
