package scan

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"scantally/internal/recognition"
)

// Mode controls how a caller surfaces empty or failed recognition
// outcomes. Auto mode suppresses them (a live scan produces many empty
// frames); manual mode shows them after a deliberate user-triggered scan.
// The accumulator itself behaves identically in both.
type Mode string

const (
	ModeAuto   Mode = "auto"
	ModeManual Mode = "manual"
)

// ParseMode validates a mode string, defaulting empty to auto
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeAuto, "":
		return ModeAuto, nil
	case ModeManual:
		return ModeManual, nil
	}
	return "", fmt.Errorf("invalid scan mode %q", s)
}

// Status classifies the outcome of scanning one frame
type Status string

const (
	// StatusAdded means at least one new item was accumulated
	StatusAdded Status = "added"
	// StatusEmpty means recognition succeeded but nothing new was found
	StatusEmpty Status = "empty"
	// StatusThrottled means the frame arrived inside the minimum scan interval
	StatusThrottled Status = "throttled"
	// StatusFailed means the recognizer call failed; the session is untouched
	StatusFailed Status = "failed"
	// StatusBusy means a recognizer call was already in flight
	StatusBusy Status = "busy"
	// StatusStale means the session was reset while the call was in flight
	// and the result was discarded
	StatusStale Status = "stale"
)

// Outcome reports what one frame scan did to the session. Recognizer
// failures are carried in Error rather than returned as Go errors so a
// burst of transient failures never interrupts a scanning loop.
type Outcome struct {
	Status Status `json:"status"`
	Added  int    `json:"added"`
	Error  string `json:"error,omitempty"`
}

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

// defaultTimeSource provides the current time
type defaultTimeSource struct{}

func (t *defaultTimeSource) Now() time.Time {
	return time.Now()
}

// CaptureSource supplies camera frames for continuous scanning
type CaptureSource interface {
	// Frame returns the next captured frame and its content type
	Frame(ctx context.Context) (data []byte, contentType string, err error)
}

// LiveScanner drives one Session with an external frame recognizer. It
// enforces the single-flight rule (at most one recognizer call
// outstanding per session) and serializes all session mutations, so the
// surrounding server may call it from concurrent request handlers.
type LiveScanner struct {
	recognizer recognition.Recognizer
	session    *Session
	timeSource TimeSource

	mu       sync.Mutex
	inFlight bool
}

// NewLiveScanner creates a LiveScanner over a fresh session
func NewLiveScanner(recognizer recognition.Recognizer, minInterval time.Duration) *LiveScanner {
	return NewLiveScannerWithDeps(recognizer, NewSession(minInterval), &defaultTimeSource{})
}

// NewLiveScannerWithDeps creates a LiveScanner with custom dependencies for testing
func NewLiveScannerWithDeps(recognizer recognition.Recognizer, session *Session, timeSource TimeSource) *LiveScanner {
	return &LiveScanner{
		recognizer: recognizer,
		session:    session,
		timeSource: timeSource,
	}
}

// ScanFrame recognizes one frame and merges the result into the session.
// All failure modes come back as Outcome values, never as panics or
// torn session state. The throttle is checked before the recognizer call
// so frames inside the scan interval cost nothing.
func (l *LiveScanner) ScanFrame(ctx context.Context, frame []byte, contentType string) Outcome {
	l.mu.Lock()
	if l.inFlight {
		l.mu.Unlock()
		return Outcome{Status: StatusBusy}
	}
	now := l.timeSource.Now()
	if !l.session.lastScan.IsZero() && now.Sub(l.session.lastScan) < l.session.minInterval {
		l.mu.Unlock()
		return Outcome{Status: StatusThrottled}
	}
	epoch := l.session.epoch
	l.inFlight = true
	l.mu.Unlock()

	result, err := l.recognizer.Recognize(ctx, frame, contentType)

	l.mu.Lock()
	defer l.mu.Unlock()
	l.inFlight = false

	if l.session.epoch != epoch {
		// Session was reset mid-call; the result belongs to a scan flow
		// that no longer exists
		return Outcome{Status: StatusStale}
	}

	if err != nil {
		slog.Warn("Frame recognition failed", "error", err)
		return Outcome{Status: StatusFailed, Error: err.Error()}
	}

	res := l.session.IngestBatch(result.Items, result.RawText, l.timeSource.Now())
	switch {
	case res.Throttled:
		return Outcome{Status: StatusThrottled}
	case res.Added > 0:
		return Outcome{Status: StatusAdded, Added: res.Added}
	default:
		return Outcome{Status: StatusEmpty}
	}
}

// AutoScan repeatedly pulls frames from a capture source on a fixed
// cadence and scans them until the context is cancelled. Failures and
// empty frames are logged and suppressed, matching auto-mode policy.
func (l *LiveScanner) AutoScan(ctx context.Context, src CaptureSource, cadence time.Duration) {
	ticker := time.NewTicker(cadence)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			frame, contentType, err := src.Frame(ctx)
			if err != nil {
				slog.Debug("Capture source failed", "error", err)
				continue
			}
			outcome := l.ScanFrame(ctx, frame, contentType)
			if outcome.Status == StatusFailed {
				slog.Debug("Auto scan frame failed", "error", outcome.Error)
			}
		}
	}
}

// UpdateQuantity sets the quantity of the item at index
func (l *LiveScanner) UpdateQuantity(index int, quantity int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.session.UpdateQuantity(index, quantity)
}

// Remove deletes the item at index
func (l *LiveScanner) Remove(index int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.session.Remove(index)
}

// Reset clears the session; an in-flight recognition result, if any,
// will be discarded when it lands
func (l *LiveScanner) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.session.Reset()
}

// Confirm returns a snapshot of the accumulated items
func (l *LiveScanner) Confirm() []Item {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.session.Confirm()
}

// Items returns the accumulated items in display order
func (l *LiveScanner) Items() []Item {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.session.Items()
}

// Total returns the running total in cents
func (l *LiveScanner) Total() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.session.Total()
}

// Len returns the number of accumulated items
func (l *LiveScanner) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.session.Len()
}
