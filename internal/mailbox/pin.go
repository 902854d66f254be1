package mailbox

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/nerrad567/transponder/internal/hardware"
)

// Press symbols.
const (
	SymbolShort = 's'
	SymbolLong  = 'l'
)

// ValidateSecret checks that secret is a press pattern over {s,l}
// beginning with the entry tap.
func ValidateSecret(secret string) error {
	if secret == "" || secret[0] != SymbolShort {
		return fmt.Errorf("%w: must start with %q", ErrInvalidSecret, SymbolShort)
	}
	if i := strings.IndexFunc(secret, func(r rune) bool {
		return r != SymbolShort && r != SymbolLong
	}); i >= 0 {
		return fmt.Errorf("%w: unexpected %q at %d", ErrInvalidSecret, secret[i], i)
	}
	return nil
}

// Classify maps a press duration to a symbol.
func Classify(held, longPress time.Duration) byte {
	if held >= longPress {
		return SymbolLong
	}
	return SymbolShort
}

// AuthResult describes one authentication attempt.
type AuthResult struct {
	OK bool

	// Cached is set when the unlock TTL skipped PIN entry.
	Cached bool

	// Attempt is the pattern entered, including the entry tap.
	Attempt string
}

// Presses is the number of presses the attempt consumed.
func (r AuthResult) Presses() int {
	return len(r.Attempt)
}

// AuthTiming holds the PIN entry thresholds.
type AuthTiming struct {
	Tick         time.Duration
	LongPress    time.Duration
	PressTimeout time.Duration
	UnlockTTL    time.Duration
}

// Authenticator runs PIN entry on one button. It is owned by a single
// station worker and is not safe for concurrent use.
type Authenticator struct {
	buttons hardware.ButtonSource
	pin     int
	secret  string
	timing  AuthTiming
	clock   Clock
	logger  Logger

	lastUnlock time.Time
}

// NewAuthenticator creates an Authenticator for the button on pin.
func NewAuthenticator(buttons hardware.ButtonSource, pin int, secret string, timing AuthTiming, clock Clock) (*Authenticator, error) {
	if err := ValidateSecret(secret); err != nil {
		return nil, err
	}
	return &Authenticator{
		buttons: buttons,
		pin:     pin,
		secret:  secret,
		timing:  timing,
		clock:   clock,
		logger:  noopLogger{},
	}, nil
}

// SetLogger sets the logger for button read faults.
func (a *Authenticator) SetLogger(logger Logger) {
	a.logger = logger
}

// LastUnlock returns the time of the last PIN match, zero if none.
func (a *Authenticator) LastUnlock() time.Time {
	return a.lastUnlock
}

// Authenticate runs one PIN entry. The caller has already seen the entry
// tap, which becomes the attempt's first symbol. The attempt is compared
// after that and after every later press; a wait longer than PressTimeout
// for the next press ends it. A timeout is a failed result, not an error;
// the only error is ctx ending.
func (a *Authenticator) Authenticate(ctx context.Context) (AuthResult, error) {
	if !a.lastUnlock.IsZero() && a.clock.Now().Sub(a.lastUnlock) < a.timing.UnlockTTL {
		return AuthResult{OK: true, Cached: true}, nil
	}

	attempt := []byte{SymbolShort}
	for {
		if string(attempt) == a.secret {
			a.lastUnlock = a.clock.Now()
			return AuthResult{OK: true, Attempt: string(attempt)}, nil
		}

		pressed, err := a.waitForPress(ctx)
		if err != nil {
			return AuthResult{Attempt: string(attempt)}, err
		}
		if !pressed {
			return AuthResult{Attempt: string(attempt)}, nil
		}

		held, err := a.measurePress(ctx)
		if err != nil {
			return AuthResult{Attempt: string(attempt)}, err
		}
		attempt = append(attempt, Classify(held, a.timing.LongPress))
	}
}

// waitForPress polls until the button is down or PressTimeout elapses.
func (a *Authenticator) waitForPress(ctx context.Context) (bool, error) {
	deadline := a.clock.Now().Add(a.timing.PressTimeout)
	for {
		if a.isPressed() {
			return true, nil
		}
		if !a.clock.Now().Before(deadline) {
			return false, nil
		}
		if err := a.clock.Sleep(ctx, a.timing.Tick); err != nil {
			return false, err
		}
	}
}

// measurePress polls until the button is released and returns how long it
// was held.
func (a *Authenticator) measurePress(ctx context.Context) (time.Duration, error) {
	start := a.clock.Now()
	for {
		if err := a.clock.Sleep(ctx, a.timing.Tick); err != nil {
			return 0, err
		}
		if !a.isPressed() {
			return a.clock.Now().Sub(start), nil
		}
	}
}

// isPressed treats a read fault as released.
func (a *Authenticator) isPressed() bool {
	pressed, err := a.buttons.IsPressed(a.pin)
	if err != nil {
		a.logger.Warn("button read failed during pin entry", "pin", a.pin, "error", err)
		return false
	}
	return pressed
}
