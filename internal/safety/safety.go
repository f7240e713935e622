// Package safety implements a live-trading confirmation gate: starting the
// orchestrator against a live (non-paper) broker account requires a valid
// TOTP code from an operator-held authenticator, on top of config's
// live_trading_enabled flag.
package safety

import (
	"fmt"
	"os"
	"time"

	"github.com/pquerna/otp/totp"
)

// Gate enforces the live-trading confirmation step.
type Gate struct {
	secret string
}

// NewGate reads the shared TOTP secret from the named environment variable.
// An empty/missing secret means live trading can never be confirmed.
func NewGate(secretEnvVar string) *Gate {
	return &Gate{secret: os.Getenv(secretEnvVar)}
}

// Confirm validates an operator-supplied TOTP code against the gate's
// secret. It returns an error when live trading cannot be confirmed, which
// callers must treat as a hard stop (spec.md §7's Fatal-class handling: the
// process must not place live orders without this).
func (g *Gate) Confirm(code string) error {
	if g.secret == "" {
		return fmt.Errorf("live trading safety gate has no secret configured; refusing to start live")
	}
	ok, err := totp.ValidateCustom(code, g.secret, time.Now(), totp.ValidateOpts{
		Period: 30,
		Skew:   1,
		Digits: 6,
	})
	if err != nil {
		return fmt.Errorf("validating live-trading confirmation code: %w", err)
	}
	if !ok {
		return fmt.Errorf("live-trading confirmation code rejected")
	}
	return nil
}
