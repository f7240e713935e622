// Package audit is a distinct, logrus-based event stream dedicated to
// broker-order lifecycle events and risk-gate denials (SPEC_FULL.md §4.12).
// It is kept separate from the zerolog application logger in
// internal/logging so the audit trail can be shipped or retained under a
// different policy than general debug logs.
package audit

import (
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// Trail is the audit logger. Callers log one structured event per call;
// Trail never aggregates or summarizes. When a Ledger is attached, every
// event is additionally recorded there for later querying.
type Trail struct {
	log    *logrus.Logger
	ledger *Ledger
}

// New builds a Trail writing JSON lines to the given writer (typically an
// append-mode file under the data root's logs/ directory). A nil writer
// defaults to stderr.
func New(w io.Writer) *Trail {
	if w == nil {
		w = os.Stderr
	}
	l := logrus.New()
	l.SetFormatter(&logrus.JSONFormatter{})
	l.SetOutput(w)
	l.SetLevel(logrus.InfoLevel)
	return &Trail{log: l}
}

// WithLedger attaches a queryable SQLite ledger; every subsequent event is
// recorded there in addition to the JSON log stream.
func (t *Trail) WithLedger(l *Ledger) *Trail {
	t.ledger = l
	return t
}

func (t *Trail) record(playID, kind, detail string) {
	if t.ledger == nil {
		return
	}
	if err := t.ledger.Record(playID, kind, detail); err != nil {
		t.log.WithError(err).Warn("failed to record audit ledger row")
	}
}

// OrderSubmitted records a broker order submission.
func (t *Trail) OrderSubmitted(playID, orderID, action, occSymbol string, qty int) {
	t.log.WithFields(logrus.Fields{
		"event":      "order_submitted",
		"play_id":    playID,
		"order_id":   orderID,
		"action":     action,
		"occ_symbol": occSymbol,
		"qty":        qty,
	}).Info("order submitted")
	t.record(playID, "order_submitted", orderID)
}

// OrderPolled records the outcome of a get_order poll.
func (t *Trail) OrderPolled(playID, orderID, status string, filledQty int, avgFillPrice float64) {
	t.log.WithFields(logrus.Fields{
		"event":          "order_polled",
		"play_id":        playID,
		"order_id":       orderID,
		"status":         status,
		"filled_qty":     filledQty,
		"avg_fill_price": avgFillPrice,
	}).Info("order polled")
	t.record(playID, "order_polled", status)
}

// OrderCanceled records a best-effort cancel request.
func (t *Trail) OrderCanceled(playID, orderID string) {
	t.log.WithFields(logrus.Fields{
		"event":    "order_canceled",
		"play_id":  playID,
		"order_id": orderID,
	}).Info("order canceled")
	t.record(playID, "order_canceled", orderID)
}

// StateTransition records a play moving between lifecycle states.
func (t *Trail) StateTransition(playID, from, to, reason string) {
	t.log.WithFields(logrus.Fields{
		"event":   "state_transition",
		"play_id": playID,
		"from":    from,
		"to":      to,
		"reason":  reason,
	}).Info("state transition")
	t.record(playID, "state_transition", fmt.Sprintf("%s -> %s (%s)", from, to, reason))
}

// RiskDenied records a risk-gate denial with its structured reason.
func (t *Trail) RiskDenied(playID, reason string) {
	t.log.WithFields(logrus.Fields{
		"event":   "risk_denied",
		"play_id": playID,
		"reason":  reason,
	}).Warn("risk denied")
	t.record(playID, "risk_denied", reason)
}

// TrailUpdated records a trailing-level ratchet.
func (t *Trail) TrailUpdated(playID string, peak, level float64) {
	t.log.WithFields(logrus.Fields{
		"event":   "trail_updated",
		"play_id": playID,
		"peak":    peak,
		"level":   level,
	}).Info("trail level updated")
	t.record(playID, "trail_updated", fmt.Sprintf("peak=%.4f level=%.4f", peak, level))
}
