package audit

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLedger_RecordAndForPlay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.db")
	ledger, err := OpenLedger(path)
	require.NoError(t, err)
	defer ledger.Close()

	require.NoError(t, ledger.Record("play-1", "order_submitted", "order-abc"))
	require.NoError(t, ledger.Record("play-1", "state_transition", "NEW -> PENDING_OPENING (entry)"))
	require.NoError(t, ledger.Record("play-2", "order_submitted", "order-xyz"))

	rows, err := ledger.ForPlay("play-1")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "order_submitted", rows[0].Kind)
	assert.Equal(t, "state_transition", rows[1].Kind)

	other, err := ledger.ForPlay("play-2")
	require.NoError(t, err)
	require.Len(t, other, 1)
	assert.Equal(t, "order-xyz", other[0].Detail)
}

func TestLedger_ForPlay_UnknownPlayReturnsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.db")
	ledger, err := OpenLedger(path)
	require.NoError(t, err)
	defer ledger.Close()

	rows, err := ledger.ForPlay("nobody")
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestTrail_WithLedger_RecordsEvents(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.db")
	ledger, err := OpenLedger(path)
	require.NoError(t, err)
	defer ledger.Close()

	trail := New(nil).WithLedger(ledger)
	trail.OrderSubmitted("play-3", "order-1", "STO", "AAPL260116P00150000", 1)
	trail.StateTransition("play-3", "NEW", "PENDING_OPENING", "entry")
	trail.RiskDenied("play-3", "insufficient options buying power")

	rows, err := ledger.ForPlay("play-3")
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "order_submitted", rows[0].Kind)
	assert.Equal(t, "state_transition", rows[1].Kind)
	assert.Equal(t, "risk_denied", rows[2].Kind)
}

func TestTrail_WithoutLedger_NoPanic(t *testing.T) {
	trail := New(nil)
	assert.NotPanics(t, func() {
		trail.OrderSubmitted("play-4", "order-1", "STO", "AAPL260116P00150000", 1)
	})
}
