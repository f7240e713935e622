package errs

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidationError_FormatsSubjectAndReason(t *testing.T) {
	err := &ValidationError{Subject: "play-1", Reason: "strike must be positive"}
	assert.Equal(t, "validation error on play-1: strike must be positive", err.Error())
}

func TestNoData_FormatsEndpointAndArgs(t *testing.T) {
	err := &NoData{Endpoint: "stock_quote", Args: "AAPL"}
	assert.Contains(t, err.Error(), "stock_quote(AAPL)")
}

func TestTransportFailure_UnwrapsToLastCause(t *testing.T) {
	cause := errors.New("timeout")
	err := &TransportFailure{Endpoint: "chain", Args: "SPY", Last: cause}
	assert.ErrorIs(t, err, cause)
}

func TestBrokerRejected_FormatsOrderIDAndReason(t *testing.T) {
	err := &BrokerRejected{OrderID: "42", Reason: "insufficient margin"}
	assert.Equal(t, "broker rejected order 42: insufficient margin", err.Error())
}

func TestBrokerUnavailable_UnwrapsToUnderlyingError(t *testing.T) {
	cause := errors.New("connection reset")
	err := &BrokerUnavailable{Op: "get_order", Last: cause}
	assert.ErrorIs(t, err, cause)
}

func TestRiskDenied_FormatsPlayIDAndReason(t *testing.T) {
	err := &RiskDenied{PlayID: "p9", Reason: "insufficient options buying power"}
	assert.Contains(t, err.Error(), "p9")
	assert.Contains(t, err.Error(), "insufficient options buying power")
}

func TestIntegrityError_FormatsPlayIDAndReason(t *testing.T) {
	err := &IntegrityError{PlayID: "p9", Reason: "missing entry price while OPEN"}
	assert.Contains(t, err.Error(), "p9")
}

func TestFatal_WithoutCauseOmitsColon(t *testing.T) {
	err := &Fatal{Reason: "config invalid"}
	assert.Equal(t, "fatal: config invalid", err.Error())
	assert.Nil(t, err.Unwrap())
}

func TestFatal_WithCauseUnwraps(t *testing.T) {
	cause := errors.New("broker auth rejected")
	err := &Fatal{Reason: "cannot start live trading", Cause: cause}
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "broker auth rejected")
}
