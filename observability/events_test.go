package observability

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"humanebanque/core/types"
)

type payloadEvent struct{ evt *types.Event }

func (p payloadEvent) EventType() string   { return p.evt.Type }
func (p payloadEvent) Event() *types.Event { return p.evt }

func TestLendingMetricsFollowEvents(t *testing.T) {
	m := Lending()
	m.Emit(payloadEvent{&types.Event{Type: "lending.auction.executed", Attributes: map[string]string{
		"maturity":        "1800000000",
		"clearingRateBps": "550",
		"matchedVolume":   "1000000000",
	}}})
	m.Emit(payloadEvent{&types.Event{Type: "lending.loan.defaulted", Attributes: map[string]string{
		"status": "defaulted",
	}}})

	require.Equal(t, float64(550), testutil.ToFloat64(m.clearingRate.WithLabelValues("1800000000")))
	require.Equal(t, float64(1e9), testutil.ToFloat64(m.matchedVolume.WithLabelValues("1800000000")))
	require.Equal(t, float64(1), testutil.ToFloat64(m.closedLoans.WithLabelValues("defaulted")))
	require.Equal(t, float64(1), testutil.ToFloat64(m.events.WithLabelValues("lending.loan.defaulted")))
}

func TestAPIMetricsCountErrors(t *testing.T) {
	m := API()
	m.Observe("/api/v1/offers", "POST", 409, 0)
	m.Observe("/api/v1/offers", "POST", 200, 0)
	m.RecordThrottle("")

	require.Equal(t, float64(1), testutil.ToFloat64(m.errors.WithLabelValues("/api/v1/offers", "409")))
	require.Equal(t, float64(1), testutil.ToFloat64(m.requests.WithLabelValues("/api/v1/offers", "POST", "success")))
	require.Equal(t, float64(1), testutil.ToFloat64(m.throttles.WithLabelValues("unspecified")))
}
