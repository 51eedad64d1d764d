package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/plugrpc/internal/capability"
	"github.com/mattjoyce/plugrpc/internal/dispatch"
)

func TestRecorderCounts(t *testing.T) {
	r := New("notify", "1.2.3")

	r.RequestHandled("Send", capability.OutcomeVoid, 20*time.Millisecond)
	r.RequestHandled("Send", capability.OutcomeVoid, 10*time.Millisecond)
	r.RequestHandled("Send", capability.OutcomeFailure, time.Millisecond)
	r.RequestHandled("unknown", capability.OutcomeFailure, 0)
	r.MalformedFrame()

	assert.Equal(t, 2.0, testutil.ToFloat64(r.requests.WithLabelValues("Send", "void")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.requests.WithLabelValues("Send", "failure")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.requests.WithLabelValues("unknown", "failure")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.malformed))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.buildInfo.WithLabelValues("notify", "1.2.3")))
	assert.Equal(t, 2, testutil.CollectAndCount(r.duration))
}

func TestRecorderStateIsOneHot(t *testing.T) {
	r := New("notify", "dev")

	tests := []dispatch.State{
		dispatch.StateAwaitingRequest,
		dispatch.StateInvoking,
		dispatch.StateClosed,
	}
	for _, state := range tests {
		t.Run(state.String(), func(t *testing.T) {
			r.StateChanged(state)
			for _, s := range allStates {
				want := 0.0
				if s == state {
					want = 1
				}
				assert.Equal(t, want, testutil.ToFloat64(r.state.WithLabelValues(s.String())), s.String())
			}
		})
	}
}

func TestHandlerExposesMetrics(t *testing.T) {
	r := New("notify", "dev")
	r.RequestHandled("Ping", capability.OutcomeValue, time.Millisecond)

	srv := httptest.NewServer(r.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `plugrpc_requests_total{method="Ping",outcome="value"} 1`)
	assert.Contains(t, string(body), `plugrpc_build_info{plugin="notify",version="dev"} 1`)
	assert.Contains(t, string(body), `plugrpc_session_state{state="awaiting_request"} 0`)
	assert.Contains(t, string(body), "go_goroutines")
}
