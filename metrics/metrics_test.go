package metrics

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360studio/docscope/events"
	"github.com/c360studio/docscope/jobs"
	"github.com/c360studio/docscope/provider"
)

type countingProvider struct {
	fail bool
}

func (p *countingProvider) Name() string { return "stub" }

func (p *countingProvider) Invoke(ctx context.Context, prompt string, opts provider.Options) (*provider.Result, error) {
	if p.fail {
		return nil, assert.AnError
	}
	return &provider.Result{Text: "ok", CostUSD: 0.25}, nil
}

func TestInstrumentProvider(t *testing.T) {
	m := New()
	wrapped := m.InstrumentProvider(&countingProvider{})

	_, err := wrapped.Invoke(context.Background(), "p", provider.Options{})
	require.NoError(t, err)
	_, err = wrapped.Invoke(context.Background(), "p", provider.Options{})
	require.NoError(t, err)

	failing := m.InstrumentProvider(&countingProvider{fail: true})
	_, err = failing.Invoke(context.Background(), "p", provider.Options{})
	require.Error(t, err)

	assert.Equal(t, "stub", wrapped.Name())
	assert.Equal(t, 2.0, testutil.ToFloat64(m.providerInvocations.WithLabelValues("stub", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.providerInvocations.WithLabelValues("stub", "error")))
	assert.Equal(t, 0.5, testutil.ToFloat64(m.providerCost.WithLabelValues("stub")))
}

func TestJobFinishedAndRetry(t *testing.T) {
	m := New()
	m.JobFinished("evaluation", jobs.StateCompleted)
	m.JobFinished("evaluation", jobs.StateFailed)
	m.JobFinished("evaluation", jobs.StateCompleted)
	m.RetryObserved("claude")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.jobsFinished.WithLabelValues("evaluation", "completed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.jobsFinished.WithLabelValues("evaluation", "failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.providerRetries.WithLabelValues("claude")))
}

func TestWatchManagerAndHandler(t *testing.T) {
	m := New()
	mgr := jobs.NewManager("evaluation", 5, 1, events.NewBus())
	m.WatchManager("evaluation", mgr)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), "docscope_queue_depth")
	assert.Contains(t, rec.Body.String(), "docscope_jobs_running")
}
