package release

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ehr/mortuary/internal/platform/apperr"
)

func testRef(code string) CaseRef {
	return CaseRef{ID: uuid.New(), Code: code}
}

type slowSource struct{ delay time.Duration }

func (s slowSource) Name() string { return "slow" }

func (s slowSource) Check(ctx context.Context, _ CaseRef) (Hold, bool, error) {
	select {
	case <-time.After(s.delay):
		return Hold{}, false, nil
	case <-ctx.Done():
		return Hold{}, false, ctx.Err()
	}
}

func TestEvaluate_NoHolds(t *testing.T) {
	debt := NewStaticSource("billing", ReasonEconomicDebt)
	blood := NewStaticSource("blood_bank", ReasonBloodDebt)
	ev := NewEvaluator([]HoldSource{debt, blood}, time.Second, zerolog.Nop())

	holds, err := ev.Evaluate(context.Background(), testRef("SGM-1"))
	require.NoError(t, err)
	assert.Empty(t, holds)
	assert.Equal(t, []string{"billing", "blood_bank"}, ev.Sources())
}

func TestEvaluate_ActiveHoldsSorted(t *testing.T) {
	debt := NewStaticSource("billing", ReasonEconomicDebt)
	blood := NewStaticSource("blood_bank", ReasonBloodDebt)
	debt.Set("SGM-1", "unpaid invoice")
	blood.Set("SGM-1", "two units outstanding")
	blood.Set("SGM-2", "other case")
	ev := NewEvaluator([]HoldSource{debt, blood}, time.Second, zerolog.Nop())

	holds, err := ev.Evaluate(context.Background(), testRef("SGM-1"))
	require.NoError(t, err)
	require.Len(t, holds, 2)
	assert.Equal(t, ReasonBloodDebt, holds[0].Reason)
	assert.Equal(t, ReasonEconomicDebt, holds[1].Reason)
	assert.Equal(t, "unpaid invoice", holds[1].Message)
	assert.Equal(t, []string{"blood_debt", "economic_debt"}, Reasons(holds))
}

func TestEvaluate_ReevaluatesEveryCall(t *testing.T) {
	debt := NewStaticSource("billing", ReasonEconomicDebt)
	ev := NewEvaluator([]HoldSource{debt}, time.Second, zerolog.Nop())
	ref := testRef("SGM-1")

	debt.Set("SGM-1", "unpaid")
	holds, err := ev.Evaluate(context.Background(), ref)
	require.NoError(t, err)
	assert.Len(t, holds, 1)

	debt.Clear("SGM-1")
	holds, err = ev.Evaluate(context.Background(), ref)
	require.NoError(t, err)
	assert.Empty(t, holds)
}

func TestEvaluate_SourceFailureFailsClosed(t *testing.T) {
	debt := NewStaticSource("billing", ReasonEconomicDebt)
	blood := NewStaticSource("blood_bank", ReasonBloodDebt)
	blood.Fail(errors.New("connection refused"))
	ev := NewEvaluator([]HoldSource{debt, blood}, time.Second, zerolog.Nop())

	holds, err := ev.Evaluate(context.Background(), testRef("SGM-1"))
	require.Error(t, err)
	assert.Nil(t, holds)
	assert.True(t, apperr.HasCode(err, apperr.CodeDependencyUnavailable))
	assert.Contains(t, err.Error(), "blood_bank")
	assert.True(t, apperr.CodeOf(err).Retryable())
}

func TestEvaluate_PerSourceTimeout(t *testing.T) {
	ev := NewEvaluator([]HoldSource{slowSource{delay: time.Second}}, 20*time.Millisecond, zerolog.Nop())

	start := time.Now()
	_, err := ev.Evaluate(context.Background(), testRef("SGM-1"))
	assert.True(t, apperr.HasCode(err, apperr.CodeDependencyUnavailable))
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestReasons_Deduplicates(t *testing.T) {
	holds := []Hold{
		{Reason: ReasonEconomicDebt, Source: "a"},
		{Reason: ReasonEconomicDebt, Source: "b"},
		{Reason: ReasonBloodDebt, Source: "c"},
	}
	assert.Equal(t, []string{"blood_debt", "economic_debt"}, Reasons(holds))
	assert.Empty(t, Reasons(nil))
}

func holdServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func TestHTTPSource_ActiveHold(t *testing.T) {
	srv := holdServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/holds/SGM-7", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"active":true,"reason":"invoice 991 unpaid"}`))
	})
	src := NewHTTPSource("billing", ReasonEconomicDebt, srv.URL+"/", time.Second, 0)

	hold, active, err := src.Check(context.Background(), testRef("SGM-7"))
	require.NoError(t, err)
	assert.True(t, active)
	assert.Equal(t, ReasonEconomicDebt, hold.Reason)
	assert.Equal(t, "billing", hold.Source)
	assert.Equal(t, "invoice 991 unpaid", hold.Message)
}

func TestHTTPSource_NoHold(t *testing.T) {
	srv := holdServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"active":false}`))
	})
	src := NewHTTPSource("billing", ReasonEconomicDebt, srv.URL, time.Second, 0)

	_, active, err := src.Check(context.Background(), testRef("SGM-7"))
	require.NoError(t, err)
	assert.False(t, active)
}

func TestHTTPSource_FailsOnBadResponses(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{"server error", http.StatusInternalServerError, `{"active":false}`},
		{"not found", http.StatusNotFound, ``},
		{"malformed body", http.StatusOK, `not json`},
		{"missing flag", http.StatusOK, `{"reason":"?"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := holdServer(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			})
			src := NewHTTPSource("billing", ReasonEconomicDebt, srv.URL, time.Second, 0)
			_, active, err := src.Check(context.Background(), testRef("SGM-7"))
			assert.Error(t, err)
			assert.False(t, active)
		})
	}
}

func TestHTTPSource_RetriesServerErrors(t *testing.T) {
	var calls int32
	srv := holdServer(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(`{"active":false}`))
	})
	src := NewHTTPSource("billing", ReasonEconomicDebt, srv.URL, time.Second, 2)

	_, active, err := src.Check(context.Background(), testRef("SGM-7"))
	require.NoError(t, err)
	assert.False(t, active)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestLegalAuthorizationSource(t *testing.T) {
	var calls int32
	srv := holdServer(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		assert.Equal(t, "/authorizations/SGM-9", r.URL.Path)
		w.Write([]byte(`{"authorized":false}`))
	})
	src := NewLegalAuthorizationSource(srv.URL, time.Second, 0)

	_, active, err := src.Check(context.Background(), CaseRef{Code: "SGM-9"})
	require.NoError(t, err)
	assert.False(t, active, "non-legal cases never hold")
	assert.Equal(t, int32(0), atomic.LoadInt32(&calls))

	hold, active, err := src.Check(context.Background(), CaseRef{Code: "SGM-9", LegalCase: true})
	require.NoError(t, err)
	assert.True(t, active)
	assert.Equal(t, ReasonLegalAuthorization, hold.Reason)
	assert.NotEmpty(t, hold.Message)
}

func TestLegalAuthorizationSource_Authorized(t *testing.T) {
	srv := holdServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"authorized":true}`))
	})
	src := NewLegalAuthorizationSource(srv.URL, time.Second, 0)

	_, active, err := src.Check(context.Background(), CaseRef{Code: "SGM-9", LegalCase: true})
	require.NoError(t, err)
	assert.False(t, active)
}

func TestEvaluate_HTTPSourceUnavailable(t *testing.T) {
	srv := holdServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	ev := NewEvaluator([]HoldSource{
		NewHTTPSource("billing", ReasonEconomicDebt, srv.URL, time.Second, 0),
		NewStaticSource("blood_bank", ReasonBloodDebt),
	}, time.Second, zerolog.Nop())

	_, err := ev.Evaluate(context.Background(), testRef("SGM-1"))
	assert.True(t, apperr.HasCode(err, apperr.CodeDependencyUnavailable))
}
