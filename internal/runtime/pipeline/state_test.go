package pipeline

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/l0p7/domainscout/internal/opportunity"
)

func TestNewState(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.FixedZone("CLT", -3*3600))
	opp := opportunity.Opportunity{Name: "kiwi.cl", TLD: "cl", Status: opportunity.StatusPending}

	state := NewState("batch-1", opp, now, true, false)
	require.Equal(t, "batch-1", state.BatchID)
	require.Equal(t, time.UTC, state.Now.Location())
	require.True(t, state.Now.Equal(now))
	require.True(t, state.Enrichment.Requested)
	require.False(t, state.Force)
	require.Equal(t, "kiwi.cl", state.Opportunity.Name)
}

func TestStateFailAndRecord(t *testing.T) {
	state := NewState("b", opportunity.Opportunity{Name: "a.cl"}, time.Now(), false, false)
	state.Record(Result{Name: "scoring", Status: StatusError})
	state.Fail(errors.New("boom"))

	require.Len(t, state.History, 1)
	require.True(t, state.History[0].Stop())
	require.EqualError(t, state.Err, "boom")
	require.Equal(t, "boom", state.Error)

	require.False(t, Result{Status: StatusSkipped}.Stop())
}
