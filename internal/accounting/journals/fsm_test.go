package journals

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/ipsas-ledger/internal/accounting"
)

func TestTransitionTable(t *testing.T) {
	legal := []struct {
		from   accounting.EntryStatus
		action Action
		to     accounting.EntryStatus
	}{
		{accounting.StatusDraft, ActionAmend, accounting.StatusDraft},
		{accounting.StatusDraft, ActionSubmit, accounting.StatusPending},
		{accounting.StatusDraft, ActionCancel, accounting.StatusCancelled},
		{accounting.StatusPending, ActionApprove, accounting.StatusApproved},
		{accounting.StatusPending, ActionReject, accounting.StatusRejected},
		{accounting.StatusPending, ActionCancel, accounting.StatusCancelled},
		{accounting.StatusApproved, ActionPost, accounting.StatusPosted},
		{accounting.StatusRejected, ActionAmend, accounting.StatusDraft},
		{accounting.StatusRejected, ActionCancel, accounting.StatusCancelled},
	}
	for _, tc := range legal {
		to, err := Transition(1, tc.from, tc.action)
		require.NoError(t, err, "%s --%s-->", tc.from, tc.action)
		assert.Equal(t, tc.to, to)
	}
}

func TestTerminalStatesHaveNoExits(t *testing.T) {
	all := []Action{ActionAmend, ActionSubmit, ActionApprove, ActionReject, ActionPost, ActionCancel}
	for _, from := range []accounting.EntryStatus{accounting.StatusPosted, accounting.StatusCancelled} {
		assert.Empty(t, Allowed(from))
		for _, action := range all {
			_, err := Transition(7, from, action)
			var stErr *accounting.StateTransitionError
			require.ErrorAs(t, err, &stErr)
			assert.Equal(t, int64(7), stErr.EntryID)
			assert.Equal(t, from, stErr.From)
			assert.ErrorIs(t, err, accounting.ErrStateTransition)
		}
	}
}

func TestIllegalTransitions(t *testing.T) {
	cases := []struct {
		from   accounting.EntryStatus
		action Action
	}{
		{accounting.StatusDraft, ActionPost},
		{accounting.StatusDraft, ActionApprove},
		{accounting.StatusPending, ActionPost},
		{accounting.StatusPending, ActionAmend},
		{accounting.StatusApproved, ActionCancel},
		{accounting.StatusApproved, ActionAmend},
		{accounting.StatusRejected, ActionSubmit},
	}
	for _, tc := range cases {
		_, err := Transition(1, tc.from, tc.action)
		assert.ErrorIs(t, err, accounting.ErrStateTransition, "%s --%s-->", tc.from, tc.action)
	}
}
