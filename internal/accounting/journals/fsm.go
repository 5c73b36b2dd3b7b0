package journals

import "github.com/odyssey-erp/ipsas-ledger/internal/accounting"

// Action is a workflow verb applied to an entry.
type Action string

const (
	ActionAmend   Action = "amend"
	ActionSubmit  Action = "submit"
	ActionApprove Action = "approve"
	ActionReject  Action = "reject"
	ActionPost    Action = "post"
	ActionCancel  Action = "cancel"
)

// transitions lists every legal (state, action) pair.
var transitions = map[accounting.EntryStatus]map[Action]accounting.EntryStatus{
	accounting.StatusDraft: {
		ActionAmend:  accounting.StatusDraft,
		ActionSubmit: accounting.StatusPending,
		ActionCancel: accounting.StatusCancelled,
	},
	accounting.StatusPending: {
		ActionApprove: accounting.StatusApproved,
		ActionReject:  accounting.StatusRejected,
		ActionCancel:  accounting.StatusCancelled,
	},
	accounting.StatusApproved: {
		ActionPost: accounting.StatusPosted,
	},
	accounting.StatusRejected: {
		ActionAmend:  accounting.StatusDraft,
		ActionCancel: accounting.StatusCancelled,
	},
}

// Transition returns the status reached by applying action to an entry in status from.
func Transition(entryID int64, from accounting.EntryStatus, action Action) (accounting.EntryStatus, error) {
	if to, ok := transitions[from][action]; ok {
		return to, nil
	}
	return "", &accounting.StateTransitionError{EntryID: entryID, From: from, Action: string(action)}
}

// Allowed lists the actions available from status.
func Allowed(from accounting.EntryStatus) []Action {
	order := []Action{ActionAmend, ActionSubmit, ActionApprove, ActionReject, ActionPost, ActionCancel}
	var out []Action
	for _, a := range order {
		if _, ok := transitions[from][a]; ok {
			out = append(out, a)
		}
	}
	return out
}
