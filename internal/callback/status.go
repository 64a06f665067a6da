package callback

import "strconv"

// Status is the document server's callback status code.
type Status int

const (
	StatusEditing         Status = 1 // document is being edited
	StatusReadyToSave     Status = 2 // all editors left, document ready to save
	StatusSaveError       Status = 3 // document server failed to save
	StatusClosedNoChanges Status = 4 // closed without changes
	StatusForceSaved      Status = 6 // edited, current state force-saved
	StatusForceSaveError  Status = 7 // force save failed
)

func (s Status) String() string {
	switch s {
	case StatusEditing:
		return "editing"
	case StatusReadyToSave:
		return "ready_to_save"
	case StatusSaveError:
		return "save_error"
	case StatusClosedNoChanges:
		return "closed_no_changes"
	case StatusForceSaved:
		return "force_saved"
	case StatusForceSaveError:
		return "force_save_error"
	default:
		return "status_" + strconv.Itoa(int(s))
	}
}

// Action is what docbridge does about one callback.
type Action int

const (
	ActionNoOp Action = iota
	ActionPersist
	ActionErrorReported
	ActionUnknown
)

func (a Action) String() string {
	switch a {
	case ActionNoOp:
		return "noop"
	case ActionPersist:
		return "persist"
	case ActionErrorReported:
		return "error_reported"
	default:
		return "unknown"
	}
}

// Classify maps a status code to an action. Only ActionPersist mutates
// the store; ActionUnknown is handled like ActionNoOp but logged.
func Classify(s Status) Action {
	switch s {
	case StatusEditing, StatusClosedNoChanges:
		return ActionNoOp
	case StatusReadyToSave, StatusForceSaved:
		return ActionPersist
	case StatusSaveError, StatusForceSaveError:
		return ActionErrorReported
	default:
		return ActionUnknown
	}
}
