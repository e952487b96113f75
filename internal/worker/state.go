package worker

import "errors"

// State 是网关实例的生命周期状态。
type State int

const (
	StateParsed State = iota
	StateInstalling
	StateInstalled
	StateActivating
	StateActivated
	StateRedundant
)

// String returns a human-readable representation of the state.
func (s State) String() string {
	switch s {
	case StateParsed:
		return "parsed"
	case StateInstalling:
		return "installing"
	case StateInstalled:
		return "installed"
	case StateActivating:
		return "activating"
	case StateActivated:
		return "activated"
	case StateRedundant:
		return "redundant"
	default:
		return "unknown"
	}
}

// ErrInvalidTransition 表示状态迁移不合法。
var ErrInvalidTransition = errors.New("invalid lifecycle transition")

// validTransition 描述允许的状态迁移。
func validTransition(from, to State) bool {
	switch from {
	case StateParsed:
		return to == StateInstalling
	case StateInstalling:
		return to == StateInstalled || to == StateRedundant
	case StateInstalled:
		return to == StateActivating
	case StateActivating:
		return to == StateActivated || to == StateRedundant
	case StateRedundant:
		return to == StateInstalling
	default:
		return false
	}
}
