package workflows

// StateMachine enforces status transitions for a lifecycle entity.
type StateMachine struct {
	allowedTransitions map[string][]string
}

// New creates a state machine from an allowed-transition map.
func New(allowed map[string][]string) *StateMachine {
	return &StateMachine{allowedTransitions: allowed}
}

// CanTransition checks if a status transition is allowed.
func (sm *StateMachine) CanTransition(from, to string) bool {
	allowed, exists := sm.allowedTransitions[from]
	if !exists {
		return false
	}
	for _, allowedTo := range allowed {
		if allowedTo == to {
			return true
		}
	}
	return false
}

// GetAllowedTransitions returns the allowed next statuses for a given status.
func (sm *StateMachine) GetAllowedTransitions(from string) []string {
	allowed, exists := sm.allowedTransitions[from]
	if !exists {
		return []string{}
	}
	return allowed
}
