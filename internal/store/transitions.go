package store

import "ponti/attention-service/internal/models"

var transitionMap = map[string][]string{
	"call":     {models.StatePending},
	"attend":   {models.StateCalling},
	"finish":   {models.StateAttending},
	"cancel":   {models.StatePending, models.StateCalling, models.StateAttending},
	"transfer": {models.StatePending, models.StateCalling, models.StateAttending},
}

var targetMap = map[string]string{
	"call":     models.StateCalling,
	"attend":   models.StateAttending,
	"finish":   models.StateAttended,
	"cancel":   models.StateCancelled,
	"transfer": models.StateTransferred,
}

func ValidTransition(action, fromState string) bool {
	allowed, ok := transitionMap[action]
	if !ok {
		return false
	}
	for _, state := range allowed {
		if state == fromState {
			return true
		}
	}
	return false
}

// TargetState returns the state an action moves a ticket into, or "" for an
// unknown action.
func TargetState(action string) string {
	return targetMap[action]
}

// AllowedStates returns the states an action may be applied from. The slice
// is shared; callers must not mutate it.
func AllowedStates(action string) []string {
	return transitionMap[action]
}
