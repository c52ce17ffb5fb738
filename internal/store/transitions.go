package store

import "qms/queue-ticketing/internal/models"

const (
	ActionRelease = "release"
	ActionCall    = "call"
	ActionSkip    = "skip"
	ActionReset   = "reset"
)

var transitionMap = map[string][]string{
	ActionRelease: {models.StatusClaimed},
	ActionCall:    {models.StatusClaimed},
	ActionSkip:    {models.StatusCalled},
	ActionReset:   {models.StatusClaimed, models.StatusCalled},
}

var transitionTarget = map[string]string{
	ActionRelease: models.StatusReleased,
	ActionCall:    models.StatusCalled,
	ActionSkip:    models.StatusSkipped,
	ActionReset:   models.StatusReset,
}

func ValidTransition(action, fromStatus string) bool {
	allowed, ok := transitionMap[action]
	if !ok {
		return false
	}
	for _, status := range allowed {
		if status == fromStatus {
			return true
		}
	}
	return false
}

// SourceStatuses lists the statuses an action may move a ticket out of.
func SourceStatuses(action string) []string {
	allowed := transitionMap[action]
	out := make([]string, len(allowed))
	copy(out, allowed)
	return out
}

// TargetStatus is the status a ticket holds after the action.
func TargetStatus(action string) string {
	return transitionTarget[action]
}
