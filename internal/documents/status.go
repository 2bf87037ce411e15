package documents

import "fmt"

var transitions = map[Status][]Status{
	StatusPending:    {StatusProcessing, StatusFailed},
	StatusProcessing: {StatusCompleted, StatusFailed},
}

// checkTransition decides whether from->to is allowed. Re-applying the
// current non-initial status is reported as a no-op.
func checkTransition(from, to Status) (noop bool, err error) {
	if !to.Valid() {
		return false, fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, to)
	}
	if from == to && to != StatusPending {
		return true, nil
	}
	for _, next := range transitions[from] {
		if next == to {
			return false, nil
		}
	}
	return false, fmt.Errorf("%w: %s->%s", ErrInvalidTransition, from, to)
}

func checkPayload(to Status, p *Payload) error {
	switch to {
	case StatusProcessing:
		if p != nil {
			return fmt.Errorf("%w: processing carries no payload", ErrInvalidPayload)
		}
	case StatusCompleted:
		if p == nil || p.Error != "" || !p.HasExtractedFields() {
			return fmt.Errorf("%w: completed requires extracted fields", ErrInvalidPayload)
		}
	case StatusFailed:
		if p == nil || p.Error == "" {
			return fmt.Errorf("%w: failed requires an error description", ErrInvalidPayload)
		}
	}
	return nil
}

// TransitionLabel formats a transition for logs, e.g. "pending->processing".
func TransitionLabel(from, to Status) string {
	return string(from) + "->" + string(to)
}
