package producer

// activationState tracks the set of named activations with a
// time-to-live; the producer is active iff any activation is currently
// within its TTL (spec.md §3 "Activation").
type activationState struct {
	expiryNanos map[string]int64
}

func newActivationState() activationState {
	return activationState{expiryNanos: make(map[string]int64)}
}

// activate extends or creates a named activation expiring at
// expiryNanos. Returns whether the producer transitioned from inactive
// to active.
func (a *activationState) activate(name string, expiryNanos, nowNanos int64) bool {
	wasActive := a.isActive(nowNanos)
	a.expiryNanos[name] = expiryNanos
	return !wasActive && a.isActive(nowNanos)
}

// deactivate removes a named activation explicitly (as opposed to
// letting it expire). Returns whether the producer transitioned from
// active to inactive.
func (a *activationState) deactivate(name string, nowNanos int64) bool {
	wasActive := a.isActive(nowNanos)
	delete(a.expiryNanos, name)
	return wasActive && !a.isActive(nowNanos)
}

// expire drops any activation whose TTL has passed as of nowNanos.
// Returns whether the producer transitioned from active to inactive.
func (a *activationState) expire(nowNanos int64) bool {
	wasActive := a.isActive(nowNanos)
	for name, exp := range a.expiryNanos {
		if exp <= nowNanos {
			delete(a.expiryNanos, name)
		}
	}
	return wasActive && !a.isActive(nowNanos)
}

func (a *activationState) isActive(nowNanos int64) bool {
	for _, exp := range a.expiryNanos {
		if exp > nowNanos {
			return true
		}
	}
	return false
}
