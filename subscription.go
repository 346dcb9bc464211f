package e2eedm

// Subscription represents an active subscription that can be unsubscribed.
type Subscription interface {
	// Unsubscribe stops the subscription. Safe to call more than once.
	Unsubscribe()
}

// internalSubscription implements the Subscription interface.
type internalSubscription struct {
	cancel func()
}

func (s *internalSubscription) Unsubscribe() {
	if s.cancel != nil {
		s.cancel()
	}
}
