package model

// Writes is the set of domain writes derived from one event.
type Writes struct {
	Wallets       []string
	Payments      []Payment
	Subscriptions []Subscription
	Payouts       []Payout
	ConfigChanges []ConfigChange
}

// Empty reports whether there is nothing to write.
func (w Writes) Empty() bool {
	return len(w.Wallets) == 0 &&
		len(w.Payments) == 0 &&
		len(w.Subscriptions) == 0 &&
		len(w.Payouts) == 0 &&
		len(w.ConfigChanges) == 0
}
