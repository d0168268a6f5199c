package token

import "sync"

// Permit is the exclusive right to one in-flight upstream call for a user.
// Release is idempotent and must run when the stream ends for any reason;
// the streaming passthrough owns the permit for exactly that purpose.
type Permit struct {
	once sync.Once
	slot chan struct{}
}

// Release returns the slot. Safe to call more than once.
func (p *Permit) Release() {
	p.once.Do(func() {
		p.slot <- struct{}{}
	})
}
