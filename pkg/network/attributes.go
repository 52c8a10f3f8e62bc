package network

import (
	"sync"

	"github.com/openmist/realmgate/pkg/protocol"
)

// Attributes is the broadcastable slice of a character's state. Every
// mutator notifies the registered hook when the value actually
// changes; that notification is part of the mutation contract, not a
// hidden side effect, and is what drives event-triggered stats
// broadcasts.
type Attributes struct {
	mu     sync.Mutex
	stats  protocol.StatsSync
	notify func()
}

// NewAttributes returns a zeroed attribute set.
func NewAttributes() *Attributes {
	return &Attributes{}
}

// OnChange registers the hook called after every effective mutation.
// The hook runs without the attribute lock held.
func (a *Attributes) OnChange(fn func()) {
	a.mu.Lock()
	a.notify = fn
	a.mu.Unlock()
}

// Snapshot returns a consistent copy of the current values.
func (a *Attributes) Snapshot() protocol.StatsSync {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stats
}

func (a *Attributes) set(mutate func(*protocol.StatsSync) bool) {
	a.mu.Lock()
	changed := mutate(&a.stats)
	fn := a.notify
	a.mu.Unlock()

	if changed && fn != nil {
		fn()
	}
}

// SetHealth updates the primary resource.
func (a *Attributes) SetHealth(v uint32) {
	a.set(func(s *protocol.StatsSync) bool {
		if s.Health == v {
			return false
		}
		s.Health = v
		return true
	})
}

// SetShield updates the shield resource.
func (a *Attributes) SetShield(v uint32) {
	a.set(func(s *protocol.StatsSync) bool {
		if s.Shield == v {
			return false
		}
		s.Shield = v
		return true
	})
}

// SetMana updates the mana resource.
func (a *Attributes) SetMana(v uint32) {
	a.set(func(s *protocol.StatsSync) bool {
		if s.Mana == v {
			return false
		}
		s.Mana = v
		return true
	})
}

// SetAbility updates the secondary resource.
func (a *Attributes) SetAbility(v uint32) {
	a.set(func(s *protocol.StatsSync) bool {
		if s.Ability == v {
			return false
		}
		s.Ability = v
		return true
	})
}

// SetAttackSpeed updates the attack speed multiplier.
func (a *Attributes) SetAttackSpeed(v uint16) {
	a.set(func(s *protocol.StatsSync) bool {
		if s.AttackSpeed == v {
			return false
		}
		s.AttackSpeed = v
		return true
	})
}

// SetMagicSpeed updates the magic speed multiplier.
func (a *Attributes) SetMagicSpeed(v uint16) {
	a.set(func(s *protocol.StatsSync) bool {
		if s.MagicSpeed == v {
			return false
		}
		s.MagicSpeed = v
		return true
	})
}

// SetDamageRate updates the damage multiplier. The wire carries it
// scaled by 100.
func (a *Attributes) SetDamageRate(v float64) {
	a.set(func(s *protocol.StatsSync) bool {
		if s.DamageRate == v {
			return false
		}
		s.DamageRate = v
		return true
	})
}
