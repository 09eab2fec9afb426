package channel

import (
	"log/slog"
	"sort"

	"github.com/notifyd/notifyd/internal/domain"
)

// Descriptor describes a registered channel implementation.
type Descriptor struct {
	Name     string             `json:"name"`
	Type     domain.ChannelType `json:"type"`
	Priority int                `json:"priority"`
}

type registration struct {
	channel  Channel
	priority int
	order    int
}

// Registry holds channel implementations and resolves a channel type to
// the implementation that should handle it. Several implementations may
// claim the same type (a provider plus a console fallback); the one with
// the lowest priority value wins, ties broken by registration order.
//
// The registry is populated once at startup and read-only afterwards, so
// lookups need no locking.
type Registry struct {
	registrations []registration
}

// NewRegistry creates an empty channel registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register adds a channel implementation with the given priority
// (lower value = higher priority).
func (r *Registry) Register(ch Channel, priority int) {
	r.registrations = append(r.registrations, registration{
		channel:  ch,
		priority: priority,
		order:    len(r.registrations),
	})

	slog.Info("channel registered",
		"name", ch.Name(),
		"type", ch.Type(),
		"priority", priority,
	)
}

// Resolve returns the implementation that should handle the channel type,
// or false when no registered implementation supports it.
func (r *Registry) Resolve(channelType domain.ChannelType) (Channel, bool) {
	best := -1
	for i, reg := range r.registrations {
		if !reg.channel.Supports(channelType) {
			continue
		}
		if best == -1 || less(reg, r.registrations[best]) {
			best = i
		}
	}
	if best == -1 {
		return nil, false
	}
	return r.registrations[best].channel, true
}

// Supports reports whether any registered implementation handles the type.
func (r *Registry) Supports(channelType domain.ChannelType) bool {
	_, ok := r.Resolve(channelType)
	return ok
}

// ListAll returns descriptors for every registered implementation,
// ordered by resolution precedence.
func (r *Registry) ListAll() []Descriptor {
	regs := make([]registration, len(r.registrations))
	copy(regs, r.registrations)
	sort.SliceStable(regs, func(i, j int) bool {
		return less(regs[i], regs[j])
	})

	descriptors := make([]Descriptor, 0, len(regs))
	for _, reg := range regs {
		descriptors = append(descriptors, Descriptor{
			Name:     reg.channel.Name(),
			Type:     reg.channel.Type(),
			Priority: reg.priority,
		})
	}
	return descriptors
}

func less(a, b registration) bool {
	if a.priority != b.priority {
		return a.priority < b.priority
	}
	return a.order < b.order
}
