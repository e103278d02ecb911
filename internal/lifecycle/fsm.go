// Package lifecycle provides the shared status state machine driving every
// commercial document (quotations, orders, invoices, deliveries, plans).
// Each document kind declares its vocabulary and transition graph here; the
// owning service calls Transition instead of mutating status fields directly.
package lifecycle

import (
	"fmt"
	"strings"

	"github.com/evmotors/dms/internal/shared"
)

// Status is a document status value. Vocabularies are uppercase.
type Status string

// Machine is a transition graph over one status vocabulary. States absent
// from Transitions (or mapped to an empty slice) are terminal.
type Machine struct {
	Name        string
	Transitions map[Status][]Status
}

// IsTerminal reports whether no transition leaves the state.
func (m Machine) IsTerminal(s Status) bool {
	return len(m.Transitions[s]) == 0
}

// CanTransition reports whether from -> to is a legal edge.
func (m Machine) CanTransition(from, to Status) bool {
	for _, next := range m.Transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Transition validates the edge and returns the new status. Terminal states
// are immutable: any attempt to leave one fails with ErrInvalidTransition.
func (m Machine) Transition(from, to Status) (Status, error) {
	if m.IsTerminal(from) {
		return from, fmt.Errorf("%w: %s is terminal in %s", shared.ErrInvalidTransition, from, m.Name)
	}
	if !m.CanTransition(from, to) {
		return from, fmt.Errorf("%w: %s -> %s not allowed in %s", shared.ErrInvalidTransition, from, to, m.Name)
	}
	return to, nil
}

// Parse normalizes raw input against the machine's vocabulary. Input is
// case-insensitive and tolerates dashes for underscores. Unknown values are
// a validation error, never a silent default.
func (m Machine) Parse(raw string) (Status, error) {
	normalized := Status(strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(raw), "-", "_")))
	if _, ok := m.Transitions[normalized]; ok {
		return normalized, nil
	}
	// Terminal states may appear only as transition targets.
	for _, targets := range m.Transitions {
		for _, t := range targets {
			if t == normalized {
				return normalized, nil
			}
		}
	}
	return "", fmt.Errorf("%w: unknown %s status %q", shared.ErrValidation, m.Name, raw)
}
