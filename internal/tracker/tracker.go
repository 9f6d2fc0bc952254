// Package tracker partitions the broker's open positions by the owner tag
// embedded at entry time, so the scheduler can route each position back to
// the strategy that opened it. The broker snapshot stays the single source
// of truth; a Book is rebuilt from scratch every tick and never cached.
package tracker

import (
	"sort"

	"multi-strategy-bot-go/internal/models"
)

// Book is one tick's view of the open positions, indexed by owner tag.
type Book struct {
	all     []models.Position
	byOwner map[string][]models.Position
}

// Build indexes a position snapshot by owner tag.
func Build(positions []models.Position) *Book {
	b := &Book{
		all:     positions,
		byOwner: make(map[string][]models.Position),
	}
	for _, p := range positions {
		b.byOwner[p.OwnerTag] = append(b.byOwner[p.OwnerTag], p)
	}
	return b
}

// All returns every open position in the snapshot.
func (b *Book) All() []models.Position {
	return b.all
}

// Drop removes the position with the given ticket from the book. A
// position closed mid-tick must stop counting toward its owner's total
// before the entry scan runs. The removal copies the affected slices, so
// a range over an earlier Owned or All result is not disturbed.
func (b *Book) Drop(ticket int64) {
	for i, p := range b.all {
		if p.Ticket == ticket {
			b.all = append(b.all[:i:i], b.all[i+1:]...)
			break
		}
	}
	for tag, positions := range b.byOwner {
		for i, p := range positions {
			if p.Ticket != ticket {
				continue
			}
			trimmed := append(positions[:i:i], positions[i+1:]...)
			if len(trimmed) == 0 {
				delete(b.byOwner, tag)
			} else {
				b.byOwner[tag] = trimmed
			}
			return
		}
	}
}

// Owned returns the positions opened by the given strategy.
func (b *Book) Owned(tag string) []models.Position {
	return b.byOwner[tag]
}

// Count returns how many positions the given strategy has open.
func (b *Book) Count(tag string) int {
	return len(b.byOwner[tag])
}

// Total returns the total number of open positions.
func (b *Book) Total() int {
	return len(b.all)
}

// Orphans returns positions whose owner tag matches none of the known
// strategy names. These are positions opened manually or by a strategy
// since removed from the configuration; the scheduler leaves them alone.
func (b *Book) Orphans(known []string) []models.Position {
	knownSet := make(map[string]bool, len(known))
	for _, k := range known {
		knownSet[k] = true
	}
	var out []models.Position
	for tag, positions := range b.byOwner {
		if !knownSet[tag] {
			out = append(out, positions...)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ticket < out[j].Ticket })
	return out
}

// Owners returns the distinct owner tags present in the snapshot, sorted
// for deterministic iteration.
func (b *Book) Owners() []string {
	out := make([]string, 0, len(b.byOwner))
	for tag := range b.byOwner {
		out = append(out, tag)
	}
	sort.Strings(out)
	return out
}
