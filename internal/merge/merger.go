// Package merge combines register lists without duplicating addresses.
package merge

import (
	"github.com/spherical/register-extractor/internal/domain"
)

// Merge appends incoming registers whose address is not already present.
// Existing entries always win and keep their order; new entries follow in
// incoming order. It returns the merged list and the number of entries added.
func Merge(existing, incoming []domain.ModbusRegister) ([]domain.ModbusRegister, int) {
	merged := make([]domain.ModbusRegister, 0, len(existing)+len(incoming))
	seen := make(map[uint32]bool, len(existing)+len(incoming))

	for _, r := range existing {
		if seen[r.Address] {
			continue
		}
		seen[r.Address] = true
		merged = append(merged, r)
	}

	added := 0
	for _, r := range incoming {
		if seen[r.Address] {
			continue
		}
		seen[r.Address] = true
		merged = append(merged, r)
		added++
	}

	return merged, added
}

// Deduplicator accumulates registers across the batches of one run. The first
// occurrence of an address keeps its position; a later duplicate replaces the
// content only when it carries more information.
type Deduplicator struct {
	index     map[uint32]int
	registers []domain.ModbusRegister
	dropped   int
}

// NewDeduplicator creates a new Deduplicator
func NewDeduplicator() *Deduplicator {
	return &Deduplicator{
		index: make(map[uint32]int),
	}
}

// Add folds a batch of registers into the run.
func (d *Deduplicator) Add(batch []domain.ModbusRegister) {
	for _, r := range batch {
		if i, ok := d.index[r.Address]; ok {
			d.dropped++
			if richness(r) > richness(d.registers[i]) {
				d.registers[i] = r
			}
			continue
		}
		d.index[r.Address] = len(d.registers)
		d.registers = append(d.registers, r)
	}
}

// Registers returns the accumulated registers in first-seen order.
func (d *Deduplicator) Registers() []domain.ModbusRegister {
	out := make([]domain.ModbusRegister, len(d.registers))
	copy(out, d.registers)
	return out
}

// Len returns the number of unique addresses seen.
func (d *Deduplicator) Len() int {
	return len(d.registers)
}

// Dropped returns how many duplicates were folded away.
func (d *Deduplicator) Dropped() int {
	return d.dropped
}

func richness(r domain.ModbusRegister) int {
	n := len(r.Name) + len(r.Description)
	if r.Datatype != "" && r.Datatype != domain.DatatypeUnknown {
		n += 10
	}
	return n
}
