// Package indexmap resolves a virtual secondary index to the physical index
// that should serve it. It generalizes the index package
// (dynamodb/index/{primary_index,secondary_index}.go), which hard-codes one
// GSI-to-table wiring per index; here the wiring is decided at request time
// from two independently supplied schemas, pluggable via the Strategy
// interface so a façade can prefer exact-name matches and fall back to a
// type-shape match.
package indexmap

import (
	"github.com/acksell/mtdynamo"
)

// Strategy picks a physical index compatible with a virtual index's key
// shape out of a physical table description's indexes.
type Strategy interface {
	Resolve(virtual mtdynamo.IndexDescription, physical mtdynamo.PhysicalTableDescription) (mtdynamo.IndexDescription, error)
}

// ByName requires a physical index of the same name as the virtual index,
// with a compatible key shape.
type ByName struct{}

func (ByName) Resolve(virtual mtdynamo.IndexDescription, physical mtdynamo.PhysicalTableDescription) (mtdynamo.IndexDescription, error) {
	idx, ok := physical.Index(virtual.Name)
	if !ok {
		return mtdynamo.IndexDescription{}, mtdynamo.Errorf(mtdynamo.KindNoCompatibleIndex,
			"no physical index named %q", virtual.Name)
	}
	if !exactCompatible(virtual.Keys, idx.Keys) {
		return mtdynamo.IndexDescription{}, mtdynamo.Errorf(mtdynamo.KindNoCompatibleIndex,
			"physical index %q key shape %+v is not compatible with virtual index %q key shape %+v",
			idx.Name, idx.Keys, virtual.Name, virtual.Keys)
	}
	return idx, nil
}

// ByType picks any physical index whose key-type shape is compatible with
// the virtual index, preferring an exact hash/range-presence match — in
// particular a hash-only physical index for a hash-only virtual index —
// over one with an unused extra range key.
type ByType struct{}

func (ByType) Resolve(virtual mtdynamo.IndexDescription, physical mtdynamo.PhysicalTableDescription) (mtdynamo.IndexDescription, error) {
	var best *mtdynamo.IndexDescription
	bestScore := -1
	for i := range physical.Indexes {
		idx := physical.Indexes[i]
		if !compatible(virtual.Keys, idx.Keys) {
			continue
		}
		score := 0
		if idx.Keys.HasRange() == virtual.Keys.HasRange() {
			score = 1
		}
		if score > bestScore {
			bestScore = score
			best = &idx
		}
	}
	if best == nil {
		return mtdynamo.IndexDescription{}, mtdynamo.Errorf(mtdynamo.KindNoCompatibleIndex,
			"no physical index with a key-type shape compatible with virtual index %q", virtual.Name)
	}
	return *best, nil
}

// exactCompatible reports whether a physical index's key schema can serve a
// virtual index's key schema under the by-name strategy: the physical hash
// key is always the codec's composite string (type S) regardless of the
// virtual hash key's declared type, since the codec rewrites it on the way
// in; the range key, which is never rewritten, must be identical in type or
// absent from both sides.
func exactCompatible(virtual, physical mtdynamo.KeySchema) bool {
	if physical.Hash.Kind != mtdynamo.KeyKindS {
		return false
	}
	if virtual.HasRange() != physical.HasRange() {
		return false
	}
	if virtual.HasRange() && virtual.Range.Kind != physical.Range.Kind {
		return false
	}
	return true
}

// compatible is exactCompatible relaxed for the by-type strategy: a
// physical range key is permitted even when the virtual index has none — it
// is simply left unused by that index's queries.
func compatible(virtual, physical mtdynamo.KeySchema) bool {
	if physical.Hash.Kind != mtdynamo.KeyKindS {
		return false
	}
	if virtual.HasRange() {
		if !physical.HasRange() {
			return false
		}
		if virtual.Range.Kind != physical.Range.Kind {
			return false
		}
	}
	return true
}
