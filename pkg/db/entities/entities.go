// Package entities names the derived datasets the pipeline materializes.
//
// Every table the reorg reconciler may rewrite, every sink write, and every metric label
// refers to an Entity constant from here so a new dataset is a single-line change.
//
// Usage:
//
//	for _, e := range entities.BlockScoped() {
//	    store.DeleteAtBlocks(ctx, e, divergent)
//	}
package entities

import (
	"fmt"
	"sort"
	"strings"
)

// Entity is a derived dataset. Use the package constants rather than constructing values.
type Entity string

const (
	// Blocks holds block identity (number, hash, parent hash). The reorg reconciler diffs against it.
	Blocks Entity = "blocks"

	// Transactions holds one row per transaction.
	Transactions Entity = "transactions"

	// Transfers holds directional value flows (inbound, outbound, issuance) per address.
	Transfers Entity = "transfers"

	// Balances holds cumulative per-address snapshots keyed by the batch's target block.
	Balances Entity = "balances"
)

// allEntities must list every constant above; init panics on malformed names.
var allEntities = []Entity{
	Blocks,
	Transactions,
	Transfers,
	Balances,
}

// blockScoped entities hold rows derived from exactly one block, so they can be
// deleted and re-derived per block number.
var blockScoped = []Entity{
	Blocks,
	Transactions,
	Transfers,
}

var entitySet map[Entity]bool

func init() {
	entitySet = make(map[Entity]bool, len(allEntities))
	for _, e := range allEntities {
		if e == "" {
			panic("entities: empty entity name detected in allEntities")
		}
		if strings.ContainsAny(string(e), " \t") {
			panic(fmt.Sprintf("entities: entity name %q contains whitespace", e))
		}
		entitySet[e] = true
	}
}

func (e Entity) String() string {
	return string(e)
}

// TableName returns the storage table for this entity.
func (e Entity) TableName() string {
	return string(e)
}

func (e Entity) IsValid() bool {
	return entitySet[e]
}

// MarshalText implements encoding.TextMarshaler.
func (e Entity) MarshalText() ([]byte, error) {
	return []byte(e), nil
}

// UnmarshalText validates the decoded name.
func (e *Entity) UnmarshalText(text []byte) error {
	entity := Entity(text)
	if !entity.IsValid() {
		return fmt.Errorf("invalid entity: %q", text)
	}
	*e = entity
	return nil
}

// FromString converts external input into an Entity.
func FromString(s string) (Entity, error) {
	e := Entity(strings.TrimSpace(s))
	if !e.IsValid() {
		return "", fmt.Errorf("unknown entity %q (valid: %s)", s, strings.Join(AllStrings(), ", "))
	}
	return e, nil
}

// ParseList parses a comma separated list of entity names.
func ParseList(s string) ([]Entity, error) {
	var out []Entity
	for _, part := range strings.Split(s, ",") {
		if strings.TrimSpace(part) == "" {
			continue
		}
		e, err := FromString(part)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

// All returns a copy of every known entity.
func All() []Entity {
	out := make([]Entity, len(allEntities))
	copy(out, allEntities)
	return out
}

// BlockScoped returns the entities whose rows are derived from a single block.
func BlockScoped() []Entity {
	out := make([]Entity, len(blockScoped))
	copy(out, blockScoped)
	return out
}

// AllStrings returns the sorted entity names.
func AllStrings() []string {
	out := make([]string, 0, len(allEntities))
	for _, e := range allEntities {
		out = append(out, string(e))
	}
	sort.Strings(out)
	return out
}
