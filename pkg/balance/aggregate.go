package balance

import (
	"math/big"
	"sort"
)

type Options struct {
	// TrackFees subtracts network fees from native-asset balances.
	TrackFees bool
}

type partitionKey struct {
	key       Key
	direction Direction
}

// Aggregate folds a batch of flows into one snapshot per address and token, stamped with
// target. It does not look at stored state. Output is sorted by address, then token.
func Aggregate(flows []ValueFlow, target uint64, opts Options) []*Snapshot {
	sorted := make([]ValueFlow, len(flows))
	copy(sorted, flows)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Block != sorted[j].Block {
			return sorted[i].Block < sorted[j].Block
		}
		return sorted[i].Position < sorted[j].Position
	})

	partitions := map[partitionKey][]ValueFlow{}
	for _, f := range sorted {
		pk := partitionKey{key: Key{Address: f.Address, Token: f.Token}, direction: f.Direction}
		partitions[pk] = append(partitions[pk], f)
	}

	snapshots := map[Key]*Snapshot{}
	for pk, part := range partitions {
		s, ok := snapshots[pk.key]
		if !ok {
			s = newSnapshot(pk.key, target)
			snapshots[pk.key] = s
		}
		*s.counters(pk.direction) = summarize(part)
		if opts.TrackFees && pk.key.Token.Native() {
			for _, f := range part {
				if f.Fee != nil {
					s.Fees.Add(s.Fees, f.Fee)
				}
			}
		}
	}

	out := make([]*Snapshot, 0, len(snapshots))
	for _, s := range snapshots {
		s.Cumulative = cumulative(s)
		out = append(out, s)
	}
	sortSnapshots(out)
	return out
}

// summarize aggregates one partition already ordered by (block, position).
func summarize(part []ValueFlow) Counters {
	c := zeroCounters()
	blocks := map[uint64]struct{}{}
	txs := map[string]struct{}{}
	for _, f := range part {
		if f.Value != nil {
			c.Value.Add(c.Value, f.Value)
		}
		blocks[f.Block] = struct{}{}
		txs[f.TxHash] = struct{}{}
	}
	c.BlockCount = uint64(len(blocks))
	c.TxCount = uint64(len(txs))
	c.TransferCount = uint64(len(part))
	if len(part) > 0 {
		c.First = occurrenceOf(part[0])
		c.Last = occurrenceOf(part[len(part)-1])
	}
	return c
}

func occurrenceOf(f ValueFlow) *Occurrence {
	return &Occurrence{Timestamp: f.Timestamp, Block: f.Block, TxHash: f.TxHash, Position: f.Position}
}

// cumulative is inbound + issuance - outbound - fees.
func cumulative(s *Snapshot) *big.Int {
	v := new(big.Int).Add(s.Inbound.Value, s.Issuance.Value)
	v.Sub(v, s.Outbound.Value)
	return v.Sub(v, s.Fees)
}

// Merge adds batch onto prior. First occurrences keep the prior's pointer when it has
// one; last occurrences take the batch's. The result carries the batch's block.
func Merge(prior, batch *Snapshot) *Snapshot {
	if prior == nil {
		return batch
	}
	out := newSnapshot(batch.Key(), batch.Block)
	for _, d := range []Direction{Inbound, Outbound, Issuance} {
		*out.counters(d) = mergeCounters(*prior.counters(d), *batch.counters(d))
	}
	out.Fees.Add(bigOrZero(prior.Fees), bigOrZero(batch.Fees))
	out.Cumulative.Add(bigOrZero(prior.Cumulative), bigOrZero(batch.Cumulative))
	return out
}

func mergeCounters(prior, batch Counters) Counters {
	out := Counters{
		BlockCount:    prior.BlockCount + batch.BlockCount,
		TxCount:       prior.TxCount + batch.TxCount,
		TransferCount: prior.TransferCount + batch.TransferCount,
		Value:         new(big.Int).Add(bigOrZero(prior.Value), bigOrZero(batch.Value)),
		First:         prior.First,
		Last:          batch.Last,
	}
	if out.First == nil {
		out.First = batch.First
	}
	if out.Last == nil {
		out.Last = prior.Last
	}
	return out
}

func bigOrZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}

func sortSnapshots(s []*Snapshot) {
	sort.Slice(s, func(i, j int) bool {
		a, b := s[i], s[j]
		if a.Address != b.Address {
			return a.Address < b.Address
		}
		if a.Token.Contract != b.Token.Contract {
			return a.Token.Contract < b.Token.Contract
		}
		return a.Token.SubID < b.Token.SubID
	})
}
