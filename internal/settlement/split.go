package settlement

import (
	"fmt"
	"sort"

	"github.com/omniswarm/omniswarm/internal/swarm"
)

// Ledger account names for the non-node buckets.
const (
	ReserveAccount   = "reserve"
	EcosystemAccount = "ecosystem"
	UnclaimedAccount = "unclaimed_reserve"
)

// Share is one node's cut of the node pool.
type Share struct {
	NodeID string
	Amount int64
}

// Split is the exact accounting of one pool across the royalty
// buckets. Constructed only by ComputeSplit; every field is in base
// units.
type Split struct {
	Pool      int64
	Reserve   int64
	Ecosystem int64
	Unclaimed int64
	Shares    []Share
}

// NodeTotal returns the sum of all node shares.
func (s *Split) NodeTotal() int64 {
	var total int64
	for _, sh := range s.Shares {
		total += sh.Amount
	}
	return total
}

// Conserves reports whether the split accounts for the pool exactly.
func (s *Split) Conserves() bool {
	return s.NodeTotal()+s.Reserve+s.Ecosystem+s.Unclaimed == s.Pool
}

// ComputeSplit applies the 60/20/20 royalty policy to a pool.
//
// Reserve and ecosystem each take pool/5 floored; the node pool is the
// pool minus those two, distributed proportionally to contribution
// value with floored division. The integer remainder of the
// proportional division sweeps into the unclaimed bucket. Shares come
// back sorted by node id.
func ComputeSplit(pool int64, contributions []swarm.Contribution) (*Split, error) {
	if pool <= 0 {
		return nil, fmt.Errorf("royalty pool must be positive, got %d", pool)
	}
	if len(contributions) == 0 {
		return nil, fmt.Errorf("no contributions to settle")
	}

	var totalValue int64
	for _, c := range contributions {
		if c.Value < 0 {
			return nil, fmt.Errorf("negative contribution value %d from node %s", c.Value, c.NodeID)
		}
		totalValue += c.Value
	}
	if totalValue == 0 {
		return nil, fmt.Errorf("total contribution value is zero")
	}

	split := &Split{
		Pool:      pool,
		Reserve:   pool / 5,
		Ecosystem: pool / 5,
	}
	nodePool := pool - split.Reserve - split.Ecosystem

	var distributed int64
	for _, c := range contributions {
		amount := nodePool * c.Value / totalValue
		split.Shares = append(split.Shares, Share{NodeID: c.NodeID, Amount: amount})
		distributed += amount
	}
	split.Unclaimed = nodePool - distributed

	sort.Slice(split.Shares, func(i, j int) bool {
		return split.Shares[i].NodeID < split.Shares[j].NodeID
	})
	return split, nil
}
