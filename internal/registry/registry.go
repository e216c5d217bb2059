// Package registry holds the admitted scan clients in three disjoint partitions:
// active regular, active batch and suspended. Each partition keeps insertion order,
// which makes arbitration ties and sweeps deterministic.
//
// A Registry is not safe for concurrent use; it is owned by the scheduler loop.
package registry

import (
	"errors"
	"fmt"

	"github.com/srg/scanmux/internal/scan"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

var (
	ErrDuplicate = errors.New("client already registered")
	ErrNotFound  = errors.New("client not registered")
)

// Partition names the membership of a client.
type Partition int

const (
	None Partition = iota
	Regular
	Batch
	Suspended
)

func (p Partition) String() string {
	switch p {
	case Regular:
		return "regular"
	case Batch:
		return "batch"
	case Suspended:
		return "suspended"
	default:
		return "none"
	}
}

type clientMap = orderedmap.OrderedMap[scan.ClientID, *scan.Client]

// Registry is the owned arena of admitted clients.
type Registry struct {
	parts map[Partition]*clientMap
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		parts: map[Partition]*clientMap{
			Regular:   orderedmap.New[scan.ClientID, *scan.Client](),
			Batch:     orderedmap.New[scan.ClientID, *scan.Client](),
			Suspended: orderedmap.New[scan.ClientID, *scan.Client](),
		},
	}
}

// Add inserts c into partition p. A client id may live in only one partition.
func (r *Registry) Add(p Partition, c *scan.Client) error {
	m, ok := r.parts[p]
	if !ok {
		return fmt.Errorf("invalid partition %s", p)
	}
	if _, existing := r.Get(c.ID); existing != None {
		return fmt.Errorf("%w: %d in %s", ErrDuplicate, c.ID, existing)
	}
	m.Set(c.ID, c)
	return nil
}

// Get returns the client and the partition holding it, or None.
func (r *Registry) Get(id scan.ClientID) (*scan.Client, Partition) {
	for _, p := range []Partition{Regular, Batch, Suspended} {
		if c, ok := r.parts[p].Get(id); ok {
			return c, p
		}
	}
	return nil, None
}

// In reports whether id is held by partition p.
func (r *Registry) In(p Partition, id scan.ClientID) bool {
	m, ok := r.parts[p]
	if !ok {
		return false
	}
	_, present := m.Get(id)
	return present
}

// Remove deletes id from whichever partition holds it.
func (r *Registry) Remove(id scan.ClientID) (*scan.Client, Partition) {
	c, p := r.Get(id)
	if p == None {
		return nil, None
	}
	r.parts[p].Delete(id)
	return c, p
}

// Move transfers id to partition to, appending it at the end of that partition.
func (r *Registry) Move(id scan.ClientID, to Partition) error {
	if _, ok := r.parts[to]; !ok {
		return fmt.Errorf("invalid partition %s", to)
	}
	c, from := r.Remove(id)
	if from == None {
		return fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	r.parts[to].Set(id, c)
	return nil
}

// List returns the clients of partition p in insertion order.
func (r *Registry) List(p Partition) []*scan.Client {
	m, ok := r.parts[p]
	if !ok {
		return nil
	}
	out := make([]*scan.Client, 0, m.Len())
	for pair := m.Oldest(); pair != nil; pair = pair.Next() {
		out = append(out, pair.Value)
	}
	return out
}

// Len returns the size of partition p.
func (r *Registry) Len(p Partition) int {
	if m, ok := r.parts[p]; ok {
		return m.Len()
	}
	return 0
}

// ByCaller returns every admitted client of a caller across all partitions.
func (r *Registry) ByCaller(uid int) []*scan.Client {
	var out []*scan.Client
	for _, p := range []Partition{Regular, Batch, Suspended} {
		for _, c := range r.List(p) {
			if c.CallerUID == uid {
				out = append(out, c)
			}
		}
	}
	return out
}
