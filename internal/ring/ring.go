// Package ring implements the weighted consistent-hash ring: a pure,
// immutable mapping from key to backend, and a Manager that rebuilds it
// from a Registry snapshot under a single-flight discipline.
//
// Based on the "next clockwise, sort.Search + wrap" lookup popularized by
// stathat/consistent and carried forward by ring implementations across
// the corpus (e.g. the cortex ring's search()); the hash function and
// vnode key format are fixed by the original deployment's wire format and
// must not change (see package doc on Build).
package ring

import (
	"bytes"
	"crypto/md5"
	"fmt"
	"math/big"
	"sort"

	"github.com/vinit-chauhan/chlb/internal/registry"
)

// DefaultVNodesPerWeight is V in spec terms: vnode density per unit weight.
const DefaultVNodesPerWeight = 10

type vnode struct {
	hash    [16]byte
	backend *registry.Backend
}

// Ring is an immutable snapshot of (sorted vnode hash -> backend). Once
// built it is never mutated; rebuilds construct a fresh Ring and the
// Manager swaps the pointer atomically.
type Ring struct {
	vnodes []vnode
}

// Build constructs a Ring from a healthy-backend snapshot. It is a pure
// function: no I/O, no shared state. Backends are processed in name-
// ascending order so that vnode-hash collisions resolve deterministically
// (last write, within this one build, wins).
//
// Hash function is MD5 truncated to 128 bits, interpreted big-endian
// unsigned; vnode keys are "<name>-<i>" for i in [0, weight*v). This is
// required for wire compatibility with existing deployments and must not
// be changed.
func Build(backends []registry.Backend, v int) *Ring {
	if v <= 0 {
		v = DefaultVNodesPerWeight
	}

	ordered := make([]registry.Backend, len(backends))
	copy(ordered, backends)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Name < ordered[j].Name })

	byHash := make(map[[16]byte]*registry.Backend)
	for i := range ordered {
		b := &ordered[i]
		if b.Status != registry.StatusHealthy || b.Weight <= 0 {
			continue
		}
		vcount := b.Weight * v
		for vi := 0; vi < vcount; vi++ {
			key := fmt.Sprintf("%s-%d", b.Name, vi)
			h := md5.Sum([]byte(key))
			byHash[h] = b // last-write-wins on collision, deterministic by build order
		}
	}

	vnodes := make([]vnode, 0, len(byHash))
	for h, b := range byHash {
		vnodes = append(vnodes, vnode{hash: h, backend: b})
	}
	sort.Slice(vnodes, func(i, j int) bool {
		return bytes.Compare(vnodes[i].hash[:], vnodes[j].hash[:]) < 0
	})

	return &Ring{vnodes: vnodes}
}

// Get returns the owner of key: the vnode at the smallest hash strictly
// greater than hash(key), wrapping to index 0 if hash(key) is greater than
// every stored position. An exact match against a stored position is NOT
// treated as a hit — ownership advances to the following position. This
// is the strict "next-greater" rule required for wire compatibility (see
// spec Open Questions); it is mildly unusual versus the common "equal
// position is a hit" variant, and must not be "fixed" without confirming
// against existing clients.
func (r *Ring) Get(key string) (*registry.Backend, bool) {
	if r == nil || len(r.vnodes) == 0 {
		return nil, false
	}
	h := md5.Sum([]byte(key))

	idx := sort.Search(len(r.vnodes), func(i int) bool {
		return bytes.Compare(r.vnodes[i].hash[:], h[:]) > 0
	})
	if idx == len(r.vnodes) {
		idx = 0
	}
	return r.vnodes[idx].backend, true
}

// Size returns the number of vnodes in the ring.
func (r *Ring) Size() int {
	if r == nil {
		return 0
	}
	return len(r.vnodes)
}

// VNodeView is one entry of Snapshot, shaped for the State Broadcaster.
type VNodeView struct {
	Hash   string `json:"hash"`
	Server string `json:"server_name"`
	Angle  int    `json:"angle"`
}

// Snapshot returns the ring geometry for dashboards: one entry per vnode,
// in ring order, with hash mod 360 giving a dial angle.
func (r *Ring) Snapshot() []VNodeView {
	if r == nil || len(r.vnodes) == 0 {
		return nil
	}
	mod := big.NewInt(360)
	out := make([]VNodeView, len(r.vnodes))
	for i, vn := range r.vnodes {
		h := new(big.Int).SetBytes(vn.hash[:])
		angle := new(big.Int).Mod(h, mod)
		out[i] = VNodeView{
			Hash:   fmt.Sprintf("%x", vn.hash),
			Server: vn.backend.Name,
			Angle:  int(angle.Int64()),
		}
	}
	return out
}
