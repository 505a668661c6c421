package database

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/coder/hnsw"

	"github.com/kozaktomas/facegate/internal/credential"
	"github.com/kozaktomas/facegate/internal/facematch"
)

// ErrIndexEmpty is returned by Search on an index with no descriptors.
var ErrIndexEmpty = errors.New("descriptor index is empty")

// IndexMetadata is written next to a saved index for staleness detection.
type IndexMetadata struct {
	Count       int       `json:"count"`
	Fingerprint string    `json:"fingerprint"`
	BuildTime   time.Time `json:"build_time"`
	Version     int       `json:"version"`
}

const indexMetadataVersion = 2

// fingerprint hashes the indexed identifiers and descriptor values in key order.
func fingerprint(descriptors map[string]facematch.Descriptor) string {
	ids := make([]string, 0, len(descriptors))
	for id := range descriptors {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	h := sha256.New()
	var buf [4]byte
	for _, id := range ids {
		h.Write([]byte(id))
		h.Write([]byte{0})
		for _, v := range descriptors[id] {
			binary.LittleEndian.PutUint32(buf[:], math.Float32bits(v))
			h.Write(buf[:])
		}
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Neighbor is one search hit.
type Neighbor struct {
	Identifier string  `json:"identifier"`
	Distance   float64 `json:"distance"`
	Match      bool    `json:"match"`
}

// Collision is a pair of enrolled accounts whose faces would pass the
// match decision against each other.
type Collision struct {
	A        string  `json:"a"`
	B        string  `json:"b"`
	Distance float64 `json:"distance"`
}

// DescriptorIndex wraps an HNSW graph of enrolled face descriptors keyed by
// normalized identifier, using Euclidean distance.
type DescriptorIndex struct {
	mu          sync.RWMutex
	graph       *hnsw.Graph[string]
	descriptors map[string]facematch.Descriptor
}

// NewDescriptorIndex creates a new empty index.
func NewDescriptorIndex() *DescriptorIndex {
	return &DescriptorIndex{descriptors: make(map[string]facematch.Descriptor)}
}

func newGraph() *hnsw.Graph[string] {
	g := hnsw.NewGraph[string]()
	g.M = HNSWMaxNeighbors
	g.Ml = 1.0 / float64(HNSWMaxNeighbors)
	g.EfSearch = HNSWEfSearch
	g.Distance = hnsw.EuclideanDistance
	return g
}

// Build replaces the index contents with the enrolled records.
// Records without a descriptor are skipped.
func (x *DescriptorIndex) Build(records []*credential.AccountRecord) {
	x.mu.Lock()
	defer x.mu.Unlock()

	x.graph = newGraph()
	x.descriptors = make(map[string]facematch.Descriptor, len(records))
	for _, rec := range records {
		x.addLocked(rec)
	}
}

// Add inserts or replaces a single record.
func (x *DescriptorIndex) Add(rec *credential.AccountRecord) {
	x.mu.Lock()
	defer x.mu.Unlock()

	if x.graph == nil {
		x.graph = newGraph()
	}
	x.addLocked(rec)
}

func (x *DescriptorIndex) addLocked(rec *credential.AccountRecord) {
	if !rec.HasDescriptor() {
		return
	}
	id := credential.NormalizeIdentifier(rec.Identifier)
	if _, exists := x.descriptors[id]; exists {
		x.graph.Delete(id)
	}
	d := rec.FaceDescriptor.Clone()
	x.graph.Add(hnsw.MakeNode(id, []float32(d)))
	x.descriptors[id] = d
}

// Len returns the number of indexed descriptors.
func (x *DescriptorIndex) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.descriptors)
}

// Search returns up to k nearest descriptors ordered by distance.
func (x *DescriptorIndex) Search(query facematch.Descriptor, k int) ([]Neighbor, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()

	if x.graph == nil || len(x.descriptors) == 0 {
		return nil, ErrIndexEmpty
	}
	if !query.Valid() {
		return nil, facematch.ErrInvalidDescriptor
	}

	nodes := x.graph.Search([]float32(query), k)
	out := make([]Neighbor, 0, len(nodes))
	for _, n := range nodes {
		v, err := facematch.Compare(query, x.descriptors[n.Key])
		if err != nil {
			return nil, fmt.Errorf("compare with %s: %w", n.Key, err)
		}
		out = append(out, Neighbor{Identifier: n.Key, Distance: v.Distance, Match: v.Match})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Distance < out[j].Distance })
	return out, nil
}

// Collisions finds every pair of indexed accounts closer than the match
// threshold. progress, when non-nil, is called once per scanned account.
func (x *DescriptorIndex) Collisions(progress func()) ([]Collision, error) {
	x.mu.RLock()
	ids := make([]string, 0, len(x.descriptors))
	for id := range x.descriptors {
		ids = append(ids, id)
	}
	x.mu.RUnlock()
	sort.Strings(ids)

	seen := make(map[[2]string]bool)
	var out []Collision
	for _, id := range ids {
		x.mu.RLock()
		d := x.descriptors[id]
		x.mu.RUnlock()

		neighbors, err := x.Search(d, HNSWSearchMultiplier+1)
		if err != nil {
			return nil, err
		}
		for _, n := range neighbors {
			if n.Identifier == id || !n.Match {
				continue
			}
			pair := [2]string{id, n.Identifier}
			if pair[0] > pair[1] {
				pair[0], pair[1] = pair[1], pair[0]
			}
			if seen[pair] {
				continue
			}
			seen[pair] = true
			out = append(out, Collision{A: pair[0], B: pair[1], Distance: n.Distance})
		}
		if progress != nil {
			progress()
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Distance < out[j].Distance })
	return out, nil
}

// Save persists the graph to path and its metadata to path+".meta".
func (x *DescriptorIndex) Save(path string) error {
	x.mu.RLock()
	defer x.mu.RUnlock()

	if x.graph == nil || len(x.descriptors) == 0 {
		_ = os.Remove(path)
		_ = os.Remove(path + ".meta")
		return nil
	}

	f, err := os.Create(path) //nolint:gosec // path is from trusted flags
	if err != nil {
		return fmt.Errorf("failed to create HNSW index file: %w", err)
	}
	defer f.Close()

	if err := x.graph.Export(f); err != nil {
		return fmt.Errorf("failed to export HNSW graph: %w", err)
	}

	meta, err := json.Marshal(IndexMetadata{
		Count:       len(x.descriptors),
		Fingerprint: fingerprint(x.descriptors),
		BuildTime:   time.Now(),
		Version:     indexMetadataVersion,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}
	if err := os.WriteFile(path+".meta", meta, 0o600); err != nil {
		return fmt.Errorf("failed to write metadata file: %w", err)
	}
	return nil
}

// LoadIndexMetadata reads the metadata written by Save.
func LoadIndexMetadata(path string) (IndexMetadata, error) {
	var meta IndexMetadata
	data, err := os.ReadFile(path + ".meta") //nolint:gosec // path is from trusted flags
	if err != nil {
		return meta, fmt.Errorf("failed to read metadata file: %w", err)
	}
	if err := json.Unmarshal(data, &meta); err != nil {
		return meta, fmt.Errorf("failed to unmarshal metadata: %w", err)
	}
	return meta, nil
}

// LoadOrBuild loads a saved graph when its metadata matches the enrolled
// identifiers and descriptors, and rebuilds from records otherwise. It
// reports whether the saved graph was reused.
func (x *DescriptorIndex) LoadOrBuild(path string, records []*credential.AccountRecord) (bool, error) {
	enrolled := make([]*credential.AccountRecord, 0, len(records))
	for _, rec := range records {
		if rec.HasDescriptor() {
			enrolled = append(enrolled, rec)
		}
	}

	descriptors := make(map[string]facematch.Descriptor, len(enrolled))
	for _, rec := range enrolled {
		descriptors[credential.NormalizeIdentifier(rec.Identifier)] = rec.FaceDescriptor.Clone()
	}

	meta, err := LoadIndexMetadata(path)
	if err != nil || meta.Version != indexMetadataVersion ||
		meta.Count != len(descriptors) || meta.Fingerprint != fingerprint(descriptors) {
		x.Build(enrolled)
		return false, nil
	}

	f, err := os.Open(path) //nolint:gosec // path is from trusted flags
	if err != nil {
		x.Build(enrolled)
		return false, nil
	}
	defer f.Close()

	g := newGraph()
	if err := g.Import(f); err != nil {
		return false, fmt.Errorf("failed to import HNSW graph: %w", err)
	}

	x.mu.Lock()
	x.graph = g
	x.descriptors = descriptors
	x.mu.Unlock()
	return true, nil
}
