// Package profile provides read access to versioned corridor profiles with
// similarity-based fallback for unknown corridors.
package profile

import (
	"fmt"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/corridorsec/harrier/internal/domain"
)

// entry pairs a profile with its multipliers inside a snapshot.
type entry struct {
	profile     *domain.CorridorProfile
	multipliers domain.MultiplierSet
}

// Snapshot is one immutable, complete view of all active corridor profiles.
// Snapshots are never mutated after construction; updates build a new one
// and swap it in atomically.
type Snapshot struct {
	entries   map[string]entry
	corridors []string // sorted, for deterministic iteration
}

// NewSnapshot builds a snapshot from stored profiles, validating each
// profile and multiplier set. A validation failure rejects the whole
// snapshot so a partially valid one is never activated.
func NewSnapshot(stored []*domain.StoredProfile) (*Snapshot, error) {
	entries := make(map[string]entry, len(stored))
	corridors := make([]string, 0, len(stored))

	for _, sp := range stored {
		if sp.Profile == nil {
			return nil, &domain.ConfigurationInvariantError{
				Subject: "profile " + sp.Corridor,
				Reason:  "profile body is missing",
			}
		}
		if err := ValidateProfile(sp.Profile); err != nil {
			return nil, err
		}
		mult := sp.Multipliers.FillDefaults()
		if err := mult.Validate(); err != nil {
			return nil, fmt.Errorf("corridor %s: %w", sp.Corridor, err)
		}
		if _, dup := entries[sp.Corridor]; dup {
			return nil, &domain.ConfigurationInvariantError{
				Subject: "profile " + sp.Corridor,
				Reason:  "multiple active versions",
			}
		}
		entries[sp.Corridor] = entry{profile: sp.Profile, multipliers: mult}
		corridors = append(corridors, sp.Corridor)
	}

	sort.Strings(corridors)
	return &Snapshot{entries: entries, corridors: corridors}, nil
}

// Repository resolves corridor profiles against the current snapshot.
// Reads are lock-free: concurrent scoring calls hold a reference to one
// immutable snapshot for the lifetime of a single call while weekly updates
// swap in a replacement.
type Repository struct {
	snapshot        atomic.Pointer[Snapshot]
	similarityFloor float64
}

// NewRepository creates a profile repository with an initial snapshot.
func NewRepository(initial *Snapshot, similarityFloor float64) *Repository {
	r := &Repository{similarityFloor: similarityFloor}
	if initial == nil {
		initial = &Snapshot{entries: map[string]entry{}}
	}
	r.snapshot.Store(initial)
	return r
}

// Swap atomically replaces the active snapshot. In-flight reads keep the
// snapshot they started with.
func (r *Repository) Swap(s *Snapshot) {
	r.snapshot.Store(s)
}

// Get resolves the profile and multipliers for a corridor. Unknown
// corridors fall back to the nearest similar corridor, tagged as inherited.
// Returns MissingProfileError when nothing is similar enough.
func (r *Repository) Get(corridorID string) (*domain.ResolvedProfile, error) {
	snap := r.snapshot.Load()

	if e, ok := snap.entries[corridorID]; ok {
		return &domain.ResolvedProfile{
			Profile:     e.profile,
			Multipliers: e.multipliers,
		}, nil
	}

	nearest, score := snap.nearest(corridorID)
	if nearest == "" || score < r.similarityFloor {
		return nil, &domain.MissingProfileError{Corridor: corridorID}
	}

	e := snap.entries[nearest]
	return &domain.ResolvedProfile{
		Profile:       e.profile,
		Multipliers:   e.multipliers,
		Inherited:     true,
		InheritedFrom: nearest,
	}, nil
}

// Corridors lists the corridor codes in the active snapshot.
func (r *Repository) Corridors() []string {
	return r.snapshot.Load().corridors
}

// nearest finds the most similar known corridor. Deterministic: corridors
// are scanned in sorted order, so equal scores resolve to the
// lexicographically smallest code.
func (s *Snapshot) nearest(corridorID string) (string, float64) {
	origin, dest := splitCorridor(corridorID)

	best := ""
	bestScore := 0.0
	for _, code := range s.corridors {
		score := s.similarity(code, corridorID, origin, dest)
		if score > bestScore {
			best, bestScore = code, score
		}
	}
	return best, bestScore
}

// similarity scores a candidate corridor against the requested one.
// Declared relationships rank highest, then shared destination currency,
// then shared destination region, then shared origin.
func (s *Snapshot) similarity(candidate, requested, origin, dest string) float64 {
	e := s.entries[candidate]
	for _, rel := range e.profile.RelatedCorridors {
		if rel == requested {
			return 1.0
		}
	}

	candOrigin, candDest := splitCorridor(candidate)
	switch {
	case dest != "" && candDest == dest:
		return 0.9
	case dest != "" && currencyRegion(candDest) != "" && currencyRegion(candDest) == currencyRegion(dest):
		return 0.6
	case origin != "" && candOrigin == origin:
		return 0.3
	}
	return 0.0
}

// splitCorridor parses "GBP_NGN" into origin and destination currencies.
func splitCorridor(code string) (origin, dest string) {
	parts := strings.SplitN(code, "_", 2)
	if len(parts) != 2 {
		return "", ""
	}
	return parts[0], parts[1]
}

// currencyRegion maps destination currencies to coarse regions for the
// similarity fallback. Unlisted currencies have no region.
func currencyRegion(currency string) string {
	return regions[currency]
}

var regions = map[string]string{
	"NGN": "west-africa",
	"GHS": "west-africa",
	"XOF": "west-africa",
	"KES": "east-africa",
	"TZS": "east-africa",
	"UGX": "east-africa",
	"ZAR": "southern-africa",
	"PLN": "central-europe",
	"CZK": "central-europe",
	"HUF": "central-europe",
	"RON": "central-europe",
	"EUR": "western-europe",
	"GBP": "western-europe",
	"INR": "south-asia",
	"PKR": "south-asia",
	"BDT": "south-asia",
	"LKR": "south-asia",
	"NPR": "south-asia",
	"PHP": "southeast-asia",
	"VND": "southeast-asia",
	"IDR": "southeast-asia",
	"THB": "southeast-asia",
	"MXN": "latam",
	"BRL": "latam",
	"COP": "latam",
	"PEN": "latam",
	"USD": "north-america",
	"CAD": "north-america",
}
