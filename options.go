// Package hnsw implements a single-threaded, in-memory approximate
// nearest neighbor index based on the Hierarchical Navigable Small World
// graph: a layered graph in which higher layers hold exponentially fewer
// nodes and act as express lanes toward the base layer, where every
// indexed vector lives.
//
// The index never inspects vector components itself; distance and
// randomness are supplied by the caller (see DistanceFunc and Source),
// keeping the core agnostic to metric choice and test determinism.
package hnsw

import "math"

// VectorID is a stable integer assigned in insertion order. It is never
// reused, even across a vector's effective lifetime — the index has no
// notion of deleting a single vector, only Clear.
type VectorID = uint32

// Numeric is the set of component types a Vector may hold.
type Numeric interface {
	~float32 | ~float64 |
		~int | ~int8 | ~int16 | ~int32 | ~int64 |
		~uint | ~uint8 | ~uint16 | ~uint32 | ~uint64
}

// DistanceFunc computes δ(a, b), a non-negative real distance between
// two vectors of the same dimension. It must be deterministic and
// symmetric within a single search call; the index never checks either
// property itself. The index does not require δ to satisfy the triangle
// inequality.
type DistanceFunc[T Numeric] func(a, b []T) float64

// Source supplies uniform samples in [0, 1), used only for per-insert
// level sampling. The index never seeds one internally from process
// state; callers own determinism.
type Source interface {
	Float64() float64
}

// SearchResult pairs a copy of a stored vector with its distance to the
// query that produced it. The Vector field is a caller-owned copy, never
// an alias into the index's internal storage, so it remains valid
// indefinitely regardless of later Insert/Clear calls.
type SearchResult[T Numeric] struct {
	Vector   []T
	Distance float64
}

// Config holds the immutable parameters of an Index, set at construction
// via New and never changed afterward.
type Config[T Numeric] struct {
	// Dimension is the fixed vector length every Insert/Search call must
	// match.
	Dimension int

	// M is the target number of connections a new node makes per layer
	// it is present in.
	M int

	// MMax is the per-layer degree cap for layers >= 1. Defaults to M.
	MMax int

	// MMax0 is the degree cap for the base layer. Defaults to 2*M, per
	// the paper's recommendation.
	MMax0 int

	// EFConstruction is the size of the dynamic candidate set used
	// during insertion search.
	EFConstruction int

	// MLNorm is the level-sampling normalization factor m_L. Defaults to
	// 1/ln(M).
	MLNorm float64

	// Heuristic selects the "advanced" diversity-preferring neighbor
	// selection heuristic from the paper when true, or the simple
	// closest-M selection when false. Defaults to true.
	Heuristic bool

	// Distance is δ, the distance function between two vectors.
	Distance DistanceFunc[T]

	// RNG supplies the uniform samples used for level sampling.
	RNG Source

	// Logger receives best-effort diagnostic events. Defaults to a
	// no-op logger.
	Logger *Logger
}

// Option mutates a Config during New, applied after Dimension, M,
// EFConstruction, Distance, and RNG have been set from New's required
// arguments, and before defaults are filled in for any field an Option
// didn't touch.
type Option[T Numeric] func(*Config[T])

// WithMMax overrides the per-layer degree cap for layers >= 1.
func WithMMax[T Numeric](mmax int) Option[T] {
	return func(c *Config[T]) { c.MMax = mmax }
}

// WithMMax0 overrides the base-layer degree cap.
func WithMMax0[T Numeric](mmax0 int) Option[T] {
	return func(c *Config[T]) { c.MMax0 = mmax0 }
}

// WithMLNorm overrides the level-sampling normalization factor.
func WithMLNorm[T Numeric](mL float64) Option[T] {
	return func(c *Config[T]) { c.MLNorm = mL }
}

// WithSimpleSelection disables the diversity heuristic, falling back to
// naive closest-M neighbor selection.
func WithSimpleSelection[T Numeric]() Option[T] {
	return func(c *Config[T]) { c.Heuristic = false }
}

// WithLogger attaches a logger. A nil logger is equivalent to not
// calling this option.
func WithLogger[T Numeric](l *Logger) Option[T] {
	return func(c *Config[T]) {
		if l != nil {
			c.Logger = l
		}
	}
}

func defaultConfig[T Numeric](dimension, m, efConstruction int, distance DistanceFunc[T], rng Source) Config[T] {
	// ln(1) == 0 would make m_L infinite; M == 1 is a degenerate but
	// legal configuration (every node gets a single connection), so the
	// normalization factor alone falls back to ln(2) for that case.
	mLBase := m
	if mLBase < 2 {
		mLBase = 2
	}

	return Config[T]{
		Dimension:      dimension,
		M:              m,
		MMax:           m,
		MMax0:          2 * m,
		EFConstruction: efConstruction,
		MLNorm:         1 / math.Log(float64(mLBase)),
		Heuristic:      true,
		Distance:       distance,
		RNG:            rng,
		Logger:         NoopLogger(),
	}
}

func (c *Config[T]) validate() error {
	if c.M < 1 {
		return &ErrInvalidConfig{Reason: "M must be >= 1"}
	}
	if c.EFConstruction < 1 {
		return &ErrInvalidConfig{Reason: "EFConstruction must be >= 1"}
	}
	if c.Dimension < 1 {
		return &ErrInvalidConfig{Reason: "Dimension must be >= 1"}
	}
	if c.Distance == nil {
		return &ErrInvalidConfig{Reason: "Distance must be set"}
	}
	if c.RNG == nil {
		return &ErrInvalidConfig{Reason: "RNG must be set"}
	}
	if c.MMax < 1 {
		return &ErrInvalidConfig{Reason: "MMax must be >= 1"}
	}
	if c.MMax0 < 1 {
		return &ErrInvalidConfig{Reason: "MMax0 must be >= 1"}
	}
	if c.MMax < c.M {
		return &ErrInvalidConfig{Reason: "MMax must be >= M"}
	}
	if c.MMax0 < c.M {
		return &ErrInvalidConfig{Reason: "MMax0 must be >= M"}
	}
	return nil
}
