// Package classify turns a centered query vector and the registered shots
// into a probability distribution over classes.
package classify

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"

	"github.com/ayusman/fewshot/internal/features"
)

var (
	// ErrInvalidConfiguration is returned for option combinations that
	// cannot produce a distribution.
	ErrInvalidConfiguration = errors.New("invalid classifier configuration")

	// ErrEmptyRegistry is returned when no class is registered.
	ErrEmptyRegistry = errors.New("no registered class")
)

// Strategy selects how scores are computed.
type Strategy string

const (
	// StrategyNCM scores each class by its distance to the class prototype.
	StrategyNCM Strategy = "ncm"
	// StrategyKNN votes among the K nearest shots.
	StrategyKNN Strategy = "knn"
)

// Metric selects the distance between two vectors.
type Metric string

const (
	// MetricEuclidean is the squared Euclidean distance.
	MetricEuclidean Metric = "euclidean"
	// MetricCosine is one minus the cosine similarity.
	MetricCosine Metric = "cosine"
)

// Options configures a Classifier.
type Options struct {
	Strategy    Strategy
	Metric      Metric
	Neighbors   int     // K for StrategyKNN
	Temperature float64 // softmax temperature for StrategyNCM
	Normalize   bool    // L2-normalize vectors before measuring distance
}

// DefaultOptions returns the nearest-class-mean classifier with squared
// Euclidean distance.
func DefaultOptions() Options {
	return Options{
		Strategy:    StrategyNCM,
		Metric:      MetricEuclidean,
		Neighbors:   5,
		Temperature: 1,
	}
}

// Validate checks the options independently of any registered data.
func (o Options) Validate() error {
	switch o.Strategy {
	case StrategyNCM:
		if !(o.Temperature > 0) || math.IsInf(o.Temperature, 0) {
			return fmt.Errorf("%w: temperature must be positive, got %v", ErrInvalidConfiguration, o.Temperature)
		}
	case StrategyKNN:
		if o.Neighbors < 1 {
			return fmt.Errorf("%w: neighbor count must be at least 1, got %d", ErrInvalidConfiguration, o.Neighbors)
		}
	default:
		return fmt.Errorf("%w: unknown strategy %q", ErrInvalidConfiguration, o.Strategy)
	}
	switch o.Metric {
	case MetricEuclidean, MetricCosine:
	default:
		return fmt.Errorf("%w: unknown metric %q", ErrInvalidConfiguration, o.Metric)
	}
	return nil
}

// Classifier maps a centered query to a distribution aligned with the
// order of classes. Implementations hold no state between calls.
type Classifier interface {
	Classify(query features.Vector, classes []features.Class) (Distribution, error)
}

// New returns the Classifier selected by opts.
func New(opts Options) (Classifier, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	dist := distanceFunc(opts.Metric)
	switch opts.Strategy {
	case StrategyKNN:
		return &NeighborVote{K: opts.Neighbors, distance: dist, normalize: opts.Normalize}, nil
	default:
		return &PrototypeMean{Temperature: opts.Temperature, distance: dist, normalize: opts.Normalize}, nil
	}
}

// PrototypeMean is the nearest-class-mean classifier.
type PrototypeMean struct {
	Temperature float64
	distance    func(a, b features.Vector) float64
	normalize   bool
}

// Classify implements Classifier.
func (c *PrototypeMean) Classify(query features.Vector, classes []features.Class) (Distribution, error) {
	if err := checkInputs(query, classes); err != nil {
		return nil, err
	}
	q := prepare(query, c.normalize)

	scores := make([]float64, len(classes))
	for i, class := range classes {
		proto := Prototype(class.Shots)
		scores[i] = -c.distance(q, prepare(proto, c.normalize)) / c.Temperature
	}
	return softmax(scores), nil
}

// NeighborVote assigns each class the fraction of the K nearest shots that
// belong to it.
type NeighborVote struct {
	K         int
	distance  func(a, b features.Vector) float64
	normalize bool
}

type neighbor struct {
	class int // index into classes
	shot  int
	dist  float64
}

// Classify implements Classifier.
func (c *NeighborVote) Classify(query features.Vector, classes []features.Class) (Distribution, error) {
	if err := checkInputs(query, classes); err != nil {
		return nil, err
	}
	q := prepare(query, c.normalize)

	var pool []neighbor
	for ci, class := range classes {
		for si, shot := range class.Shots {
			pool = append(pool, neighbor{class: ci, shot: si, dist: c.distance(q, prepare(shot, c.normalize))})
		}
	}
	if c.K < 1 || c.K > len(pool) {
		return nil, fmt.Errorf("%w: %d neighbors requested, %d shots registered", ErrInvalidConfiguration, c.K, len(pool))
	}

	// pool is built in class then shot order, so a stable sort breaks ties
	// deterministically.
	sort.SliceStable(pool, func(i, j int) bool {
		return pool[i].dist < pool[j].dist
	})

	d := make(Distribution, len(classes))
	for _, n := range pool[:c.K] {
		d[n.class]++
	}
	floats.Scale(1/float64(c.K), d)
	return d, nil
}

// Prototype returns the mean of shots.
func Prototype(shots []features.Vector) features.Vector {
	if len(shots) == 0 {
		return nil
	}
	proto := make(features.Vector, len(shots[0]))
	for _, s := range shots {
		floats.Add(proto, s)
	}
	floats.Scale(1/float64(len(shots)), proto)
	return proto
}

func checkInputs(query features.Vector, classes []features.Class) error {
	if len(classes) == 0 {
		return ErrEmptyRegistry
	}
	for _, class := range classes {
		if len(class.Shots) == 0 {
			return fmt.Errorf("%w: class %d has no shot", ErrEmptyRegistry, class.ID)
		}
		for _, s := range class.Shots {
			if len(s) != len(query) {
				return fmt.Errorf("%w: query has %d values, class %d shot has %d", features.ErrDimensionMismatch, len(query), class.ID, len(s))
			}
		}
	}
	return nil
}

func prepare(v features.Vector, normalize bool) features.Vector {
	if !normalize {
		return v
	}
	n := floats.Norm(v, 2)
	if n == 0 {
		return v
	}
	out := v.Clone()
	floats.Scale(1/n, out)
	return out
}

func distanceFunc(m Metric) func(a, b features.Vector) float64 {
	if m == MetricCosine {
		return cosineDistance
	}
	return squaredEuclidean
}

func squaredEuclidean(a, b features.Vector) float64 {
	d := floats.Distance(a, b, 2)
	return d * d
}

func cosineDistance(a, b features.Vector) float64 {
	na, nb := floats.Norm(a, 2), floats.Norm(b, 2)
	if na == 0 || nb == 0 {
		return 1
	}
	return 1 - floats.Dot(a, b)/(na*nb)
}

// softmax is computed as exp(s - logsumexp(s)) so large scores cannot
// overflow.
func softmax(scores []float64) Distribution {
	lse := floats.LogSumExp(scores)
	d := make(Distribution, len(scores))
	for i, s := range scores {
		d[i] = math.Exp(s - lse)
	}
	return d.normalized()
}
