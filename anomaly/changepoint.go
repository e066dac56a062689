package anomaly

import (
	"math"
	"math/rand"
	"sync"

	"github.com/evergreen-ci/statsbeam/model"
)

// ChangePoint is one detected shift in a dimension's bucket-value
// series, the index into that series where the distribution changed.
type ChangePoint struct {
	Index       int
	Probability float64
}

// QHatDetector runs the e-divisive change-point algorithm over a single
// series. It is not safe for concurrent use; ChangePointTracker shares
// one across all its dimensions and calls it only while holding its own
// lock.
type QHatDetector struct {
	rand         *rand.Rand
	pvalue       float64
	permutations int
}

// NewQHatDetector constructs a detector with the given significance
// threshold, permutation-test iteration count, and PRNG seed.
func NewQHatDetector(pvalue float64, permutations int, seed int64) *QHatDetector {
	return &QHatDetector{
		rand:         rand.New(rand.NewSource(seed)),
		pvalue:       pvalue,
		permutations: permutations,
	}
}

func calculateDiffs(series []float64) []float64 {
	length := len(series)
	diffs := make([]float64, length*length)
	for row := 0; row < length; row++ {
		for column := row; column < length; column++ {
			delta := math.Abs(series[row] - series[column])
			diffs[row*length+column] = delta
			diffs[column*length+row] = delta
		}
	}
	return diffs
}

func calculateQ(term1, term2, term3 float64, suffix, prefix int) float64 {
	m := float64(suffix)
	n := float64(prefix)

	term1Reg := term1 * (2.0 / (m * n))
	term2Reg := term2 * (2.0 / (n * (n - 1)))
	term3Reg := term3 * (2.0 / (m * (m - 1)))
	newq := float64(int((m * n) / (m + n)))
	return newq * (term1Reg - term2Reg - term3Reg)
}

func (d *QHatDetector) qHat(series []float64) []float64 {
	length := len(series)
	qhatValues := make([]float64, length)

	if length < 5 {
		return qhatValues
	}

	diffs := calculateDiffs(series)

	n := 2
	m := length - n

	term1 := 0.0
	for i := 0; i < n; i++ {
		for j := n; j < length; j++ {
			term1 += diffs[i*length+j]
		}
	}
	term2 := 0.0
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			term2 += diffs[i*length+j]
		}
	}
	term3 := 0.0
	for i := n; i < length; i++ {
		for j := i + 1; j < length; j++ {
			term3 += diffs[i*length+j]
		}
	}

	qhatValues[n] = calculateQ(term1, term2, term3, m, n)

	for n := 3; n < length-2; n++ {
		m = length - n
		rowDelta := 0.0
		for j := 0; j < n-1; j++ {
			rowDelta += diffs[(n-1)*length+j]
		}
		columnDelta := 0.0
		for j := n - 1; j < length; j++ {
			columnDelta += diffs[j*length+n-1]
		}

		term1 = term1 - rowDelta + columnDelta
		term2 = term2 + rowDelta
		term3 = term3 - columnDelta

		qhatValues[n] = calculateQ(term1, term2, term3, m, n)
	}

	return qhatValues
}

func extractQ(qhatValues []float64) (int, float64) {
	var index int
	var value float64
	for i, v := range qhatValues {
		if v > value {
			index, value = i, v
		}
	}
	return index, value
}

func (d *QHatDetector) shuffleMax(series []float64) float64 {
	shuffled := append([]float64{}, series...)
	d.rand.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
	_, q := extractQ(d.qHat(shuffled))
	return q
}

// DetectChanges returns at most one change point: the strongest qHat
// candidate in series, and only if it passes the permutation test. It
// runs a single iteration of qhatDetector's strongest-candidate search
// and does not recurse into the segments on either side, since
// ChangePointTracker only needs one candidate, not a complete
// decomposition.
func (d *QHatDetector) DetectChanges(series []float64) []ChangePoint {
	if len(series) < 5 {
		return nil
	}

	winQs := d.qHat(series)
	index, q := extractQ(winQs)
	if q == 0 {
		return nil
	}

	countAbove := 0
	for i := 0; i < d.permutations; i++ {
		if d.shuffleMax(series) >= q {
			countAbove++
		}
	}
	probability := float64(1+countAbove) / float64(d.permutations+1)
	if probability > d.pvalue {
		return nil
	}

	return []ChangePoint{{Index: index, Probability: probability}}
}

type changePointSeries struct {
	dim             model.DimensionKey
	values          []float64
	lastChangeIndex int
}

// ChangePointTracker is an alternative to SlidingWindowTracker's
// fixed-threshold alarm: it runs e-divisive change-point detection over
// each dimension's bounded trailing bucket-value history and fires
// subscribers only when a change point newer than the last reported one
// appears (spec.md §4.3's anomaly tracker, generalized per SPEC_FULL.md
// to the teacher's e-divisive algorithm in perf/edivisive.go).
type ChangePointTracker struct {
	mu          sync.Mutex
	metricID    int64
	detector    *QHatDetector
	maxSeriesLen int
	subscribers []AlertSubscriber
	series      map[model.MapKey]*changePointSeries
}

// NewChangePointTracker constructs a tracker bounding each dimension's
// kept series to maxSeriesLen values (oldest dropped first), so the
// O(n^2) qHat scan stays cheap regardless of how long the metric runs.
func NewChangePointTracker(metricID int64, detector *QHatDetector, maxSeriesLen int, subscribers ...AlertSubscriber) *ChangePointTracker {
	return &ChangePointTracker{
		metricID:     metricID,
		detector:     detector,
		maxSeriesLen: maxSeriesLen,
		subscribers:  subscribers,
		series:       make(map[model.MapKey]*changePointSeries),
	}
}

// Observe folds one finalized bucket's numeric projection for dim into
// its trailing series and fires subscribers if a new change point
// appears past the last one already reported for this dimension.
func (t *ChangePointTracker) Observe(dim model.DimensionKey, value float64, bucketEndNanos int64) {
	key := dim.MapKey()

	t.mu.Lock()
	s, ok := t.series[key]
	if !ok {
		s = &changePointSeries{dim: dim, lastChangeIndex: -1}
		t.series[key] = s
	}
	s.values = append(s.values, value)
	if t.maxSeriesLen > 0 && len(s.values) > t.maxSeriesLen {
		drop := len(s.values) - t.maxSeriesLen
		s.values = s.values[drop:]
		s.lastChangeIndex -= drop
	}
	series := append([]float64{}, s.values...)
	lastChangeIndex := s.lastChangeIndex
	points := t.detector.DetectChanges(series)
	t.mu.Unlock()

	if len(points) == 0 {
		return
	}

	newest := points[len(points)-1]
	if newest.Index <= lastChangeIndex {
		return
	}

	t.mu.Lock()
	if s.lastChangeIndex < newest.Index {
		s.lastChangeIndex = newest.Index
	}
	subs := t.subscribers
	t.mu.Unlock()

	for _, sub := range subs {
		sub.OnAnomaly(t.metricID, dim, series[newest.Index], bucketEndNanos)
	}
}
