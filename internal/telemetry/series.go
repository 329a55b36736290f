package telemetry

import (
	"math"
	"time"
)

// DefaultHistorySize is the default number of points a Series retains.
const DefaultHistorySize = 10

// Point is one timestamped value.
type Point struct {
	At    time.Time
	Value float64
}

// Series is a fixed-capacity sliding window of points backed by a ring
// buffer. The oldest point is evicted once the window is full. Series is
// not safe for concurrent use; the owning Session serializes access.
type Series struct {
	data  []Point
	head  int
	count int
	size  int
}

// NewSeries creates a series holding at most capacity points.
func NewSeries(capacity int) *Series {
	if capacity <= 0 {
		capacity = DefaultHistorySize
	}
	return &Series{
		data: make([]Point, capacity),
		size: capacity,
	}
}

// Push appends a point, evicting the oldest one when full. Non-finite
// values are refused and leave the series unchanged.
func (s *Series) Push(at time.Time, value float64) bool {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return false
	}
	s.data[s.head] = Point{At: at, Value: value}
	s.head = (s.head + 1) % s.size
	if s.count < s.size {
		s.count++
	}
	return true
}

// Values returns the retained points oldest first.
func (s *Series) Values() []Point {
	if s.count == 0 {
		return nil
	}

	out := make([]Point, s.count)
	// head is the next write slot, so the oldest retained point sits count slots behind it
	start := (s.head - s.count + s.size) % s.size
	for i := 0; i < s.count; i++ {
		out[i] = s.data[(start+i)%s.size]
	}
	return out
}

// Floats returns just the values, oldest first.
func (s *Series) Floats() []float64 {
	pts := s.Values()
	if pts == nil {
		return nil
	}
	out := make([]float64, len(pts))
	for i, p := range pts {
		out[i] = p.Value
	}
	return out
}

// Latest returns the newest point.
func (s *Series) Latest() (Point, bool) {
	if s.count == 0 {
		return Point{}, false
	}
	return s.data[(s.head-1+s.size)%s.size], true
}

// Len returns the number of retained points.
func (s *Series) Len() int {
	return s.count
}

// Cap returns the window capacity.
func (s *Series) Cap() int {
	return s.size
}
