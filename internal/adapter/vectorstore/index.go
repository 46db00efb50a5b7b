package vectorstore

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"sort"
)

// Metric selects how the index ranks vectors.
type Metric string

const (
	// MetricL2 ranks by squared Euclidean distance, smaller is closer.
	MetricL2 Metric = "l2"
	// MetricIP ranks by inner product, larger is closer.
	MetricIP Metric = "ip"
)

var (
	ErrDimensionMismatch = errors.New("vector dimension mismatch")
	ErrUnknownMetric     = errors.New("unknown metric")
	ErrCorruptSnapshot   = errors.New("corrupt vector snapshot")
)

// ParseMetric parses a metric name; "" means l2.
func ParseMetric(name string) (Metric, error) {
	switch Metric(name) {
	case MetricL2, "":
		return MetricL2, nil
	case MetricIP:
		return MetricIP, nil
	}
	return "", fmt.Errorf("%w: %s", ErrUnknownMetric, name)
}

// Score converts a distance in this metric into a higher-is-better score.
func (m Metric) Score(distance float64) float64 {
	if m == MetricIP {
		return distance
	}
	return 1 / (1 + distance)
}

func (m Metric) better(a, b float64) bool {
	if m == MetricIP {
		return a > b
	}
	return a < b
}

// Neighbor is a search hit: the vector's position and its distance.
type Neighbor struct {
	Pos      int
	Distance float64
}

// FlatIndex stores vectors row-major and searches them exhaustively.
// Positions are dense: removing a row shifts every later row down by one.
type FlatIndex struct {
	metric Metric
	dim    int
	data   []float32
}

// NewFlatIndex creates an empty index of fixed dimension.
func NewFlatIndex(metric Metric, dim int) (*FlatIndex, error) {
	if _, err := ParseMetric(string(metric)); err != nil {
		return nil, err
	}
	if dim <= 0 {
		return nil, fmt.Errorf("invalid index dimension: %d", dim)
	}
	return &FlatIndex{metric: metric, dim: dim}, nil
}

func (x *FlatIndex) Metric() Metric { return x.metric }

func (x *FlatIndex) Dimension() int { return x.dim }

// NTotal returns the number of vectors in the index.
func (x *FlatIndex) NTotal() int {
	return len(x.data) / x.dim
}

// Add appends a vector at position NTotal().
func (x *FlatIndex) Add(vec []float32) error {
	if len(vec) != x.dim {
		return fmt.Errorf("%w: expected %d, got %d", ErrDimensionMismatch, x.dim, len(vec))
	}
	x.data = append(x.data, vec...)
	return nil
}

// Set overwrites the vector at pos.
func (x *FlatIndex) Set(pos int, vec []float32) error {
	if len(vec) != x.dim {
		return fmt.Errorf("%w: expected %d, got %d", ErrDimensionMismatch, x.dim, len(vec))
	}
	if pos < 0 || pos >= x.NTotal() {
		return fmt.Errorf("index position out of range: %d", pos)
	}
	copy(x.data[pos*x.dim:(pos+1)*x.dim], vec)
	return nil
}

// RemoveAt deletes the vector at pos.
func (x *FlatIndex) RemoveAt(pos int) error {
	if pos < 0 || pos >= x.NTotal() {
		return fmt.Errorf("index position out of range: %d", pos)
	}
	x.data = append(x.data[:pos*x.dim], x.data[(pos+1)*x.dim:]...)
	return nil
}

// Vector returns a copy of the vector at pos.
func (x *FlatIndex) Vector(pos int) []float32 {
	out := make([]float32, x.dim)
	copy(out, x.data[pos*x.dim:(pos+1)*x.dim])
	return out
}

// Search returns up to k nearest positions, best first. Ties keep
// insertion order.
func (x *FlatIndex) Search(query []float32, k int) ([]Neighbor, error) {
	if len(query) != x.dim {
		return nil, fmt.Errorf("%w: expected %d, got %d", ErrDimensionMismatch, x.dim, len(query))
	}
	n := x.NTotal()
	if n == 0 {
		return nil, nil
	}
	if k <= 0 || k > n {
		k = n
	}

	hits := make([]Neighbor, n)
	for pos := 0; pos < n; pos++ {
		hits[pos] = Neighbor{Pos: pos, Distance: x.distance(query, x.data[pos*x.dim:(pos+1)*x.dim])}
	}
	sort.SliceStable(hits, func(i, j int) bool {
		return x.metric.better(hits[i].Distance, hits[j].Distance)
	})

	return hits[:k], nil
}

func (x *FlatIndex) distance(a, b []float32) float64 {
	var sum float64
	if x.metric == MetricIP {
		for i := range a {
			sum += float64(a[i]) * float64(b[i])
		}
		return sum
	}
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return sum
}

// MarshalBinary stores: metricLen(uint32), metric, dim(uint32), n(uint32),
// then n*dim little-endian float32.
func (x *FlatIndex) MarshalBinary() ([]byte, error) {
	var buf bytes.Buffer
	writeString(&buf, string(x.metric))
	binary.Write(&buf, binary.LittleEndian, uint32(x.dim))
	binary.Write(&buf, binary.LittleEndian, uint32(x.NTotal()))
	if err := binary.Write(&buf, binary.LittleEndian, x.data); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// UnmarshalBinary restores the index from bytes.
func (x *FlatIndex) UnmarshalBinary(data []byte) error {
	r := bytes.NewReader(data)
	metric, err := readString(r)
	if err != nil {
		return fmt.Errorf("%w: metric: %v", ErrCorruptSnapshot, err)
	}
	var dim, n uint32
	if err := binary.Read(r, binary.LittleEndian, &dim); err != nil {
		return fmt.Errorf("%w: dimension: %v", ErrCorruptSnapshot, err)
	}
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return fmt.Errorf("%w: count: %v", ErrCorruptSnapshot, err)
	}
	if dim == 0 || uint64(r.Len()) != uint64(n)*uint64(dim)*4 {
		return fmt.Errorf("%w: expected %d vectors of dim %d, have %d bytes", ErrCorruptSnapshot, n, dim, r.Len())
	}
	m, err := ParseMetric(metric)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCorruptSnapshot, err)
	}
	vals := make([]float32, int(n)*int(dim))
	if err := binary.Read(r, binary.LittleEndian, vals); err != nil {
		return fmt.Errorf("%w: vectors: %v", ErrCorruptSnapshot, err)
	}
	x.metric, x.dim, x.data = m, int(dim), vals
	return nil
}

func writeString(buf *bytes.Buffer, s string) {
	binary.Write(buf, binary.LittleEndian, uint32(len(s)))
	buf.WriteString(s)
}

func readString(r *bytes.Reader) (string, error) {
	var n uint32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return "", err
	}
	if int64(n) > int64(r.Len()) {
		return "", fmt.Errorf("string length %d exceeds remaining %d bytes", n, r.Len())
	}
	b := make([]byte, n)
	if _, err := r.Read(b); err != nil && n > 0 {
		return "", err
	}
	return string(b), nil
}
