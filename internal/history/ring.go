package history

// Ring is a fixed-depth usage series. Once full, appending drops the oldest
// sample. Series returns oldest-first, which is the order forecasters
// expect.
type Ring struct {
	depth  int
	values []float64
	start  int
}

func NewRing(depth int) *Ring {
	if depth <= 0 {
		depth = 1
	}
	return &Ring{depth: depth}
}

func (r *Ring) Append(value float64) {
	if len(r.values) < r.depth {
		r.values = append(r.values, value)
		return
	}
	r.values[r.start] = value
	r.start = (r.start + 1) % r.depth
}

func (r *Ring) Len() int {
	return len(r.values)
}

func (r *Ring) Last() float64 {
	if len(r.values) == 0 {
		return 0
	}
	return r.values[(r.start+len(r.values)-1)%len(r.values)]
}

// Series returns the samples oldest-first as a fresh slice.
func (r *Ring) Series() []float64 {
	out := make([]float64, 0, len(r.values))
	for i := 0; i < len(r.values); i++ {
		out = append(out, r.values[(r.start+i)%len(r.values)])
	}
	return out
}
