package history

import (
	"testing"
)

func TestRingAppendBelowDepth(t *testing.T) {
	r := NewRing(4)
	r.Append(1)
	r.Append(2)

	if r.Len() != 2 {
		t.Fatalf("Len = %d, want 2", r.Len())
	}
	if r.Last() != 2 {
		t.Errorf("Last = %v, want 2", r.Last())
	}

	series := r.Series()
	if len(series) != 2 || series[0] != 1 || series[1] != 2 {
		t.Errorf("Series = %v, want [1 2]", series)
	}
}

func TestRingWrapsOldestFirst(t *testing.T) {
	r := NewRing(3)
	for _, v := range []float64{1, 2, 3, 4, 5} {
		r.Append(v)
	}

	if r.Len() != 3 {
		t.Fatalf("Len = %d, want 3", r.Len())
	}
	want := []float64{3, 4, 5}
	series := r.Series()
	for i := range want {
		if series[i] != want[i] {
			t.Fatalf("Series = %v, want %v", series, want)
		}
	}
	if r.Last() != 5 {
		t.Errorf("Last = %v, want 5", r.Last())
	}
}

func TestRingEmpty(t *testing.T) {
	r := NewRing(3)
	if r.Last() != 0 {
		t.Errorf("Last of empty ring = %v, want 0", r.Last())
	}
	if len(r.Series()) != 0 {
		t.Errorf("Series of empty ring = %v, want empty", r.Series())
	}
}

func TestRecorderWithoutSink(t *testing.T) {
	rec := NewRecorder("host-a", 4, nil)
	rec.Record("web", 1.5, 2, 3)
	rec.Record("web", 2.5, 2, 3)

	ring := rec.Ring("web")
	if ring == nil {
		t.Fatal("ring not created on first record")
	}
	if ring.Last() != 2.5 {
		t.Errorf("Last = %v, want 2.5", ring.Last())
	}

	rec.Forget("web")
	if rec.Ring("web") != nil {
		t.Error("ring must be dropped after Forget")
	}
}
