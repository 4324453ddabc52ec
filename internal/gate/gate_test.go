package gate

import (
	"reflect"
	"testing"
)

func TestGate_QueuesUntilThreshold(t *testing.T) {
	g := New(2)

	var ran []int
	for i := 0; i < 3; i++ {
		i := i
		g.Call(func() { ran = append(ran, i) })
	}
	if len(ran) != 0 {
		t.Fatalf("ran %v before gate opened", ran)
	}
	if g.Pending() != 3 {
		t.Fatalf("Pending = %d, want 3", g.Pending())
	}

	g.Admit(1)
	if len(ran) != 0 {
		t.Fatalf("ran %v below threshold", ran)
	}

	g.Admit(1)
	if !reflect.DeepEqual(ran, []int{0, 1, 2}) {
		t.Fatalf("drain order = %v, want [0 1 2]", ran)
	}
	if g.Pending() != 0 {
		t.Errorf("Pending after drain = %d", g.Pending())
	}

	g.Call(func() { ran = append(ran, 3) })
	if len(ran) != 4 {
		t.Errorf("open gate did not run immediately: %v", ran)
	}
}

func TestGate_Clamp(t *testing.T) {
	g := New(2)

	if got := g.Admit(-5); got != 0 {
		t.Errorf("Admit(-5) = %d, want 0", got)
	}
	if got := g.Admit(2); got != 2 {
		t.Errorf("Admit(2) = %d, want 2", got)
	}
	if got := g.Admit(1); got != 2 {
		t.Errorf("Admit(1) at threshold = %d, want 2", got)
	}
	if got := g.Admit(-1); got != 1 {
		t.Errorf("Admit(-1) = %d, want 1", got)
	}
}

func TestGate_ReclosesForNewCalls(t *testing.T) {
	g := New(2)
	g.Admit(2)

	count := 0
	g.Call(func() { count++ })
	if count != 1 {
		t.Fatalf("count = %d, want 1", count)
	}

	// page hidden after handshake
	g.Admit(-1)
	g.Call(func() { count++ })
	if count != 1 {
		t.Fatalf("call ran while gate closed")
	}

	g.Admit(1)
	if count != 2 {
		t.Fatalf("count after reopen = %d, want 2", count)
	}
}

func TestGate_DrainsExactlyOnce(t *testing.T) {
	g := New(2)
	runs := 0
	g.Call(func() { runs++ })

	g.Admit(2)
	g.Admit(1)
	g.Admit(-1)
	g.Admit(1)

	if runs != 1 {
		t.Errorf("operation ran %d times, want 1", runs)
	}
}

type recordingObserver struct {
	counts []int
	queued []int
}

func (r *recordingObserver) GateChanged(count, threshold, queued int) {
	r.counts = append(r.counts, count)
	r.queued = append(r.queued, queued)
}

func TestGate_Observer(t *testing.T) {
	g := New(2)
	obs := &recordingObserver{}
	g.SetObserver(obs)

	g.Call(func() {})
	g.Admit(2)

	if !reflect.DeepEqual(obs.counts, []int{0, 2}) {
		t.Errorf("observed counts = %v", obs.counts)
	}
	if !reflect.DeepEqual(obs.queued, []int{1, 0}) {
		t.Errorf("observed queue depths = %v", obs.queued)
	}
}
