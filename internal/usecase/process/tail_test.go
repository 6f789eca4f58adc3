package process

import (
	"fmt"
	"sync"
	"testing"
)

func TestLineTail_Basic(t *testing.T) {
	lt := newLineTail(4)
	lt.Add("stdout", "a")
	lt.Add("stderr", "b")

	got := lt.Last(0)
	if len(got) != 2 {
		t.Fatalf("Last(0) len = %d, want 2", len(got))
	}
	if got[0].Text != "a" || got[1].Stream != "stderr" {
		t.Errorf("Last(0) = %+v", got)
	}
	if lt.Written() != 2 {
		t.Errorf("Written() = %d, want 2", lt.Written())
	}
}

func TestLineTail_Overflow(t *testing.T) {
	lt := newLineTail(3)
	for i := 0; i < 7; i++ {
		lt.Add("stdout", fmt.Sprintf("l%d", i))
	}

	got := lt.Last(0)
	want := []string{"l4", "l5", "l6"}
	if len(got) != len(want) {
		t.Fatalf("len = %d, want %d", len(got), len(want))
	}
	for i, w := range want {
		if got[i].Text != w {
			t.Errorf("got[%d] = %q, want %q", i, got[i].Text, w)
		}
	}
	if lt.Written() != 7 {
		t.Errorf("Written() = %d, want 7", lt.Written())
	}
}

func TestLineTail_LastN(t *testing.T) {
	lt := newLineTail(10)
	for i := 0; i < 5; i++ {
		lt.Add("stdout", fmt.Sprintf("l%d", i))
	}

	tests := []struct {
		n    int
		want []string
	}{
		{2, []string{"l3", "l4"}},
		{5, []string{"l0", "l1", "l2", "l3", "l4"}},
		{50, []string{"l0", "l1", "l2", "l3", "l4"}},
		{-1, []string{"l0", "l1", "l2", "l3", "l4"}},
	}
	for _, tt := range tests {
		got := lt.Last(tt.n)
		if len(got) != len(tt.want) {
			t.Errorf("Last(%d) len = %d, want %d", tt.n, len(got), len(tt.want))
			continue
		}
		for i, w := range tt.want {
			if got[i].Text != w {
				t.Errorf("Last(%d)[%d] = %q, want %q", tt.n, i, got[i].Text, w)
			}
		}
	}
}

func TestLineTail_Empty(t *testing.T) {
	lt := newLineTail(0) // clamped to 1
	if got := lt.Last(3); len(got) != 0 {
		t.Errorf("Last on empty tail = %+v", got)
	}
	lt.Add("stdout", "x")
	lt.Add("stdout", "y")
	if got := lt.Last(0); len(got) != 1 || got[0].Text != "y" {
		t.Errorf("Last(0) = %+v, want [y]", got)
	}
}

func TestLineTail_Concurrent(t *testing.T) {
	lt := newLineTail(100)
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				lt.Add("stdout", "line")
				_ = lt.Last(5)
			}
		}()
	}
	wg.Wait()

	if lt.Written() != 1000 {
		t.Errorf("Written() = %d, want 1000", lt.Written())
	}
	if got := len(lt.Last(0)); got != 100 {
		t.Errorf("len(Last(0)) = %d, want 100", got)
	}
}
