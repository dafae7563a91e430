package useragent

import (
	"strings"
	"sync"
	"testing"
)

func TestPool_Next(t *testing.T) {
	p := NewPool([]string{"A", "B", "C"})

	for _, want := range []string{"A", "B", "C", "A"} {
		if got := p.Next(); got != want {
			t.Errorf("expected %s, got %s", want, got)
		}
	}
}

func TestPool_DefaultsToMobile(t *testing.T) {
	p := NewPool(nil)
	if len(p.All()) != len(Mobile) {
		t.Errorf("expected pool length %d, got %d", len(Mobile), len(p.All()))
	}
	if got := p.Next(); !strings.Contains(got, "Mobile") {
		t.Errorf("expected a mobile User-Agent, got %s", got)
	}
}

func TestPool_Random(t *testing.T) {
	p := NewPool([]string{"A", "B"})

	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		got := p.Random()
		if got != "A" && got != "B" {
			t.Fatalf("unexpected UA: %s", got)
		}
		seen[got] = true
	}
	if !seen["A"] || !seen["B"] {
		t.Errorf("expected to see both A and B, got %v", seen)
	}
}

func TestPool_CopiesInput(t *testing.T) {
	in := []string{"A"}
	p := NewPool(in)
	in[0] = "mutated"

	if got := p.Next(); got != "A" {
		t.Errorf("pool should not observe caller mutation, got %s", got)
	}

	all := p.All()
	all[0] = "mutated"
	if got := p.Next(); got != "A" {
		t.Errorf("All should return a copy, got %s", got)
	}
}

func TestPool_ConcurrentNext(t *testing.T) {
	p := NewPool([]string{"A", "B"})

	var wg sync.WaitGroup
	var mu sync.Mutex
	counts := map[string]int{}
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ua := p.Next()
			mu.Lock()
			counts[ua]++
			mu.Unlock()
		}()
	}
	wg.Wait()

	if counts["A"] != 25 || counts["B"] != 25 {
		t.Errorf("expected even round-robin split, got %v", counts)
	}
}

func TestForPlatform(t *testing.T) {
	if uas, err := ForPlatform(PlatformDesktop); err != nil || len(uas) != len(Desktop) {
		t.Errorf("expected desktop set, got %v (%v)", uas, err)
	}
	if uas, err := ForPlatform(""); err != nil || len(uas) != len(Mobile) {
		t.Errorf("expected mobile default, got %v (%v)", uas, err)
	}
	if _, err := ForPlatform("watch"); err == nil {
		t.Errorf("expected error for unknown platform")
	}
}
