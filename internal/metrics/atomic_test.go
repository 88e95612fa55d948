package metrics

import (
	"sync"
	"testing"
)

func TestAtomicMax(t *testing.T) {
	testCases := []struct {
		name     string
		initial  int64
		newVal   int64
		expected int64
	}{
		{"new is larger", 5, 10, 10},
		{"new is smaller", 10, 5, 10},
		{"new is equal", 10, 10, 10},
		{"zero to positive", 0, 1, 1},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			value := tc.initial
			result := AtomicMax(&value, tc.newVal)

			if result != tc.expected {
				t.Errorf("expected %d, got %d", tc.expected, result)
			}
			if value != tc.expected {
				t.Errorf("value expected %d, got %d", tc.expected, value)
			}
		})
	}
}

func TestAtomicMax_Concurrent(t *testing.T) {
	var value int64

	var wg sync.WaitGroup
	maxValue := int64(1000)

	for i := int64(0); i < maxValue; i++ {
		wg.Add(1)
		go func(v int64) {
			defer wg.Done()
			AtomicMax(&value, v)
		}(i)
	}
	wg.Wait()

	if value != maxValue-1 {
		t.Errorf("expected %d, got %d", maxValue-1, value)
	}
}

func TestUCounter(t *testing.T) {
	var c UCounter

	if v := c.Inc(); v != 1 {
		t.Errorf("expected 1, got %d", v)
	}
	c.Inc()
	if v := c.Load(); v != 2 {
		t.Errorf("expected 2, got %d", v)
	}
	c.Reset()
	if v := c.Load(); v != 0 {
		t.Errorf("expected 0, got %d", v)
	}
}
