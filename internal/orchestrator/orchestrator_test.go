package orchestrator

import "testing"

func TestNextPoolSizeScalesUpPastLoadThreshold(t *testing.T) {
	scale := ScaleConfig{Min: 2, Max: 8}
	target := nextPoolSize(500, 2, scale)
	if target < 6 {
		t.Fatalf("expected pending=500 workers=2 to grow to >=6, got %d", target)
	}
	if target > scale.Max {
		t.Fatalf("target %d exceeds max %d", target, scale.Max)
	}
}

func TestNextPoolSizeConvergesWithinTwoCycles(t *testing.T) {
	scale := ScaleConfig{Min: 2, Max: 8}
	workers := 2
	for i := 0; i < 2; i++ {
		workers = nextPoolSize(500, workers, scale)
	}
	if workers < 6 {
		t.Fatalf("expected workers >= 6 after two scale cycles, got %d", workers)
	}
}

func TestNextPoolSizeScalesDownBelowLoadThreshold(t *testing.T) {
	scale := ScaleConfig{Min: 2, Max: 20}
	target := nextPoolSize(5, 20, scale)
	if target >= 20 {
		t.Fatalf("expected workers to shrink from 20, got %d", target)
	}
	if target < scale.Min {
		t.Fatalf("target %d below min %d", target, scale.Min)
	}
}

func TestNextPoolSizeNeverBelowMin(t *testing.T) {
	scale := ScaleConfig{Min: 2, Max: 20}
	target := nextPoolSize(0, 3, scale)
	if target < scale.Min {
		t.Fatalf("target %d below min %d", target, scale.Min)
	}
}

func TestNextPoolSizeStaysFlatInMidRange(t *testing.T) {
	scale := ScaleConfig{Min: 2, Max: 20}
	workers := 5
	target := nextPoolSize(100, workers, scale) // load = 20, between 10 and 50
	if target != workers {
		t.Fatalf("expected no change at load=20, got %d (was %d)", target, workers)
	}
}

func TestNextPoolSizeRespectsMaxWhenAlreadySaturated(t *testing.T) {
	scale := ScaleConfig{Min: 2, Max: 4}
	target := nextPoolSize(10000, 4, scale)
	if target != 4 {
		t.Fatalf("expected pool capped at max=4, got %d", target)
	}
}

func TestScaleConfigNormalizedAppliesDefaults(t *testing.T) {
	c := ScaleConfig{}.normalized()
	if c.Min != 2 || c.Max != 20 {
		t.Fatalf("expected defaults 2/20, got %d/%d", c.Min, c.Max)
	}
	c = ScaleConfig{Min: 5, Max: 3}.normalized()
	if c.Max < c.Min {
		t.Fatalf("normalized Max %d must be >= Min %d", c.Max, c.Min)
	}
}
