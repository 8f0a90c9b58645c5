package snowflake

import (
	"testing"
	"time"
)

func TestGenerateIsMonotonic(t *testing.T) {
	node, err := NewNode(1)
	if err != nil {
		t.Fatal(err)
	}

	prev := node.Generate()
	for i := 0; i < 10000; i++ {
		id := node.Generate()
		if id <= prev {
			t.Fatalf("id %d not greater than previous %d", id, prev)
		}
		prev = id
	}
}

func TestTimeRoundTrip(t *testing.T) {
	node, _ := NewNode(3)
	before := time.Now().Truncate(time.Millisecond)
	id := node.Generate()
	after := time.Now()

	got := Time(id)
	if got.Before(before) || got.After(after) {
		t.Fatalf("Time(%d) = %v, want within [%v, %v]", id, got, before, after)
	}
}

func TestNodeRange(t *testing.T) {
	if _, err := NewNode(-1); err == nil {
		t.Fatal("expected error for negative node")
	}
	if _, err := NewNode(1024); err == nil {
		t.Fatal("expected error for node > 1023")
	}
}
