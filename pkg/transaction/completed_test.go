package transaction

import (
	"testing"

	"github.com/UnicycleUnicorn/MessagingPlatform/pkg/protocol"
)

func testID(n int) protocol.MessageID {
	return protocol.MessageID{byte(n >> 16), byte(n >> 8), byte(n)}
}

func TestCompletedEvictsOldestInserted(t *testing.T) {
	const capacity = 4

	c, err := NewCompleted(capacity)
	if err != nil {
		t.Fatalf("NewCompleted() error = %v", err)
	}

	for i := 0; i < capacity; i++ {
		c.Add(testID(i))
	}

	// Lookups and re-adds must not refresh the oldest entry
	if !c.Contains(testID(0)) {
		t.Fatal("Contains(0) = false before eviction")
	}
	c.Add(testID(0))

	c.Add(testID(capacity))

	if c.Contains(testID(0)) {
		t.Error("oldest id survived eviction")
	}
	for i := 1; i <= capacity; i++ {
		if !c.Contains(testID(i)) {
			t.Errorf("Contains(%d) = false, want true", i)
		}
	}
	if c.Len() != capacity {
		t.Errorf("Len() = %d, want %d", c.Len(), capacity)
	}
}

func TestCompletedContainsOrAdd(t *testing.T) {
	c, _ := NewCompleted(8)

	if c.ContainsOrAdd(testID(1)) {
		t.Error("ContainsOrAdd() = true for a new id")
	}
	if !c.ContainsOrAdd(testID(1)) {
		t.Error("ContainsOrAdd() = false for a present id")
	}
	if c.Len() != 1 {
		t.Errorf("Len() = %d, want 1", c.Len())
	}
}

func TestNewCompletedInvalidSize(t *testing.T) {
	if _, err := NewCompleted(0); err == nil {
		t.Error("NewCompleted(0) error = nil")
	}
}
