package controller

import (
	"context"
	"testing"

	"github.com/linkward/linkward/pkg/logx"
)

func testController() *Controller {
	return &Controller{
		logger:     logx.NewLogger("error", "controller-test"),
		useMwan3:   true,
		dryRun:     true,
		members:    map[string]string{"sat0": "member1", "cell0": "member2"},
		priorities: map[string]int{"sat0": 1},
	}
}

func TestApplyPriority(t *testing.T) {
	ctx := context.Background()

	t.Run("applies a changed priority", func(t *testing.T) {
		c := testController()
		applied, err := c.ApplyPriority(ctx, "sat0", 20)
		if err != nil {
			t.Fatalf("ApplyPriority failed: %v", err)
		}
		if !applied {
			t.Error("Expected priority change to be applied")
		}
		if p, _ := c.CurrentPriority("sat0"); p != 20 {
			t.Errorf("Expected cached priority 20, got %d", p)
		}
	})

	t.Run("no-op when priority already matches", func(t *testing.T) {
		c := testController()
		applied, err := c.ApplyPriority(ctx, "sat0", 1)
		if err != nil {
			t.Fatalf("ApplyPriority failed: %v", err)
		}
		if applied {
			t.Error("Expected idempotent no-op for unchanged priority")
		}
	})

	t.Run("repeated apply is idempotent", func(t *testing.T) {
		c := testController()
		if applied, _ := c.ApplyPriority(ctx, "cell0", 20); !applied {
			t.Fatal("First apply should change the priority")
		}
		if applied, _ := c.ApplyPriority(ctx, "cell0", 20); applied {
			t.Error("Second apply of the same priority must be a no-op")
		}
	})

	t.Run("unknown interface is an error", func(t *testing.T) {
		c := testController()
		if _, err := c.ApplyPriority(ctx, "wifi9", 20); err == nil {
			t.Error("Expected error for unknown interface")
		}
	})

	t.Run("unknown priority before first apply", func(t *testing.T) {
		c := testController()
		if _, ok := c.CurrentPriority("cell0"); ok {
			t.Error("Expected no cached priority before first apply")
		}
	})
}
