// Package cachetest provides a contract suite shared by cache.Cache
// implementations.
package cachetest

import (
	"context"
	"testing"
	"time"

	"github.com/matross-gh/platform-engineering-copilot/internal/port/cache"
)

const planJSON = `{"primary_intent":"compliance"}`

// RunContractTests runs the shared contract suite against any Cache implementation.
func RunContractTests(t *testing.T, c cache.Cache) {
	t.Helper()
	ctx := context.Background()

	t.Run("SetAndGet", func(t *testing.T) {
		if err := c.Set(ctx, "plan:fresh:scan my subscription", []byte(planJSON), time.Minute); err != nil {
			t.Fatal(err)
		}
		val, found, err := c.Get(ctx, "plan:fresh:scan my subscription")
		if err != nil {
			t.Fatal(err)
		}
		if !found {
			t.Fatal("expected found after Set")
		}
		if string(val) != planJSON {
			t.Fatalf("expected %s, got %s", planJSON, val)
		}
	})

	t.Run("GetMiss", func(t *testing.T) {
		_, found, err := c.Get(ctx, "nonexistent-key")
		if err != nil {
			t.Fatal(err)
		}
		if found {
			t.Fatal("expected miss for nonexistent key")
		}
	})

	t.Run("Delete", func(t *testing.T) {
		_ = c.Set(ctx, "plan:fresh:estimate cost", []byte("{}"), time.Minute)
		if err := c.Delete(ctx, "plan:fresh:estimate cost"); err != nil {
			t.Fatal(err)
		}
		_, found, err := c.Get(ctx, "plan:fresh:estimate cost")
		if err != nil {
			t.Fatal(err)
		}
		if found {
			t.Fatal("expected miss after Delete")
		}
	})

	t.Run("DeleteNonexistent", func(t *testing.T) {
		if err := c.Delete(ctx, "never-existed"); err != nil {
			t.Fatal("Delete of nonexistent key should not error")
		}
	})

	t.Run("Overwrite", func(t *testing.T) {
		_ = c.Set(ctx, "plan:continuation:yes", []byte("v1"), time.Minute)
		_ = c.Set(ctx, "plan:continuation:yes", []byte("v2"), time.Minute)
		val, found, err := c.Get(ctx, "plan:continuation:yes")
		if err != nil {
			t.Fatal(err)
		}
		if !found {
			t.Fatal("expected found after overwrite")
		}
		if string(val) != "v2" {
			t.Fatalf("expected v2 after overwrite, got %s", val)
		}
	})
}
