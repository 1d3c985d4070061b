package cache

import (
	"context"
	"testing"
	"time"
)

func TestCache_SetGet(t *testing.T) {
	ctx := context.Background()
	c := New[string, int](time.Minute)
	defer c.Close()

	c.Set(ctx, "a", 42, time.Minute)

	got, ok := c.Get(ctx, "a")
	if !ok {
		t.Fatal("expected hit for key a")
	}
	if got != 42 {
		t.Errorf("Get = %d, want 42", got)
	}

	if _, ok := c.Get(ctx, "missing"); ok {
		t.Error("expected miss for absent key")
	}
}

func TestCache_Expiry(t *testing.T) {
	ctx := context.Background()
	c := New[string, string](time.Minute)
	defer c.Close()

	c.Set(ctx, "k", "v", 10*time.Millisecond)
	time.Sleep(25 * time.Millisecond)

	if _, ok := c.Get(ctx, "k"); ok {
		t.Error("expected entry to expire")
	}
}

func TestCache_Overwrite(t *testing.T) {
	ctx := context.Background()
	c := New[string, int](time.Minute)
	defer c.Close()

	c.Set(ctx, "k", 1, time.Minute)
	c.Set(ctx, "k", 2, time.Minute)

	got, _ := c.Get(ctx, "k")
	if got != 2 {
		t.Errorf("Get = %d, want 2 after overwrite", got)
	}
}

func TestCache_Delete(t *testing.T) {
	ctx := context.Background()
	c := New[string, int](time.Minute)
	defer c.Close()

	c.Set(ctx, "k", 1, time.Minute)
	c.Delete(ctx, "k")

	if _, ok := c.Get(ctx, "k"); ok {
		t.Error("expected miss after delete")
	}
}

func TestCache_JanitorReapsExpired(t *testing.T) {
	ctx := context.Background()
	c := New[string, int](10 * time.Millisecond)
	defer c.Close()

	c.Set(ctx, "short", 1, time.Millisecond)
	c.Set(ctx, "long", 2, time.Minute)

	deadline := time.Now().Add(time.Second)
	for c.Len() > 1 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	if n := c.Len(); n != 1 {
		t.Errorf("Len = %d after janitor sweep, want 1", n)
	}
}
