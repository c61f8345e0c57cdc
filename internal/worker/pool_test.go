package worker_test

import (
	"context"
	"fmt"
	"hash/fnv"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/dejobratic/ordersaga/internal/worker"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestPoolSerializesPerKey(t *testing.T) {
	pool := worker.New(4, 16, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = pool.Run(ctx)
		close(done)
	}()

	var mu sync.Mutex
	seen := make(map[string][]int)
	var wg sync.WaitGroup

	const tasksPerKey = 20
	keys := []string{"order-1", "order-2", "order-3"}

	for _, key := range keys {
		for i := 0; i < tasksPerKey; i++ {
			wg.Add(1)
			key, i := key, i
			err := pool.Submit(ctx, key, func(_ context.Context) error {
				defer wg.Done()
				mu.Lock()
				seen[key] = append(seen[key], i)
				mu.Unlock()
				return nil
			})
			if err != nil {
				t.Fatalf("Submit() error = %v", err)
			}
		}
	}

	waitDone := make(chan struct{})
	go func() {
		wg.Wait()
		close(waitDone)
	}()
	select {
	case <-waitDone:
	case <-time.After(5 * time.Second):
		t.Fatal("tasks did not complete")
	}

	cancel()
	<-done

	// Same-key tasks must have run in submission order.
	for _, key := range keys {
		order := seen[key]
		if len(order) != tasksPerKey {
			t.Fatalf("key %s ran %d tasks, want %d", key, len(order), tasksPerKey)
		}
		for i, got := range order {
			if got != i {
				t.Errorf("key %s task order[%d] = %d, want %d", key, i, got, i)
				break
			}
		}
	}
}

func TestPoolRunsKeysInParallel(t *testing.T) {
	pool := worker.New(2, 4, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = pool.Run(ctx) }()

	// Two keys that hash to different shards of a two-worker pool.
	keyA, keyB := distinctShardKeys(t, 2)

	release := make(chan struct{})
	bRan := make(chan struct{})

	if err := pool.Submit(ctx, keyA, func(_ context.Context) error {
		<-release
		return nil
	}); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if err := pool.Submit(ctx, keyB, func(_ context.Context) error {
		close(bRan)
		return nil
	}); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	// keyB's task completes while keyA's is still blocked.
	select {
	case <-bRan:
	case <-time.After(2 * time.Second):
		t.Fatal("second key was blocked behind an unrelated key")
	}
	close(release)
}

// distinctShardKeys finds two keys that hash to different shards of a pool
// with the given worker count, mirroring the pool's FNV-1a routing.
func distinctShardKeys(t *testing.T, workers uint32) (string, string) {
	t.Helper()

	shardOf := func(key string) uint32 {
		h := fnv.New32a()
		_, _ = h.Write([]byte(key))
		return h.Sum32() % workers
	}

	anchor := "anchor"
	for i := 0; i < 64; i++ {
		candidate := fmt.Sprintf("candidate-%d", i)
		if shardOf(candidate) != shardOf(anchor) {
			return anchor, candidate
		}
	}
	t.Fatal("no key pair on distinct shards found")
	return "", ""
}

func TestPoolSubmitAfterCancel(t *testing.T) {
	pool := worker.New(1, 1, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// Fill the single queue slot so Submit has to wait on the context.
	_ = pool.Submit(context.Background(), "filler", func(_ context.Context) error { return nil })

	err := pool.Submit(ctx, "key", func(_ context.Context) error { return nil })
	if err == nil {
		t.Error("Submit() after cancel = nil, want error")
	}
}
