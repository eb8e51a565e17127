package voice

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"testing"
	"time"
)

func seedVoices(ids ...string) map[string][]byte {
	voices := make(map[string][]byte)
	for i, id := range ids {
		voices[id] = bytes.Repeat([]byte{byte(i + 1)}, 128)
	}
	return voices
}

func TestCache_GetHit(t *testing.T) {
	loader := NewMockLoader(seedVoices("a"))
	cache := NewCache(loader, 4)

	data1, err := cache.Get(context.Background(), "a")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}

	data2, err := cache.Get(context.Background(), "a")
	if err != nil {
		t.Fatalf("Second Get failed: %v", err)
	}

	if !bytes.Equal(data1, data2) {
		t.Error("Expected equal embedding data from consecutive gets")
	}

	// Loader must be invoked only once
	if count := loader.LoadCount("a"); count != 1 {
		t.Errorf("Expected 1 load, got %d", count)
	}
}

func TestCache_GetMissNotInserted(t *testing.T) {
	loader := NewMockLoader(nil)
	cache := NewCache(loader, 4)

	_, err := cache.Get(context.Background(), "missing")
	if err == nil {
		t.Fatal("Expected error for unknown voice")
	}

	if cache.Contains("missing") {
		t.Error("Failed load must not insert an entry")
	}

	stats := cache.GetStats()
	if stats.Entries != 0 {
		t.Errorf("Expected 0 entries, got %d", stats.Entries)
	}
	if stats.Misses != 1 {
		t.Errorf("Expected 1 miss, got %d", stats.Misses)
	}
}

func TestCache_LRUEviction(t *testing.T) {
	loader := NewMockLoader(seedVoices("a", "b", "c"))
	cache := NewCache(loader, 2)

	ctx := context.Background()
	if _, err := cache.Get(ctx, "a"); err != nil {
		t.Fatalf("Get a failed: %v", err)
	}
	time.Sleep(2 * time.Millisecond)
	if _, err := cache.Get(ctx, "b"); err != nil {
		t.Fatalf("Get b failed: %v", err)
	}
	time.Sleep(2 * time.Millisecond)

	// Touch a so b becomes least recently accessed
	if _, err := cache.Get(ctx, "a"); err != nil {
		t.Fatalf("Touch a failed: %v", err)
	}
	time.Sleep(2 * time.Millisecond)

	// Inserting c must evict b
	if _, err := cache.Get(ctx, "c"); err != nil {
		t.Fatalf("Get c failed: %v", err)
	}

	if cache.Contains("b") {
		t.Error("Expected b to be evicted")
	}
	if !cache.Contains("a") || !cache.Contains("c") {
		t.Error("Expected a and c to be resident")
	}

	if stats := cache.GetStats(); stats.Evictions != 1 {
		t.Errorf("Expected 1 eviction, got %d", stats.Evictions)
	}
}

func TestCache_PinnedNeverEvicted(t *testing.T) {
	loader := NewMockLoader(seedVoices("A", "B", "C"))
	cache := NewCache(loader, 2)

	ctx := context.Background()
	if err := cache.Preload(ctx, "A"); err != nil {
		t.Fatalf("Preload failed: %v", err)
	}
	time.Sleep(2 * time.Millisecond)

	if _, err := cache.Get(ctx, "B"); err != nil {
		t.Fatalf("Get B failed: %v", err)
	}
	time.Sleep(2 * time.Millisecond)

	// C's insert must evict B, not the pinned A
	if _, err := cache.Get(ctx, "C"); err != nil {
		t.Fatalf("Get C failed: %v", err)
	}

	if !cache.Contains("A") {
		t.Error("Pinned A must never be evicted")
	}
	if cache.Contains("B") {
		t.Error("Expected unpinned B to be evicted")
	}
	if !cache.Contains("C") {
		t.Error("Expected C to be resident")
	}
}

func TestCache_PreloadThenGetSkipsLoader(t *testing.T) {
	loader := NewMockLoader(seedVoices("a"))
	cache := NewCache(loader, 4)

	ctx := context.Background()
	if err := cache.Preload(ctx, "a"); err != nil {
		t.Fatalf("Preload failed: %v", err)
	}

	if _, err := cache.Get(ctx, "a"); err != nil {
		t.Fatalf("Get failed: %v", err)
	}

	if count := loader.LoadCount("a"); count != 1 {
		t.Errorf("Expected 1 load after preload+get, got %d", count)
	}
}

func TestCache_GraceWindowWhenAllPinned(t *testing.T) {
	loader := NewMockLoader(seedVoices("p1", "p2", "p3", "p4", "x"))
	cache := NewCache(loader, 2)

	ctx := context.Background()
	// Fill past capacity with pinned entries: grace window allows up to 2x
	for _, v := range []string{"p1", "p2", "p3", "p4"} {
		if err := cache.Preload(ctx, v); err != nil {
			t.Fatalf("Preload %s failed: %v", v, err)
		}
	}

	if stats := cache.GetStats(); stats.Entries != 4 {
		t.Fatalf("Expected 4 entries in grace window, got %d", stats.Entries)
	}

	// At the grace limit with everything pinned, new inserts are refused
	if _, err := cache.Get(ctx, "x"); err == nil {
		t.Error("Expected insert refusal at grace limit")
	}
	if cache.Contains("x") {
		t.Error("Refused insert must not be resident")
	}
}

func TestCache_Invalidate(t *testing.T) {
	loader := NewMockLoader(seedVoices("a"))
	cache := NewCache(loader, 4)

	ctx := context.Background()
	if err := cache.Preload(ctx, "a"); err != nil {
		t.Fatalf("Preload failed: %v", err)
	}

	// Invalidate removes even pinned entries
	if !cache.Invalidate("a") {
		t.Error("Expected Invalidate to remove the entry")
	}
	if cache.Contains("a") {
		t.Error("Expected a to be gone after Invalidate")
	}

	if cache.Invalidate("a") {
		t.Error("Expected second Invalidate to return false")
	}

	// A fresh get reloads
	if _, err := cache.Get(ctx, "a"); err != nil {
		t.Fatalf("Get after Invalidate failed: %v", err)
	}
	if count := loader.LoadCount("a"); count != 2 {
		t.Errorf("Expected 2 loads after invalidation, got %d", count)
	}
}

func TestCache_ConcurrentGetsSingleLoad(t *testing.T) {
	loader := NewMockLoader(nil)
	loadStarted := make(chan struct{})
	release := make(chan struct{})
	loader.LoadFunc = func(ctx context.Context, voiceID string) ([]byte, Metadata, error) {
		close(loadStarted)
		<-release
		return make([]byte, 64), Metadata{SizeBytes: 64}, nil
	}

	cache := NewCache(loader, 4)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make([]error, 2)

	wg.Add(1)
	go func() {
		defer wg.Done()
		_, errs[0] = cache.Get(ctx, "slow")
	}()

	<-loadStarted

	wg.Add(1)
	go func() {
		defer wg.Done()
		_, errs[1] = cache.Get(ctx, "slow")
	}()

	// Give the second goroutine time to park on the in-flight load
	time.Sleep(10 * time.Millisecond)
	close(release)
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Errorf("Get %d failed: %v", i, err)
		}
	}
	if count := loader.LoadCount("slow"); count != 1 {
		t.Errorf("Expected coalesced single load, got %d", count)
	}
}

func TestCache_SlowLoadDoesNotBlockOtherKeys(t *testing.T) {
	loader := NewMockLoader(nil)
	release := make(chan struct{})
	loader.LoadFunc = func(ctx context.Context, voiceID string) ([]byte, Metadata, error) {
		if voiceID == "slow" {
			<-release
		}
		return make([]byte, 64), Metadata{SizeBytes: 64}, nil
	}

	cache := NewCache(loader, 4)
	ctx := context.Background()

	go cache.Get(ctx, "slow")
	time.Sleep(5 * time.Millisecond)

	// An unrelated get must complete while "slow" is still loading
	done := make(chan error, 1)
	go func() {
		_, err := cache.Get(ctx, "fast")
		done <- err
	}()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Get fast failed: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Unrelated get blocked behind a slow load")
	}

	close(release)
}

func TestCache_StatsAccounting(t *testing.T) {
	loader := NewMockLoader(seedVoices("a", "b"))
	cache := NewCache(loader, 4)

	ctx := context.Background()
	cache.Get(ctx, "a")
	cache.Get(ctx, "a")
	cache.Get(ctx, "b")
	cache.Get(ctx, "nope")

	stats := cache.GetStats()
	if stats.Entries != 2 {
		t.Errorf("Expected 2 entries, got %d", stats.Entries)
	}
	if stats.Hits != 1 {
		t.Errorf("Expected 1 hit, got %d", stats.Hits)
	}
	if stats.Misses != 3 {
		t.Errorf("Expected 3 misses, got %d", stats.Misses)
	}
	if stats.TotalBytes != 256 {
		t.Errorf("Expected 256 total bytes, got %d", stats.TotalBytes)
	}
	if stats.HitRatio <= 0.24 || stats.HitRatio >= 0.26 {
		t.Errorf("Expected hit ratio 0.25, got %f", stats.HitRatio)
	}
}

func TestCache_ConcurrentMixedAccess(t *testing.T) {
	loader := NewMockLoader(nil)
	loader.AllowAll = true
	cache := NewCache(loader, 8)

	ctx := context.Background()
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			voice := fmt.Sprintf("v%d", n%12)
			for j := 0; j < 20; j++ {
				switch j % 5 {
				case 3:
					cache.Invalidate(voice)
				case 4:
					cache.GetStats()
				default:
					cache.Get(ctx, voice)
				}
			}
		}(i)
	}
	wg.Wait()

	stats := cache.GetStats()
	if stats.Entries > 16 {
		t.Errorf("Cache exceeded grace limit: %d entries", stats.Entries)
	}
	if stats.Entries < 0 || stats.TotalBytes < 0 {
		t.Errorf("Inconsistent accounting: entries=%d bytes=%d", stats.Entries, stats.TotalBytes)
	}
}
