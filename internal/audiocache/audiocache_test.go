package audiocache

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestLookupAfterStore(t *testing.T) {
	c := New(NewMemory())
	key := Key("hello world", "en-US", "voice-1", "audio/mpeg")

	if _, ok := c.Lookup(context.Background(), key); ok {
		t.Fatal("expected miss before store")
	}

	c.Store(key, Object{Bytes: []byte("audio-bytes"), MediaType: "audio/mpeg"})

	// Write-behind: poll until visible, bounded to avoid a flaky sleep.
	deadlineCh := make(chan struct{})
	var got Object
	var ok bool
	go func() {
		for i := 0; i < 10000; i++ {
			got, ok = c.Lookup(context.Background(), key)
			if ok {
				break
			}
			time.Sleep(time.Millisecond)
		}
		close(deadlineCh)
	}()
	<-deadlineCh

	if !ok {
		t.Fatal("expected hit after write-behind store completed")
	}
	if string(got.Bytes) != "audio-bytes" || got.MediaType != "audio/mpeg" {
		t.Fatalf("got %+v", got)
	}
}

func TestKey_Deterministic(t *testing.T) {
	k1 := Key("text", "en-US", "voice-1", "audio/mpeg")
	k2 := Key("text", "en-US", "voice-1", "audio/mpeg")
	if k1 != k2 {
		t.Fatalf("keys differ: %q vs %q", k1, k2)
	}
	if k1 == Key("other", "en-US", "voice-1", "audio/mpeg") {
		t.Fatal("keys should differ for different text")
	}
}

func TestKey_HasExpectedShape(t *testing.T) {
	k := Key("text", "en-US", "voice-1", "audio/mpeg")
	if got := k[:len("en-US/voice-1/")]; got != "en-US/voice-1/" {
		t.Fatalf("key prefix = %q", got)
	}
}

func TestStore_ConcurrentIdempotent(t *testing.T) {
	c := New(NewMemory())
	key := Key("t", "en-US", "v", "audio/mpeg")
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Store(key, Object{Bytes: []byte("x"), MediaType: "audio/mpeg"})
		}()
	}
	wg.Wait()
}

type errStore struct{}

func (errStore) Get(context.Context, string) (Object, bool, error) {
	return Object{}, false, errors.New("boom")
}
func (errStore) Put(context.Context, string, Object) error {
	return errors.New("boom")
}

func TestLookup_BackingErrorIsMiss(t *testing.T) {
	c := New(errStore{})
	if _, ok := c.Lookup(context.Background(), "k"); ok {
		t.Fatal("expected miss on backing-store error")
	}
}
