package cache

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/open-dqm/open-dqm/internal/scoring"
	"github.com/open-dqm/open-dqm/internal/store"
)

type fakeSource struct {
	calls  int
	scores scoring.ScoreSet
}

func (f *fakeSource) Score(context.Context, string) (scoring.ScoreSet, error) {
	f.calls++
	return f.scores, nil
}

func TestScoreNilClientPassesThrough(t *testing.T) {
	src := &fakeSource{scores: scoring.ScoreSet{
		Dimensions: map[string]float64{store.DimCompleteness: 90},
		Overall:    90,
	}}
	c := NewScoreCache(nil, src, time.Minute, nil)

	got, err := c.Score(context.Background(), "asset-1")
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	if got.Overall != 90 || src.calls != 1 {
		t.Fatalf("got %+v after %d calls", got, src.calls)
	}

	// No caching without a client: every read recomputes.
	if _, err := c.Score(context.Background(), "asset-1"); err != nil {
		t.Fatalf("Score: %v", err)
	}
	if src.calls != 2 {
		t.Fatalf("calls = %d, want 2", src.calls)
	}
}

func TestScoreUnreachableRedisFallsBack(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer client.Close()

	src := &fakeSource{scores: scoring.ScoreSet{Overall: 75}}
	c := NewScoreCache(client, src, time.Minute, nil)

	got, err := c.Score(context.Background(), "asset-1")
	if err != nil {
		t.Fatalf("cache trouble surfaced as error: %v", err)
	}
	if got.Overall != 75 || src.calls != 1 {
		t.Fatalf("fallback did not reach source: %+v, calls=%d", got, src.calls)
	}
}

func TestInvalidateUnreachableRedisIsQuiet(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer client.Close()

	c := NewScoreCache(client, &fakeSource{}, time.Minute, nil)
	// Must not panic or block.
	c.Invalidate(context.Background(), "asset-1", "asset-2")
	c.Invalidate(context.Background())
}
