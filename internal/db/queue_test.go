package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	_ "modernc.org/sqlite"
	"pgregory.net/rapid"
)

func TestDBQueueRetry_Property(t *testing.T) {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	queue := NewDBQueueForTest(db)
	defer queue.Close()

	rapid.Check(t, func(t *rapid.T) {
		failUntil := rapid.IntRange(0, 4).Draw(t, "failUntil")
		expectedData := rapid.Int().Draw(t, "expectedData")

		var attempts int32

		task := func(_ *sql.DB) (interface{}, error) {
			attempt := int(atomic.AddInt32(&attempts, 1))
			if attempt <= failUntil {
				return nil, errors.New("simulated failure")
			}
			return expectedData, nil
		}

		result, err := queue.Execute(context.Background(), task)

		actualAttempts := int(atomic.LoadInt32(&attempts))

		if failUntil >= 3 {
			if err == nil {
				t.Fatalf("expected error after 3 retries, got nil")
			}
			if actualAttempts != 3 {
				t.Fatalf("expected exactly 3 attempts, got %d", actualAttempts)
			}
		} else {
			if err != nil {
				t.Fatalf("expected success, got error: %v", err)
			}
			if result != expectedData {
				t.Fatalf("expected data %v, got %v", expectedData, result)
			}
			if actualAttempts != failUntil+1 {
				t.Fatalf("expected %d attempts, got %d", failUntil+1, actualAttempts)
			}
		}
	})
}

func TestDBQueueDoesNotRetryMisses(t *testing.T) {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	queue := NewDBQueueForTest(db)
	defer queue.Close()

	for _, miss := range []error{sql.ErrNoRows, fmt.Errorf("wrapped: %w", ErrNotFound)} {
		var attempts int32
		_, err := queue.Execute(context.Background(), func(_ *sql.DB) (interface{}, error) {
			atomic.AddInt32(&attempts, 1)
			return nil, miss
		})
		if !errors.Is(err, miss) && !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected miss error, got %v", err)
		}
		if attempts != 1 {
			t.Fatalf("misses must not be retried, got %d attempts", attempts)
		}
	}
}

func TestDBQueueClosed(t *testing.T) {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	queue := NewDBQueueForTest(db)
	queue.Close()
	queue.Close()

	_, err = queue.Execute(context.Background(), func(_ *sql.DB) (interface{}, error) { return nil, nil })
	if !errors.Is(err, ErrQueueClosed) {
		t.Fatalf("expected ErrQueueClosed, got %v", err)
	}
}

func TestDBQueueContextCancel(t *testing.T) {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	queue := NewDBQueueForTest(db)
	defer queue.Close()

	started := make(chan struct{})
	release := make(chan struct{})
	go queue.Execute(context.Background(), func(_ *sql.DB) (interface{}, error) {
		close(started)
		<-release
		return nil, nil
	})
	<-started

	ran := make(chan struct{}, 1)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = queue.Execute(ctx, func(_ *sql.DB) (interface{}, error) {
		ran <- struct{}{}
		return nil, nil
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}

	close(release)
	// The expired task is dropped; a later task still runs.
	if _, err := queue.Execute(context.Background(), func(_ *sql.DB) (interface{}, error) { return nil, nil }); err != nil {
		t.Fatalf("queue stuck after cancellation: %v", err)
	}
	select {
	case <-ran:
		t.Fatal("task whose context expired while queued must not run")
	default:
	}
}

func TestDBQueueStopsRetryingWhenContextDone(t *testing.T) {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	queue := NewDBQueueForTest(db)
	defer queue.Close()

	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0
	_, err = queue.Execute(ctx, func(_ *sql.DB) (interface{}, error) {
		attempts++
		cancel()
		return nil, errors.New("database is locked")
	})
	if err == nil {
		t.Fatal("expected an error")
	}
	if attempts != 1 {
		t.Fatalf("cancelled task must not be retried, got %d attempts", attempts)
	}
}
