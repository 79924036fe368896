package db

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"time"
)

type DBTask struct {
	Ctx  context.Context
	Exec func(*sql.DB) (interface{}, error)
	Resp chan DBResult
}

type DBResult struct {
	Data interface{}
	Err  error
}

// DBQueue serialises all database work through one goroutine. SQLite allows a
// single writer, so funnelling everything through the queue avoids SQLITE_BUSY
// under concurrent bot updates and tick saves.
type DBQueue struct {
	tasks      chan DBTask
	db         *sql.DB
	maxRetry   int
	retryDelay time.Duration
	linear     bool

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

func NewDBQueue(db *sql.DB) *DBQueue {
	return newDBQueue(db, 100*time.Millisecond, false)
}

func NewDBQueueForTest(db *sql.DB) *DBQueue {
	return newDBQueue(db, time.Millisecond, true)
}

func newDBQueue(db *sql.DB, retryDelay time.Duration, linear bool) *DBQueue {
	q := &DBQueue{
		tasks:      make(chan DBTask, 100),
		db:         db,
		maxRetry:   3,
		retryDelay: retryDelay,
		linear:     linear,
		done:       make(chan struct{}),
	}
	go q.worker()
	return q
}

// Execute runs task on the queue goroutine and waits for its result. Misses
// (sql.ErrNoRows, ErrNotFound) are returned immediately, other errors are
// retried up to three times. Once ctx is done the task is no longer started
// or retried.
func (q *DBQueue) Execute(ctx context.Context, task func(*sql.DB) (interface{}, error)) (interface{}, error) {
	resp := make(chan DBResult, 1)

	q.mu.RLock()
	if q.closed {
		q.mu.RUnlock()
		return nil, ErrQueueClosed
	}
	select {
	case q.tasks <- DBTask{Ctx: ctx, Exec: task, Resp: resp}:
		q.mu.RUnlock()
	case <-ctx.Done():
		q.mu.RUnlock()
		return nil, ctx.Err()
	}

	select {
	case result := <-resp:
		return result.Data, result.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// run is a typed wrapper around Execute.
func run[T any](ctx context.Context, q *DBQueue, task func(*sql.DB) (T, error)) (T, error) {
	data, err := q.Execute(ctx, func(db *sql.DB) (interface{}, error) {
		return task(db)
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return data.(T), nil
}

func (q *DBQueue) worker() {
	defer close(q.done)
	for task := range q.tasks {
		task.Resp <- q.executeWithRetry(task)
	}
}

func (q *DBQueue) executeWithRetry(task DBTask) DBResult {
	var lastErr error
	for attempt := 0; attempt < q.maxRetry; attempt++ {
		if err := task.Ctx.Err(); err != nil {
			if lastErr == nil {
				lastErr = err
			}
			break
		}
		data, err := task.Exec(q.db)
		if err == nil {
			return DBResult{Data: data}
		}
		if errors.Is(err, sql.ErrNoRows) || errors.Is(err, ErrNotFound) {
			return DBResult{Err: err}
		}
		lastErr = err
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			break
		}
		if attempt < q.maxRetry-1 {
			delay := time.Duration(attempt+1) * q.retryDelay
			if q.linear {
				delay = q.retryDelay
			}
			select {
			case <-time.After(delay):
			case <-task.Ctx.Done():
			}
		}
	}
	return DBResult{Err: lastErr}
}

// Close stops accepting work and waits for queued tasks to finish.
func (q *DBQueue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	close(q.tasks)
	q.mu.Unlock()
	<-q.done
}

func (q *DBQueue) DB() *sql.DB {
	return q.db
}
