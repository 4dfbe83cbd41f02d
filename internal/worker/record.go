package worker

import (
	"context"
	"time"
)

// Record represents a Kafka message delivered to the worker. It is a minimal
// abstraction that keeps the engine decoupled from the concrete consumer
// implementation while still exposing the data the engine requires.
type Record struct {
	Topic     string
	Partition int32
	Offset    int64
	Key       []byte
	Value     []byte
	Timestamp time.Time
	Headers   map[string][]byte

	commit func(ctx context.Context) error
}

// Clone returns a deep copy of the record so it can be shared with
// asynchronous goroutines without data races.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}

	clone := *r
	clone.Key = cloneBytes(r.Key)
	clone.Value = cloneBytes(r.Value)
	clone.Headers = cloneHeaders(r.Headers)
	return &clone
}

// Commit acknowledges the record with the underlying consumer, if a commit
// function was bound.
func (r *Record) Commit(ctx context.Context) error {
	if r == nil || r.commit == nil {
		return nil
	}
	return r.commit(ctx)
}

// Committer is the abstraction for committing Kafka offsets after processing.
type Committer interface {
	Commit(ctx context.Context, record *Record) error
}

// CommitFunc adapts a plain function to the Committer interface.
type CommitFunc func(ctx context.Context, record *Record) error

// Commit implements Committer.
func (f CommitFunc) Commit(ctx context.Context, record *Record) error {
	return f(ctx, record)
}

func cloneBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	clone := make([]byte, len(b))
	copy(clone, b)
	return clone
}

func cloneHeaders(headers map[string][]byte) map[string][]byte {
	if len(headers) == 0 {
		return nil
	}
	clone := make(map[string][]byte, len(headers))
	for k, v := range headers {
		clone[k] = cloneBytes(v)
	}
	return clone
}
