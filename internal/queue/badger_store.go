package queue

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/aristath/rollup/internal/domain"
	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"
)

const maxTxnRetries = 5

// Key layout, all scoped by queue name:
//
//	q:{queue}:job:{id}                      msgpack Job
//	q:{queue}:live:{key}                    id of the live job owning key
//	q:{queue}:ready:{runAt}:{id}            due index, ordered by run time
//	q:{queue}:active:{id}                   claimed jobs
//	q:{queue}:{completed|failed}:{at}:{id}  retention index
//
// Timestamps are zero-padded unix nanoseconds so byte order is time order.

// BadgerStore is a Store backed by BadgerDB.
type BadgerStore struct {
	db     *badger.DB
	ownsDB bool
	log    zerolog.Logger
	now    func() time.Time
	closed atomic.Bool
}

// OpenBadgerStore opens a store at dir. An empty dir opens an in-memory store.
func OpenBadgerStore(dir string, log zerolog.Logger) (*BadgerStore, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open job store: %w", err)
	}
	s := NewBadgerStore(db, log)
	s.ownsDB = true
	return s, nil
}

// NewBadgerStore wraps an open database. The caller keeps ownership of db.
func NewBadgerStore(db *badger.DB, log zerolog.Logger) *BadgerStore {
	return &BadgerStore{
		db:  db,
		log: log.With().Str("component", "job_store").Logger(),
		now: time.Now,
	}
}

// SetClock replaces the time source.
func (s *BadgerStore) SetClock(now func() time.Time) {
	s.now = now
}

func (s *BadgerStore) Add(ctx context.Context, q domain.QueueName, spec JobSpec) (*Job, bool, error) {
	if err := s.check(ctx); err != nil {
		return nil, false, err
	}
	if spec.Key == "" {
		return nil, false, errors.New("queue: job key is required")
	}

	var out *Job
	var created bool
	err := s.update(func(txn *badger.Txn) error {
		out, created = nil, false

		existing, err := s.liveJob(txn, q, spec.Key)
		if err != nil {
			return err
		}
		// A running job has already read its inputs, so a new add while it is
		// active takes over the key with a fresh job.
		if existing != nil && existing.State != StateActive {
			out = existing
			return nil
		}

		now := s.now()
		job := &Job{
			ID:        uuid.NewString(),
			Key:       spec.Key,
			Queue:     q,
			Kind:      spec.Kind,
			Payload:   spec.Payload,
			State:     StateWaiting,
			Policy:    spec.Policy,
			RunAt:     now.Add(spec.Delay),
			CreatedAt: now,
			UpdatedAt: now,
		}
		if spec.Delay > 0 {
			job.State = StateDelayed
		}
		if err := s.putJob(txn, job); err != nil {
			return err
		}
		if err := txn.Set(liveKey(q, job.Key), []byte(job.ID)); err != nil {
			return err
		}
		if err := txn.Set(readyKey(q, job.RunAt, job.ID), nil); err != nil {
			return err
		}
		out, created = job, true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return out, created, nil
}

func (s *BadgerStore) Claim(ctx context.Context, q domain.QueueName) (*Job, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}

	var claimed *Job
	err := s.update(func(txn *badger.Txn) error {
		claimed = nil
		now := s.now()
		prefix := []byte(fmt.Sprintf("q:%s:ready:", q))

		var orphans [][]byte
		var idxKey []byte
		var job *Job

		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			key := it.Item().KeyCopy(nil)
			runAt, id, err := parseIndexKey(prefix, key)
			if err != nil {
				orphans = append(orphans, key)
				continue
			}
			if runAt.After(now) {
				break
			}
			candidate, err := s.getJob(txn, q, id)
			if errors.Is(err, badger.ErrKeyNotFound) {
				orphans = append(orphans, key)
				continue
			}
			if err != nil {
				it.Close()
				return err
			}
			idxKey, job = key, candidate
			break
		}
		it.Close()

		for _, key := range orphans {
			if err := txn.Delete(key); err != nil {
				return err
			}
		}
		if job == nil {
			return nil
		}

		if err := txn.Delete(idxKey); err != nil {
			return err
		}
		job.State = StateActive
		job.UpdatedAt = now
		if err := s.putJob(txn, job); err != nil {
			return err
		}
		if err := txn.Set(activeKey(q, job.ID), nil); err != nil {
			return err
		}
		claimed = job
		return nil
	})
	if err != nil {
		return nil, err
	}
	if claimed == nil {
		return nil, ErrNoJob
	}
	return claimed, nil
}

func (s *BadgerStore) Complete(ctx context.Context, job *Job) error {
	if err := s.check(ctx); err != nil {
		return err
	}
	return s.update(func(txn *badger.Txn) error {
		current, err := s.getJob(txn, job.Queue, job.ID)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return s.finish(txn, current, StateCompleted, "")
	})
}

func (s *BadgerStore) Fail(ctx context.Context, job *Job, cause error, retryable bool) (bool, error) {
	if err := s.check(ctx); err != nil {
		return false, err
	}

	var retried bool
	err := s.update(func(txn *badger.Txn) error {
		retried = false
		current, err := s.getJob(txn, job.Queue, job.ID)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}

		current.Attempts++
		msg := ""
		if cause != nil {
			msg = cause.Error()
		}
		if !retryable || current.Attempts >= current.Policy.MaxAttempts {
			return s.finish(txn, current, StateFailed, msg)
		}

		current.LastError = msg
		if err := s.delay(txn, current, current.Policy.Backoff.Delay(current.Attempts)); err != nil {
			return err
		}
		retried = true
		return nil
	})
	if err != nil {
		return false, err
	}
	job.Attempts++
	return retried, nil
}

func (s *BadgerStore) Reschedule(ctx context.Context, job *Job, delay time.Duration) error {
	if err := s.check(ctx); err != nil {
		return err
	}
	return s.update(func(txn *badger.Txn) error {
		current, err := s.getJob(txn, job.Queue, job.ID)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return s.delay(txn, current, delay)
	})
}

func (s *BadgerStore) Lookup(ctx context.Context, q domain.QueueName, key string) (*Job, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	var out *Job
	err := s.db.View(func(txn *badger.Txn) error {
		job, err := s.liveJob(txn, q, key)
		out = job
		return err
	})
	return out, err
}

func (s *BadgerStore) FindLive(ctx context.Context, q domain.QueueName, keyPrefix string) (*Job, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	var out *Job
	err := s.db.View(func(txn *badger.Txn) error {
		prefix := liveKey(q, keyPrefix)
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			id, err := it.Item().ValueCopy(nil)
			if err != nil {
				return err
			}
			job, err := s.getJob(txn, q, string(id))
			if errors.Is(err, badger.ErrKeyNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			if job.State.Live() {
				out = job
				return nil
			}
		}
		return nil
	})
	return out, err
}

func (s *BadgerStore) Recover(ctx context.Context, q domain.QueueName) (int, error) {
	if err := s.check(ctx); err != nil {
		return 0, err
	}

	var recovered int
	err := s.update(func(txn *badger.Txn) error {
		recovered = 0
		prefix := []byte(fmt.Sprintf("q:%s:active:", q))
		var ids []string

		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			ids = append(ids, string(bytes.TrimPrefix(it.Item().KeyCopy(nil), prefix)))
		}
		it.Close()

		for _, id := range ids {
			job, err := s.getJob(txn, q, id)
			if errors.Is(err, badger.ErrKeyNotFound) {
				if err := txn.Delete(activeKey(q, id)); err != nil {
					return err
				}
				continue
			}
			if err != nil {
				return err
			}
			if err := s.delay(txn, job, 0); err != nil {
				return err
			}
			recovered++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	if recovered > 0 {
		s.log.Info().Str("queue", string(q)).Int("count", recovered).Msg("Recovered interrupted jobs")
	}
	return recovered, nil
}

func (s *BadgerStore) Failed(ctx context.Context, q domain.QueueName, limit int) ([]*Job, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	var jobs []*Job
	err := s.db.View(func(txn *badger.Txn) error {
		prefix := []byte(fmt.Sprintf("q:%s:%s:", q, StateFailed))
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefix
		opts.Reverse = true
		it := txn.NewIterator(opts)
		defer it.Close()

		// Reverse iteration starts past the last key under prefix.
		seek := append(append([]byte{}, prefix...), 0xFF)
		for it.Seek(seek); it.ValidForPrefix(prefix); it.Next() {
			if limit > 0 && len(jobs) >= limit {
				break
			}
			_, id, err := parseIndexKey(prefix, it.Item().Key())
			if err != nil {
				continue
			}
			job, err := s.getJob(txn, q, id)
			if errors.Is(err, badger.ErrKeyNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			jobs = append(jobs, job)
		}
		return nil
	})
	return jobs, err
}

func (s *BadgerStore) Stats(ctx context.Context, q domain.QueueName) (Stats, error) {
	if err := s.check(ctx); err != nil {
		return Stats{}, err
	}
	var st Stats
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		if st.Ready, err = countPrefix(txn, fmt.Sprintf("q:%s:ready:", q)); err != nil {
			return err
		}
		if st.Active, err = countPrefix(txn, fmt.Sprintf("q:%s:active:", q)); err != nil {
			return err
		}
		if st.Completed, err = countPrefix(txn, fmt.Sprintf("q:%s:%s:", q, StateCompleted)); err != nil {
			return err
		}
		st.Failed, err = countPrefix(txn, fmt.Sprintf("q:%s:%s:", q, StateFailed))
		return err
	})
	return st, err
}

// Close marks the store unavailable and closes the database if the store
// opened it.
func (s *BadgerStore) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	if s.ownsDB {
		return s.db.Close()
	}
	return nil
}

func (s *BadgerStore) check(ctx context.Context) error {
	if s.closed.Load() {
		return domain.ErrBrokerUnavailable
	}
	return ctx.Err()
}

// update runs fn in a read-write transaction, retrying on write conflicts.
// fn must derive all of its state from txn.
func (s *BadgerStore) update(fn func(txn *badger.Txn) error) error {
	var err error
	for i := 0; i < maxTxnRetries; i++ {
		err = s.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			break
		}
	}
	if err != nil && s.closed.Load() {
		return domain.ErrBrokerUnavailable
	}
	return err
}

// delay moves a job back to the due index at now+d.
func (s *BadgerStore) delay(txn *badger.Txn, job *Job, d time.Duration) error {
	now := s.now()
	if err := txn.Delete(activeKey(job.Queue, job.ID)); err != nil {
		return err
	}
	if job.State != StateActive {
		if err := txn.Delete(readyKey(job.Queue, job.RunAt, job.ID)); err != nil {
			return err
		}
	}
	job.State = StateWaiting
	if d > 0 {
		job.State = StateDelayed
	}
	job.RunAt = now.Add(d)
	job.UpdatedAt = now
	if err := s.putJob(txn, job); err != nil {
		return err
	}
	return txn.Set(readyKey(job.Queue, job.RunAt, job.ID), nil)
}

// finish moves a job to a terminal state, releases its key and prunes the
// retention index down to the policy limit.
func (s *BadgerStore) finish(txn *badger.Txn, job *Job, state JobState, lastError string) error {
	now := s.now()
	if err := txn.Delete(activeKey(job.Queue, job.ID)); err != nil {
		return err
	}
	if err := txn.Delete(readyKey(job.Queue, job.RunAt, job.ID)); err != nil {
		return err
	}
	if err := s.releaseKey(txn, job); err != nil {
		return err
	}

	job.State = state
	job.UpdatedAt = now
	job.FinishedAt = now
	if lastError != "" {
		job.LastError = lastError
	}
	if err := s.putJob(txn, job); err != nil {
		return err
	}
	if err := txn.Set(doneKey(job.Queue, state, now, job.ID), nil); err != nil {
		return err
	}

	retain := job.Policy.RetainCompleted
	if state == StateFailed {
		retain = job.Policy.RetainFailed
	}
	return s.prune(txn, job.Queue, state, retain)
}

func (s *BadgerStore) releaseKey(txn *badger.Txn, job *Job) error {
	item, err := txn.Get(liveKey(job.Queue, job.Key))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	owner, err := item.ValueCopy(nil)
	if err != nil {
		return err
	}
	if string(owner) != job.ID {
		return nil
	}
	return txn.Delete(liveKey(job.Queue, job.Key))
}

func (s *BadgerStore) prune(txn *badger.Txn, q domain.QueueName, state JobState, retain int) error {
	if retain < 0 {
		retain = 0
	}
	prefix := []byte(fmt.Sprintf("q:%s:%s:", q, state))

	var keys [][]byte
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	opts.Prefix = prefix
	it := txn.NewIterator(opts)
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		keys = append(keys, it.Item().KeyCopy(nil))
	}
	it.Close()

	excess := len(keys) - retain
	for i := 0; i < excess; i++ {
		_, id, err := parseIndexKey(prefix, keys[i])
		if err == nil {
			if err := txn.Delete(jobKey(q, id)); err != nil {
				return err
			}
		}
		if err := txn.Delete(keys[i]); err != nil {
			return err
		}
	}
	return nil
}

func (s *BadgerStore) liveJob(txn *badger.Txn, q domain.QueueName, key string) (*Job, error) {
	item, err := txn.Get(liveKey(q, key))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	id, err := item.ValueCopy(nil)
	if err != nil {
		return nil, err
	}
	job, err := s.getJob(txn, q, string(id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if !job.State.Live() {
		return nil, nil
	}
	return job, nil
}

func (s *BadgerStore) getJob(txn *badger.Txn, q domain.QueueName, id string) (*Job, error) {
	item, err := txn.Get(jobKey(q, id))
	if err != nil {
		return nil, err
	}
	var job Job
	if err := item.Value(func(val []byte) error {
		return msgpack.Unmarshal(val, &job)
	}); err != nil {
		return nil, fmt.Errorf("failed to decode job %s: %w", id, err)
	}
	return &job, nil
}

func (s *BadgerStore) putJob(txn *badger.Txn, job *Job) error {
	data, err := msgpack.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to encode job %s: %w", job.ID, err)
	}
	return txn.Set(jobKey(job.Queue, job.ID), data)
}

func countPrefix(txn *badger.Txn, p string) (int, error) {
	prefix := []byte(p)
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	opts.Prefix = prefix
	it := txn.NewIterator(opts)
	defer it.Close()

	n := 0
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		n++
	}
	return n, nil
}

func jobKey(q domain.QueueName, id string) []byte {
	return []byte(fmt.Sprintf("q:%s:job:%s", q, id))
}

func liveKey(q domain.QueueName, key string) []byte {
	return []byte(fmt.Sprintf("q:%s:live:%s", q, key))
}

func activeKey(q domain.QueueName, id string) []byte {
	return []byte(fmt.Sprintf("q:%s:active:%s", q, id))
}

func readyKey(q domain.QueueName, at time.Time, id string) []byte {
	return []byte(fmt.Sprintf("q:%s:ready:%020d:%s", q, at.UnixNano(), id))
}

func doneKey(q domain.QueueName, state JobState, at time.Time, id string) []byte {
	return []byte(fmt.Sprintf("q:%s:%s:%020d:%s", q, state, at.UnixNano(), id))
}

// parseIndexKey splits {prefix}{nanos}:{id}.
func parseIndexKey(prefix, key []byte) (time.Time, string, error) {
	rest := bytes.TrimPrefix(key, prefix)
	sep := bytes.IndexByte(rest, ':')
	if sep < 0 {
		return time.Time{}, "", fmt.Errorf("malformed index key %q", key)
	}
	nanos, err := strconv.ParseInt(string(rest[:sep]), 10, 64)
	if err != nil {
		return time.Time{}, "", fmt.Errorf("malformed index key %q: %w", key, err)
	}
	return time.Unix(0, nanos), string(rest[sep+1:]), nil
}
