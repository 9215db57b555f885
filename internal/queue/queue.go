// Package queue implements the FIFO matchmaking queue. One Queue
// instance serves one room kind; pairing beyond "two waiting
// participants" is an injectable compatibility predicate.
package queue

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/duet/internal/domain"
)

// Entry is a participant's placeholder while awaiting pairing.
type Entry struct {
	Participant domain.ParticipantID
	Class       string
	Seq         uint64
	EnqueuedAt  time.Time
}

// Compat decides whether two waiting entries may be paired. It must be
// symmetric. The queue always offers candidates in FIFO order, so the
// first compatible pair is also the earliest one.
type Compat func(a, b Entry) bool

// Any pairs any two waiting participants.
func Any(a, b Entry) bool { return true }

// DistinctClass pairs participants of differing pairing classes; an
// empty class matches anything.
func DistinctClass(a, b Entry) bool {
	return a.Class == "" || b.Class == "" || a.Class != b.Class
}

// Store is the atomic backing store of one queue. DequeuePair must be
// indivisible with respect to concurrent Enqueue/Remove calls for the
// same participants, otherwise a participant could be matched twice.
type Store interface {
	// Enqueue inserts the entry, replacing any prior entry for the
	// same participant. The store assigns Seq.
	Enqueue(ctx context.Context, e Entry) error
	// DequeuePair atomically removes and returns the two earliest
	// compatible entries. A miss (fewer than two candidates, or no
	// compatible pair) is a normal false return, not an error.
	DequeuePair(ctx context.Context) (Entry, Entry, bool, error)
	// Remove is best-effort and succeeds even if the entry is absent.
	Remove(ctx context.Context, p domain.ParticipantID) error
	Len(ctx context.Context) (int, error)
}

type Queue struct {
	kind  domain.RoomKind
	store Store
}

func New(kind domain.RoomKind, store Store) *Queue {
	return &Queue{kind: kind, store: store}
}

func (q *Queue) Kind() domain.RoomKind { return q.kind }

func (q *Queue) Enqueue(ctx context.Context, p domain.ParticipantID, class string) error {
	err := q.store.Enqueue(ctx, Entry{Participant: p, Class: class, EnqueuedAt: time.Now()})
	if err != nil {
		return err
	}
	log.Debug().Str("module", "queue").Str("kind", string(q.kind)).Str("participant", string(p)).Msg("enqueued")
	return nil
}

func (q *Queue) DequeuePair(ctx context.Context) (Entry, Entry, bool, error) {
	a, b, ok, err := q.store.DequeuePair(ctx)
	if err != nil || !ok {
		return Entry{}, Entry{}, false, err
	}
	log.Debug().Str("module", "queue").Str("kind", string(q.kind)).
		Str("first", string(a.Participant)).Str("second", string(b.Participant)).Msg("paired")
	return a, b, true, nil
}

func (q *Queue) Remove(ctx context.Context, p domain.ParticipantID) error {
	return q.store.Remove(ctx, p)
}

func (q *Queue) Len(ctx context.Context) (int, error) {
	return q.store.Len(ctx)
}
