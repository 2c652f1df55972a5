package casefile

import (
	"errors"
	"strings"
	"sync"
	"time"
)

var (
	// ErrNoSolutions is returned when a solution list has no usable entry.
	ErrNoSolutions = errors.New("solutions must contain at least one entry")
	// ErrStale is returned when writing through a Case whose session ended.
	ErrStale = errors.New("case belongs to a previous session")
)

// Store holds the record of the active session. Every mutation replaces
// whole fields, and readers always receive deep copies.
type Store struct {
	mu     sync.Mutex
	rec    Record
	epoch  uint64
	now    func() time.Time
	subs   map[int]chan Record
	nextID int
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		now:  time.Now,
		subs: make(map[int]chan Record),
	}
}

// SetClock overrides the time source used for ticket timestamps.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if now != nil {
		s.now = now
	}
}

// Snapshot returns a copy of the current record.
func (s *Store) Snapshot() Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rec.Clone()
}

// Epoch identifies the session the record belongs to.
func (s *Store) Epoch() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.epoch
}

// Begin clears the record for a new session and returns the handle through
// which that session writes. Handles from earlier sessions become stale.
func (s *Store) Begin(identity string) *Case {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.epoch++
	s.rec = Record{Identity: strings.TrimSpace(identity)}
	s.publishLocked()
	return &Case{store: s, epoch: s.epoch}
}

// Subscribe returns a channel receiving the latest record after every
// change. Slow readers only see the most recent value. The returned func
// unsubscribes and closes the channel.
func (s *Store) Subscribe() (<-chan Record, func()) {
	ch := make(chan Record, 1)

	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = ch
	ch <- s.rec.Clone()
	s.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
			close(ch)
		})
	}
}

func (s *Store) publishLocked() {
	for _, ch := range s.subs {
		snap := s.rec.Clone()
		select {
		case ch <- snap:
			continue
		default:
		}
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- snap:
		default:
		}
	}
}

// Case is one session's write access to the store.
type Case struct {
	store *Store
	epoch uint64
	// retired is guarded by store.mu.
	retired bool
}

// Epoch returns the session epoch the handle was created for.
func (c *Case) Epoch() uint64 {
	return c.epoch
}

// Active reports whether the handle still owns the record.
func (c *Case) Active() bool {
	c.store.mu.Lock()
	defer c.store.mu.Unlock()
	return c.ownsLocked()
}

// Retire makes every later write through c fail with ErrStale while the
// record stays visible. An e-mail still marked sending falls back to none.
func (c *Case) Retire() {
	s := c.store
	s.mu.Lock()
	defer s.mu.Unlock()
	if !c.ownsLocked() {
		return
	}
	c.retired = true
	if s.rec.EmailStatus == EmailSending {
		s.rec.EmailStatus = EmailNone
		s.publishLocked()
	}
}

func (c *Case) ownsLocked() bool {
	return !c.retired && c.epoch == c.store.epoch
}

// Snapshot returns a copy of the current record.
func (c *Case) Snapshot() Record {
	return c.store.Snapshot()
}

// MergeDetails applies the non-empty fields of d and returns the result.
func (c *Case) MergeDetails(d Details) (Record, error) {
	s := c.store
	s.mu.Lock()
	defer s.mu.Unlock()
	if !c.ownsLocked() {
		return Record{}, ErrStale
	}
	if d.Municipality != "" {
		s.rec.Municipality = d.Municipality
	}
	if d.System != "" {
		s.rec.System = d.System
	}
	if d.Problem != "" {
		s.rec.Problem = d.Problem
	}
	if !d.Empty() {
		s.publishLocked()
	}
	return s.rec.Clone(), nil
}

// ReplaceSolutions swaps the whole solution list. Blank entries are dropped;
// a list with nothing left is rejected and the record is unchanged.
func (c *Case) ReplaceSolutions(solutions []string) (Record, error) {
	cleaned := make([]string, 0, len(solutions))
	for _, sol := range solutions {
		if sol = strings.TrimSpace(sol); sol != "" {
			cleaned = append(cleaned, sol)
		}
	}

	s := c.store
	s.mu.Lock()
	defer s.mu.Unlock()
	if !c.ownsLocked() {
		return Record{}, ErrStale
	}
	if len(cleaned) == 0 {
		return s.rec.Clone(), ErrNoSolutions
	}
	s.rec.Solutions = cleaned
	s.publishLocked()
	return s.rec.Clone(), nil
}

// IssueTicket records the case status and, if no ticket exists yet, a code
// obtained from generate. The code never changes once issued; issued
// reports whether this call created it.
func (c *Case) IssueTicket(status string, generate func(time.Time) string) (code string, issued bool, err error) {
	s := c.store
	s.mu.Lock()
	defer s.mu.Unlock()
	if !c.ownsLocked() {
		return "", false, ErrStale
	}
	if status != "" {
		s.rec.Status = status
	}
	if s.rec.TicketCode == "" {
		now := s.now()
		s.rec.TicketCode = generate(now)
		s.rec.TicketCreatedAt = &now
		issued = true
	}
	s.publishLocked()
	return s.rec.TicketCode, issued, nil
}

// SetEmailStatus updates the e-mail delivery status.
func (c *Case) SetEmailStatus(status EmailStatus) error {
	s := c.store
	s.mu.Lock()
	defer s.mu.Unlock()
	if !c.ownsLocked() {
		return ErrStale
	}
	s.rec.EmailStatus = status
	s.publishLocked()
	return nil
}
