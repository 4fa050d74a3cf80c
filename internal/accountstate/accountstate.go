// Package accountstate owns every Position record: the in-memory source
// of truth during a session, write-through persisted via statestore. All
// reads and mutations are serialized by one mutex shared by every
// (account, symbol) key.
package accountstate

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"perpmomentum/internal/model"
	"perpmomentum/internal/statestore"
	"perpmomentum/internal/tradeerr"
)

// State is the exclusive owner of every (account, symbol) Position. Reads
// return value copies; callers never hold a pointer into live state.
type State struct {
	store  *statestore.Store
	log    zerolog.Logger
	mu     sync.Mutex
	byAcct map[string]map[string]model.Position
}

// New returns a State backed by store. log records save failures, which
// never fail the in-memory mutation itself.
func New(store *statestore.Store, log zerolog.Logger) *State {
	return &State{
		store:  store,
		log:    log,
		byAcct: make(map[string]map[string]model.Position),
	}
}

// Initialize loads account's persisted document and ensures an idle
// Position exists for every symbol in pairs, persisting once if any
// symbol was newly created.
func (s *State) Initialize(account string, symbols []string) error {
	doc, err := s.store.Load(account)
	if err != nil {
		return fmt.Errorf("accountstate: initialize %s: %w", account, err)
	}

	s.mu.Lock()
	positions := doc.Positions
	if positions == nil {
		positions = map[string]model.Position{}
	}
	created := false
	for _, symbol := range symbols {
		if _, ok := positions[symbol]; !ok {
			positions[symbol] = model.Idle()
			created = true
		}
	}
	s.byAcct[account] = positions
	snapshot := cloneSymbolMap(positions)
	s.mu.Unlock()

	if created {
		s.persist(account, snapshot)
	}
	return nil
}

// GetPosition returns a value copy of the current Position for
// (account, symbol), or a fully idle Position if account/symbol is
// unknown.
func (s *State) GetPosition(account, symbol string) model.Position {
	s.mu.Lock()
	defer s.mu.Unlock()
	if pos, ok := s.byAcct[account][symbol]; ok {
		return pos
	}
	return model.Idle()
}

// UpdatePosition applies mutate to the current Position for
// (account, symbol) and persists the result. mutate must return a
// structurally valid Position; an invalid result is rejected with
// tradeerr.ErrInvariantViolation and leaves state unchanged.
func (s *State) UpdatePosition(account, symbol string, mutate func(model.Position) model.Position) (model.Position, error) {
	s.mu.Lock()
	current := s.byAcct[account][symbol]
	next := mutate(current)
	if err := next.Validate(); err != nil {
		s.mu.Unlock()
		return model.Position{}, fmt.Errorf("%w: %v", tradeerr.ErrInvariantViolation, err)
	}
	if s.byAcct[account] == nil {
		s.byAcct[account] = map[string]model.Position{}
	}
	s.byAcct[account][symbol] = next
	snapshot := cloneSymbolMap(s.byAcct[account])
	s.mu.Unlock()

	s.persist(account, snapshot)
	return next, nil
}

// Arm transitions (account, symbol) from idle or armed to armed with the
// given lock price and movement threshold, unless the position is
// currently entering or open, in which case it is left untouched and
// armed is false.
func (s *State) Arm(account, symbol string, lockClosePrice, movementThreshold float64) (armed bool, err error) {
	s.mu.Lock()
	current := s.byAcct[account][symbol]
	if current.Status == model.StatusEntering || current.Status == model.StatusOpen {
		s.mu.Unlock()
		return false, nil
	}
	next := current
	next.Status = model.StatusArmed
	next.LockClosePrice = lockClosePrice
	next.MovementThreshold = movementThreshold
	if err := next.Validate(); err != nil {
		s.mu.Unlock()
		return false, fmt.Errorf("%w: %v", tradeerr.ErrInvariantViolation, err)
	}
	if s.byAcct[account] == nil {
		s.byAcct[account] = map[string]model.Position{}
	}
	s.byAcct[account][symbol] = next
	snapshot := cloneSymbolMap(s.byAcct[account])
	s.mu.Unlock()

	s.persist(account, snapshot)
	return true, nil
}

// Clear resets (account, symbol) to a fully cleared idle Position, used
// when the exchange reports a flat position.
func (s *State) Clear(account, symbol string) {
	_, _ = s.UpdatePosition(account, symbol, func(model.Position) model.Position {
		return model.Idle()
	})
}

func (s *State) persist(account string, positions map[string]model.Position) {
	err := s.store.Save(account, statestore.Document{Positions: positions})
	if err != nil {
		s.log.Error().Err(err).Str("account", account).Msg("failed to persist account state")
	}
}

func cloneSymbolMap(m map[string]model.Position) map[string]model.Position {
	out := make(map[string]model.Position, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
