package budget

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"VoteBoard/model"
)

// Policy decides what happens when an allocation does not fit the remaining budget.
type Policy struct {
	AllowWithdrawalNegotiation bool
}

var (
	// SliderPolicy is used when a feature is created with an initial allocation.
	SliderPolicy = Policy{AllowWithdrawalNegotiation: true}
	// QuickAdjustPolicy backs the +1/-1 controls, which never negotiate.
	QuickAdjustPolicy = Policy{}
)

type Outcome string

const (
	OutcomeApplied            Outcome = "applied"
	OutcomeWithdrawalRequired Outcome = "withdrawal_required"
)

// Result is the answer to a proposed allocation.
type Result struct {
	Outcome   Outcome
	FeatureID string
	Votes     int  // allocation on FeatureID after the call
	Changed   bool // false when the allocation already had that value

	// Set when Outcome is OutcomeWithdrawalRequired.
	VotesNeeded int
	Candidates  []model.VoteCandidate

	RemainingVotes int
}

// Selection is the can-proceed gate of a withdrawal.
type Selection struct {
	SelectedTotal int
	VotesNeeded   int
	CanProceed    bool
}

type Deps struct {
	Backend    Backend
	Pending    PendingStore
	Locker     Locker    // optional
	Publisher  Publisher // optional
	PendingTTL time.Duration

	// PublishTimeout bounds each event publish. Events go out after the user lock is released.
	PublishTimeout time.Duration
	Now            func() time.Time
}

// Manager holds one user's vote budget state.
type Manager struct {
	userID string
	deps   Deps
	log    *log.Entry

	loaded    bool
	remaining int
	votes     []model.VoteCandidate
	events    []VoteEvent
}

func New(userID string, deps Deps) (*Manager, error) {
	if userID == "" {
		return nil, ErrUnauthenticated
	}
	if deps.Backend == nil || deps.Pending == nil {
		return nil, errors.New("budget: backend and pending store are required")
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.PendingTTL <= 0 {
		deps.PendingTTL = 15 * time.Minute
	}
	if deps.PublishTimeout <= 0 {
		deps.PublishTimeout = 3 * time.Second
	}
	return &Manager{
		userID: userID,
		deps:   deps,
		log:    log.WithField("user_id", userID),
	}, nil
}

func (m *Manager) UserID() string { return m.userID }

// Refresh re-reads the used budget and the user's votes from the backend.
func (m *Manager) Refresh(ctx context.Context) error {
	used, err := m.deps.Backend.GetUserVotesUsed(ctx, m.userID)
	if err != nil {
		return fmt.Errorf("%w: votes used: %v", ErrBackend, err)
	}
	votes, err := m.deps.Backend.ListUserVotes(ctx, m.userID)
	if err != nil {
		return fmt.Errorf("%w: list votes: %v", ErrBackend, err)
	}

	remaining := model.TotalVotes - used
	if remaining < 0 {
		m.log.WithField("used", used).Warn("vote budget overspent")
		remaining = 0
	}
	m.remaining = remaining
	m.votes = votes
	m.loaded = true
	return nil
}

func (m *Manager) ensureLoaded(ctx context.Context) error {
	if m.loaded {
		return nil
	}
	return m.Refresh(ctx)
}

// RemainingVotes is the budget left as of the last refresh.
func (m *Manager) RemainingVotes() int { return m.remaining }

// AllVotes returns the user's votes, largest allocation first.
func (m *Manager) AllVotes() []model.VoteCandidate {
	out := make([]model.VoteCandidate, len(m.votes))
	copy(out, m.votes)
	return out
}

// VotesOn is the user's current allocation on featureID.
func (m *Manager) VotesOn(featureID string) int {
	for _, v := range m.votes {
		if v.FeatureID == featureID {
			return v.VotesAllocated
		}
	}
	return 0
}

// CanIncrement gates the +1 control. It only looks at the remaining budget.
func (m *Manager) CanIncrement(featureID string) bool {
	return m.remaining > 0
}

// CanDecrement gates the -1 control.
func (m *Manager) CanDecrement(featureID string) bool {
	return m.VotesOn(featureID) > 0
}

// ProposeAllocation asks to set the user's allocation on featureID to desired.
func (m *Manager) ProposeAllocation(ctx context.Context, featureID string, desired int, policy Policy) (Result, error) {
	if featureID == "" {
		return Result{}, ErrInvalidFeature
	}
	if desired < 0 || desired > model.TotalVotes {
		return Result{}, ErrInvalidVotes
	}

	unlock, err := m.lock(ctx)
	if err != nil {
		return Result{}, err
	}
	defer m.flushEvents(ctx)
	defer unlock()

	if err := m.Refresh(ctx); err != nil {
		return Result{}, err
	}
	return m.propose(ctx, featureID, desired, policy)
}

func (m *Manager) propose(ctx context.Context, featureID string, desired int, policy Policy) (Result, error) {
	existing, found, err := m.deps.Backend.GetVote(ctx, featureID, m.userID)
	if err != nil {
		return Result{}, fmt.Errorf("%w: get vote: %v", ErrBackend, err)
	}
	current := 0
	if found {
		current = existing.VotesAllocated
	}

	delta := desired - current
	if delta == 0 {
		return Result{
			Outcome:        OutcomeApplied,
			FeatureID:      featureID,
			Votes:          current,
			RemainingVotes: m.remaining,
		}, nil
	}

	if delta > 0 {
		if _, err := m.deps.Backend.GetFeatureRequest(ctx, featureID); err != nil {
			if errors.Is(err, ErrFeatureNotFound) {
				return Result{}, err
			}
			return Result{}, fmt.Errorf("%w: get feature: %v", ErrBackend, err)
		}
	}

	if delta <= m.remaining {
		return m.apply(ctx, featureID, desired)
	}
	if !policy.AllowWithdrawalNegotiation {
		return Result{}, ErrInsufficientVotes
	}

	p := PendingProposal{
		UserID:       m.userID,
		FeatureID:    featureID,
		DesiredVotes: desired,
		VotesNeeded:  delta - m.remaining,
		Candidates:   m.candidatesExcept(featureID),
		CreatedAt:    m.deps.Now(),
	}
	if err := m.deps.Pending.PutPending(ctx, p, m.deps.PendingTTL); err != nil {
		return Result{}, fmt.Errorf("%w: save pending: %v", ErrBackend, err)
	}
	m.log.WithFields(log.Fields{
		"feature_id":   featureID,
		"desired":      desired,
		"votes_needed": p.VotesNeeded,
	}).Info("allocation needs withdrawal")

	return Result{
		Outcome:        OutcomeWithdrawalRequired,
		FeatureID:      featureID,
		Votes:          current,
		VotesNeeded:    p.VotesNeeded,
		Candidates:     p.Candidates,
		RemainingVotes: m.remaining,
	}, nil
}

// apply writes the allocation and re-derives the budget from the backend.
func (m *Manager) apply(ctx context.Context, featureID string, desired int) (Result, error) {
	var err error
	if desired == 0 {
		err = m.deps.Backend.DeleteVote(ctx, featureID, m.userID)
	} else {
		err = m.deps.Backend.SaveVote(ctx, featureID, m.userID, desired)
	}
	if err != nil {
		m.log.WithError(err).WithField("feature_id", featureID).Error("vote write failed")
		return Result{}, fmt.Errorf("%w: write vote: %v", ErrBackend, err)
	}
	m.publish(VoteEvent{Type: EventAllocated, FeatureIDs: []string{featureID}, Votes: desired})

	res := Result{Outcome: OutcomeApplied, FeatureID: featureID, Votes: desired, Changed: true}
	if err := m.Refresh(ctx); err != nil {
		m.loaded = false
		return res, err
	}
	res.RemainingVotes = m.remaining

	m.log.WithFields(log.Fields{
		"feature_id": featureID,
		"votes":      desired,
		"remaining":  m.remaining,
	}).Info("votes allocated")
	return res, nil
}

func (m *Manager) candidatesExcept(featureID string) []model.VoteCandidate {
	out := make([]model.VoteCandidate, 0, len(m.votes))
	for _, v := range m.votes {
		if v.FeatureID != featureID {
			out = append(out, v)
		}
	}
	return out
}

// Pending returns the proposal waiting for withdrawal, if any.
func (m *Manager) Pending(ctx context.Context) (PendingProposal, bool, error) {
	p, ok, err := m.deps.Pending.GetPending(ctx, m.userID)
	if err != nil {
		return PendingProposal{}, false, fmt.Errorf("%w: load pending: %v", ErrBackend, err)
	}
	return p, ok, nil
}

// SelectWithdrawalCandidates totals the selected votes against the pending
// proposal, using the user's current votes and budget.
func (m *Manager) SelectWithdrawalCandidates(ctx context.Context, featureIDs []string) (Selection, error) {
	p, ok, err := m.Pending(ctx)
	if err != nil {
		return Selection{}, err
	}
	if !ok {
		return Selection{}, ErrNoPendingProposal
	}
	if err := m.Refresh(ctx); err != nil {
		return Selection{}, err
	}
	return m.selectionOf(p, dedupe(featureIDs))
}

// selectionOf checks ids against the proposal's candidates and totals them
// from the votes of the last refresh. VotesNeeded is recomputed the same way,
// so votes changed since the proposal was made are accounted for.
func (m *Manager) selectionOf(p PendingProposal, ids []string) (Selection, error) {
	total := 0
	for _, id := range ids {
		if !isCandidate(p, id) {
			return Selection{}, fmt.Errorf("%w: %s", ErrUnknownCandidate, id)
		}
		votes := m.VotesOn(id)
		if votes == 0 {
			return Selection{}, fmt.Errorf("%w: %s was already withdrawn", ErrUnknownCandidate, id)
		}
		total += votes
	}
	needed := p.DesiredVotes - m.VotesOn(p.FeatureID) - m.remaining
	if needed < 0 {
		needed = 0
	}
	return Selection{
		SelectedTotal: total,
		VotesNeeded:   needed,
		CanProceed:    total >= needed,
	}, nil
}

func isCandidate(p PendingProposal, featureID string) bool {
	if featureID == p.FeatureID {
		return false
	}
	for _, c := range p.Candidates {
		if c.FeatureID == featureID {
			return true
		}
	}
	return false
}

// ConfirmWithdrawal removes the selected votes entirely and applies the
// pending allocation in the same backend transaction. Nothing is written
// unless the selection covers the votes needed right now.
func (m *Manager) ConfirmWithdrawal(ctx context.Context, featureIDs []string) (Result, error) {
	unlock, err := m.lock(ctx)
	if err != nil {
		return Result{}, err
	}
	defer m.flushEvents(ctx)
	defer unlock()

	p, ok, err := m.Pending(ctx)
	if err != nil {
		return Result{}, err
	}
	if !ok {
		return Result{}, ErrNoPendingProposal
	}
	if err := m.Refresh(ctx); err != nil {
		return Result{}, err
	}
	ids := dedupe(featureIDs)
	sel, err := m.selectionOf(p, ids)
	if err != nil {
		return Result{}, err
	}
	if !sel.CanProceed {
		return Result{}, ErrInsufficientSelection
	}
	if _, err := m.deps.Backend.GetFeatureRequest(ctx, p.FeatureID); err != nil {
		if errors.Is(err, ErrFeatureNotFound) {
			return Result{}, err
		}
		return Result{}, fmt.Errorf("%w: get feature: %v", ErrBackend, err)
	}

	if err := m.deps.Backend.ReallocateVotes(ctx, m.userID, ids, p.FeatureID, p.DesiredVotes); err != nil {
		m.log.WithError(err).WithField("feature_ids", ids).Error("withdrawal failed")
		return Result{}, fmt.Errorf("%w: withdraw votes: %v", ErrBackend, err)
	}
	m.publish(VoteEvent{Type: EventWithdrawn, FeatureIDs: ids})
	m.publish(VoteEvent{Type: EventAllocated, FeatureIDs: []string{p.FeatureID}, Votes: p.DesiredVotes})
	m.log.WithFields(log.Fields{
		"feature_ids": ids,
		"freed":       sel.SelectedTotal,
		"feature_id":  p.FeatureID,
		"votes":       p.DesiredVotes,
	}).Info("votes withdrawn and reallocated")

	if err := m.deps.Pending.DeletePending(ctx, m.userID); err != nil {
		m.log.WithError(err).Warn("failed to clear pending proposal")
	}

	res := Result{Outcome: OutcomeApplied, FeatureID: p.FeatureID, Votes: p.DesiredVotes, Changed: true}
	if err := m.Refresh(ctx); err != nil {
		m.loaded = false
		return res, err
	}
	res.RemainingVotes = m.remaining
	return res, nil
}

// CancelWithdrawal drops the pending proposal without touching any vote.
func (m *Manager) CancelWithdrawal(ctx context.Context) error {
	if err := m.deps.Pending.DeletePending(ctx, m.userID); err != nil {
		return fmt.Errorf("%w: clear pending: %v", ErrBackend, err)
	}
	return nil
}

// IncrementVote adds one vote to featureID. It is disabled, not negotiated,
// when no votes remain.
func (m *Manager) IncrementVote(ctx context.Context, featureID string) (Result, error) {
	return m.adjust(ctx, featureID, 1)
}

// DecrementVote removes one vote from featureID. It is disabled when the
// user has no vote on the feature.
func (m *Manager) DecrementVote(ctx context.Context, featureID string) (Result, error) {
	return m.adjust(ctx, featureID, -1)
}

func (m *Manager) adjust(ctx context.Context, featureID string, step int) (Result, error) {
	if featureID == "" {
		return Result{}, ErrInvalidFeature
	}
	if err := m.ensureLoaded(ctx); err != nil {
		return Result{}, err
	}
	if step > 0 && !m.CanIncrement(featureID) {
		return Result{}, ErrIncrementDisabled
	}
	if step < 0 && !m.CanDecrement(featureID) {
		return Result{}, ErrDecrementDisabled
	}

	unlock, err := m.lock(ctx)
	if err != nil {
		return Result{}, err
	}
	defer m.flushEvents(ctx)
	defer unlock()

	if err := m.Refresh(ctx); err != nil {
		return Result{}, err
	}
	current := m.VotesOn(featureID)
	if step < 0 && current == 0 {
		return Result{}, ErrDecrementDisabled
	}
	if step > 0 && m.remaining <= 0 {
		return Result{}, ErrIncrementDisabled
	}

	res, err := m.propose(ctx, featureID, current+step, QuickAdjustPolicy)
	if errors.Is(err, ErrInsufficientVotes) {
		return Result{}, ErrIncrementDisabled
	}
	return res, err
}

func (m *Manager) lock(ctx context.Context) (func(), error) {
	if m.deps.Locker == nil {
		return func() {}, nil
	}
	unlock, err := m.deps.Locker.Lock(ctx, m.userID)
	if err != nil {
		if errors.Is(err, ErrLockTimeout) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: lock: %v", ErrBackend, err)
	}
	return unlock, nil
}

// publish queues e until flushEvents runs after the lock is released.
func (m *Manager) publish(e VoteEvent) {
	if m.deps.Publisher == nil {
		return
	}
	e.UserID = m.userID
	e.OccurredAt = m.deps.Now()
	m.events = append(m.events, e)
}

// flushEvents hands queued events to the publisher, each bounded by PublishTimeout.
func (m *Manager) flushEvents(ctx context.Context) {
	events := m.events
	m.events = nil
	for _, e := range events {
		pctx, cancel := context.WithTimeout(ctx, m.deps.PublishTimeout)
		err := m.deps.Publisher.Publish(pctx, e)
		cancel()
		if err != nil {
			m.log.WithError(err).WithField("event", e.Type).Warn("vote event not published")
		}
	}
}

func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}
