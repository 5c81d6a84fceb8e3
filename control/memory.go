package control

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"VoteBoard/budget"
	"VoteBoard/model"
)

type voteKey struct {
	featureID string
	userID    string
}

type pendingRecord struct {
	proposal  budget.PendingProposal
	expiresAt time.Time
}

// MemoryStore is a process-local Store. It also provides the pending
// proposal store and per-user locks for single-instance deployments.
type MemoryStore struct {
	mu sync.RWMutex

	features map[string]model.FeatureRequest
	votes    map[voteKey]model.Vote
	comments map[string]model.Comment
	pending  map[string]pendingRecord

	locksMu sync.Mutex
	locks   map[string]chan struct{}

	now func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		features: make(map[string]model.FeatureRequest),
		votes:    make(map[voteKey]model.Vote),
		comments: make(map[string]model.Comment),
		pending:  make(map[string]pendingRecord),
		locks:    make(map[string]chan struct{}),
		now:      time.Now,
	}
}

func (s *MemoryStore) CreateFeatureRequest(_ context.Context, fr model.FeatureRequest) (model.FeatureRequest, error) {
	if err := ValidateFeatureRequest(fr); err != nil {
		return model.FeatureRequest{}, err
	}
	fr = normalizeFeature(fr)
	fr.ID = uuid.NewString()
	fr.CreatedAt = s.now()
	fr.UpdatedAt = fr.CreatedAt

	s.mu.Lock()
	defer s.mu.Unlock()
	s.features[fr.ID] = fr
	return fr, nil
}

func (s *MemoryStore) GetFeatureRequest(_ context.Context, featureID string) (model.FeatureRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	fr, ok := s.features[featureID]
	if !ok {
		return model.FeatureRequest{}, budget.ErrFeatureNotFound
	}
	return fr, nil
}

func (s *MemoryStore) ListFeatureRequests(_ context.Context, f model.FeatureFilter) ([]model.FeatureRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	module := strings.TrimSpace(f.Module)
	out := make([]model.FeatureRequest, 0, len(s.features))
	for _, fr := range s.features {
		if f.Status != "" && fr.Status != f.Status {
			continue
		}
		if module != "" && fr.Module != module {
			continue
		}
		out = append(out, fr)
	}
	sort.Slice(out, func(i, j int) bool {
		if f.Sort != model.SortNewest && out[i].VoteCount != out[j].VoteCount {
			return out[i].VoteCount > out[j].VoteCount
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (s *MemoryStore) GetVote(_ context.Context, featureID, userID string) (model.Vote, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.votes[voteKey{featureID, userID}]
	return v, ok, nil
}

func (s *MemoryStore) SaveVote(_ context.Context, featureID, userID string, votes int) error {
	if err := validateVotes(votes); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.features[featureID]; !ok {
		return budget.ErrFeatureNotFound
	}
	s.saveLocked(featureID, userID, votes)
	return nil
}

func (s *MemoryStore) saveLocked(featureID, userID string, votes int) {
	now := s.now()
	k := voteKey{featureID, userID}
	v, ok := s.votes[k]
	if !ok {
		v = model.Vote{FeatureID: featureID, UserID: userID, CreatedAt: now}
	}
	v.VotesAllocated = votes
	v.UpdatedAt = now
	s.votes[k] = v
	s.recountLocked(featureID)
}

func (s *MemoryStore) DeleteVote(_ context.Context, featureID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.votes, voteKey{featureID, userID})
	s.recountLocked(featureID)
	return nil
}

func (s *MemoryStore) ReallocateVotes(_ context.Context, userID string, withdrawIDs []string, featureID string, votes int) error {
	if err := validateVotes(votes); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.features[featureID]; !ok {
		return budget.ErrFeatureNotFound
	}
	for _, id := range withdrawIDs {
		delete(s.votes, voteKey{id, userID})
		s.recountLocked(id)
	}
	s.saveLocked(featureID, userID, votes)
	return nil
}

func (s *MemoryStore) recountLocked(featureID string) {
	fr, ok := s.features[featureID]
	if !ok {
		return
	}
	total := 0
	for k, v := range s.votes {
		if k.featureID == featureID {
			total += v.VotesAllocated
		}
	}
	fr.VoteCount = total
	fr.UpdatedAt = s.now()
	s.features[featureID] = fr
}

func (s *MemoryStore) ListUserVotes(_ context.Context, userID string) ([]model.VoteCandidate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.VoteCandidate
	for k, v := range s.votes {
		if k.userID != userID {
			continue
		}
		fr, ok := s.features[k.featureID]
		if !ok {
			continue
		}
		out = append(out, model.VoteCandidate{
			FeatureID:      k.featureID,
			Title:          fr.Title,
			Module:         fr.Module,
			VotesAllocated: v.VotesAllocated,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].VotesAllocated != out[j].VotesAllocated {
			return out[i].VotesAllocated > out[j].VotesAllocated
		}
		return out[i].Title < out[j].Title
	})
	return out, nil
}

func (s *MemoryStore) GetUserVotesUsed(_ context.Context, userID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	used := 0
	for k, v := range s.votes {
		if k.userID == userID {
			used += v.VotesAllocated
		}
	}
	return used, nil
}

func (s *MemoryStore) AddComment(_ context.Context, featureID, userID, body string) (model.Comment, error) {
	if err := validateComment(body); err != nil {
		return model.Comment{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.features[featureID]; !ok {
		return model.Comment{}, budget.ErrFeatureNotFound
	}
	c := model.Comment{
		ID:        uuid.NewString(),
		FeatureID: featureID,
		UserID:    userID,
		Body:      strings.TrimSpace(body),
		CreatedAt: s.now(),
	}
	s.comments[c.ID] = c
	return c, nil
}

func (s *MemoryStore) ListComments(_ context.Context, featureID string) ([]model.Comment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Comment
	for _, c := range s.comments {
		if c.FeatureID == featureID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) DeleteComment(_ context.Context, commentID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.comments[commentID]
	if !ok || c.UserID != userID {
		return ErrCommentNotFound
	}
	delete(s.comments, commentID)
	return nil
}

func (s *MemoryStore) GetPending(_ context.Context, userID string) (budget.PendingProposal, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.pending[userID]
	if !ok {
		return budget.PendingProposal{}, false, nil
	}
	if s.now().After(rec.expiresAt) {
		delete(s.pending, userID)
		return budget.PendingProposal{}, false, nil
	}
	return rec.proposal, true, nil
}

func (s *MemoryStore) PutPending(_ context.Context, p budget.PendingProposal, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending[p.UserID] = pendingRecord{proposal: p, expiresAt: s.now().Add(ttl)}
	return nil
}

func (s *MemoryStore) DeletePending(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pending, userID)
	return nil
}

// Lock blocks until the user's lock is free or ctx is done.
func (s *MemoryStore) Lock(ctx context.Context, userID string) (func(), error) {
	s.locksMu.Lock()
	ch, ok := s.locks[userID]
	if !ok {
		ch = make(chan struct{}, 1)
		s.locks[userID] = ch
	}
	s.locksMu.Unlock()

	select {
	case ch <- struct{}{}:
		var once sync.Once
		return func() { once.Do(func() { <-ch }) }, nil
	case <-ctx.Done():
		return nil, budget.ErrLockTimeout
	}
}
