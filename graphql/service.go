package graphql

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"VoteBoard/budget"
	"VoteBoard/control"
	"VoteBoard/model"
)

// FeatureStore is everything the API reads and writes besides the budget flow.
type FeatureStore interface {
	budget.Backend
	CreateFeatureRequest(ctx context.Context, fr model.FeatureRequest) (model.FeatureRequest, error)
	ListFeatureRequests(ctx context.Context, f model.FeatureFilter) ([]model.FeatureRequest, error)
	AddComment(ctx context.Context, featureID, userID, body string) (model.Comment, error)
	ListComments(ctx context.Context, featureID string) ([]model.Comment, error)
	DeleteComment(ctx context.Context, commentID, userID string) error
}

type CountReader interface {
	Get(ctx context.Context, featureID string) (int, error)
}

// Service backs the schema resolvers. One budget.Manager is built per request.
type Service struct {
	Store      FeatureStore
	Pending    budget.PendingStore
	Locker     budget.Locker
	Publisher  budget.Publisher
	Counts     CountReader // optional display cache
	PendingTTL time.Duration

	PublishTimeout time.Duration
}

func (s *Service) manager(ctx context.Context) (*budget.Manager, error) {
	return budget.New(UserFromContext(ctx), budget.Deps{
		Backend:    s.Store,
		Pending:    s.Pending,
		Locker:     s.Locker,
		Publisher:  s.Publisher,
		PendingTTL: s.PendingTTL,

		PublishTimeout: s.PublishTimeout,
	})
}

// loadedManager returns a manager whose budget state has been pulled from the store.
func (s *Service) loadedManager(ctx context.Context) (*budget.Manager, error) {
	m, err := s.manager(ctx)
	if err != nil {
		return nil, err
	}
	if err := m.Refresh(ctx); err != nil {
		return nil, err
	}
	return m, nil
}

func (s *Service) CreateFeatureRequest(ctx context.Context, fr model.FeatureRequest, votes int) (model.FeatureRequest, *budget.Result, error) {
	userID := UserFromContext(ctx)
	if userID == "" {
		return model.FeatureRequest{}, nil, budget.ErrUnauthenticated
	}
	if votes < 0 || votes > model.TotalVotes {
		return model.FeatureRequest{}, nil, budget.ErrInvalidVotes
	}
	if err := control.ValidateFeatureRequest(fr); err != nil {
		return model.FeatureRequest{}, nil, err
	}

	fr.CreatedBy = userID
	fr.Status = model.StatusOpen
	created, err := s.Store.CreateFeatureRequest(ctx, fr)
	if err != nil {
		return model.FeatureRequest{}, nil, storeError(err)
	}
	log.WithFields(log.Fields{"user_id": userID, "feature_id": created.ID}).Info("feature request created")
	if votes == 0 {
		return created, nil, nil
	}

	m, err := s.manager(ctx)
	if err != nil {
		return created, nil, err
	}
	res, err := m.ProposeAllocation(ctx, created.ID, votes, budget.SliderPolicy)
	if err != nil {
		return created, nil, err
	}
	if res.Outcome == budget.OutcomeApplied {
		// Re-read so the returned request carries the new vote_count.
		if fresh, err := s.Store.GetFeatureRequest(ctx, created.ID); err == nil {
			created = fresh
		}
	}
	return created, &res, nil
}

func (s *Service) ProposeAllocation(ctx context.Context, featureID string, votes int, allowWithdrawal bool) (budget.Result, error) {
	m, err := s.manager(ctx)
	if err != nil {
		return budget.Result{}, err
	}
	return m.ProposeAllocation(ctx, featureID, votes, budget.Policy{AllowWithdrawalNegotiation: allowWithdrawal})
}

func (s *Service) SelectWithdrawalCandidates(ctx context.Context, featureIDs []string) (budget.Selection, error) {
	m, err := s.manager(ctx)
	if err != nil {
		return budget.Selection{}, err
	}
	return m.SelectWithdrawalCandidates(ctx, featureIDs)
}

func (s *Service) ConfirmWithdrawal(ctx context.Context, featureIDs []string) (budget.Result, error) {
	m, err := s.manager(ctx)
	if err != nil {
		return budget.Result{}, err
	}
	return m.ConfirmWithdrawal(ctx, featureIDs)
}

func (s *Service) CancelWithdrawal(ctx context.Context) error {
	m, err := s.manager(ctx)
	if err != nil {
		return err
	}
	return m.CancelWithdrawal(ctx)
}

func (s *Service) PendingWithdrawal(ctx context.Context) (*budget.PendingProposal, error) {
	m, err := s.manager(ctx)
	if err != nil {
		return nil, err
	}
	p, ok, err := m.Pending(ctx)
	if err != nil || !ok {
		return nil, err
	}
	return &p, nil
}

func (s *Service) IncrementVote(ctx context.Context, featureID string) (budget.Result, error) {
	m, err := s.loadedManager(ctx)
	if err != nil {
		return budget.Result{}, err
	}
	return m.IncrementVote(ctx, featureID)
}

func (s *Service) DecrementVote(ctx context.Context, featureID string) (budget.Result, error) {
	m, err := s.loadedManager(ctx)
	if err != nil {
		return budget.Result{}, err
	}
	return m.DecrementVote(ctx, featureID)
}

// VoteControls is the state of the +1/-1 controls on one feature card.
type VoteControls struct {
	FeatureID      string
	Votes          int
	CanIncrement   bool
	CanDecrement   bool
	RemainingVotes int
}

func (s *Service) VoteControls(ctx context.Context, featureID string) (VoteControls, error) {
	m, err := s.loadedManager(ctx)
	if err != nil {
		return VoteControls{}, err
	}
	return VoteControls{
		FeatureID:      featureID,
		Votes:          m.VotesOn(featureID),
		CanIncrement:   m.CanIncrement(featureID),
		CanDecrement:   m.CanDecrement(featureID),
		RemainingVotes: m.RemainingVotes(),
	}, nil
}

func (s *Service) MyVotes(ctx context.Context) ([]model.VoteCandidate, error) {
	m, err := s.loadedManager(ctx)
	if err != nil {
		return nil, err
	}
	return m.AllVotes(), nil
}

func (s *Service) RemainingVotes(ctx context.Context) (int, error) {
	m, err := s.loadedManager(ctx)
	if err != nil {
		return 0, err
	}
	return m.RemainingVotes(), nil
}

func (s *Service) FeatureVoteCount(ctx context.Context, featureID string) (int, error) {
	if s.Counts != nil {
		n, err := s.Counts.Get(ctx, featureID)
		return n, storeError(err)
	}
	fr, err := s.Store.GetFeatureRequest(ctx, featureID)
	if err != nil {
		return 0, storeError(err)
	}
	return fr.VoteCount, nil
}

func (s *Service) AddComment(ctx context.Context, featureID, body string) (model.Comment, error) {
	userID := UserFromContext(ctx)
	if userID == "" {
		return model.Comment{}, budget.ErrUnauthenticated
	}
	c, err := s.Store.AddComment(ctx, featureID, userID, body)
	return c, storeError(err)
}

func (s *Service) DeleteComment(ctx context.Context, commentID string) error {
	userID := UserFromContext(ctx)
	if userID == "" {
		return budget.ErrUnauthenticated
	}
	return storeError(s.Store.DeleteComment(ctx, commentID, userID))
}

func (s *Service) ListFeatureRequests(ctx context.Context, f model.FeatureFilter) ([]model.FeatureRequest, error) {
	out, err := s.Store.ListFeatureRequests(ctx, f)
	return out, storeError(err)
}

func (s *Service) GetFeatureRequest(ctx context.Context, featureID string) (model.FeatureRequest, error) {
	fr, err := s.Store.GetFeatureRequest(ctx, featureID)
	return fr, storeError(err)
}

func (s *Service) ListComments(ctx context.Context, featureID string) ([]model.Comment, error) {
	out, err := s.Store.ListComments(ctx, featureID)
	return out, storeError(err)
}

// storeError marks unexpected store failures as backend errors.
func storeError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, control.ErrValidation),
		errors.Is(err, control.ErrCommentNotFound),
		errors.Is(err, budget.ErrFeatureNotFound),
		errors.Is(err, budget.ErrBackend):
		return err
	}
	return fmt.Errorf("%w: %v", budget.ErrBackend, err)
}

// publicError hides storage details from API clients.
func publicError(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, budget.ErrBackend) {
		log.WithError(err).WithField("user_id", UserFromContext(ctx)).Error("backend request failed")
		return budget.ErrBackend
	}
	return err
}
