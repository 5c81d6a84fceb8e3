package control

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"VoteBoard/budget"
	"VoteBoard/model"
)

// Store keeps feature requests, votes and comments in a relational database.
// vote_count on feature_requests is recomputed in the same transaction as every vote write.
type Store struct {
	db  *gorm.DB
	now func() time.Time
}

func NewStore(gdb *gorm.DB) *Store {
	return &Store{db: gdb, now: time.Now}
}

func (s *Store) CreateFeatureRequest(ctx context.Context, fr model.FeatureRequest) (model.FeatureRequest, error) {
	if err := ValidateFeatureRequest(fr); err != nil {
		return model.FeatureRequest{}, err
	}
	fr = normalizeFeature(fr)
	fr.ID = uuid.NewString()
	fr.CreatedAt = s.now()
	fr.UpdatedAt = fr.CreatedAt

	if err := s.db.WithContext(ctx).Create(&fr).Error; err != nil {
		return model.FeatureRequest{}, fmt.Errorf("create feature request: %w", err)
	}
	return fr, nil
}

func (s *Store) GetFeatureRequest(ctx context.Context, featureID string) (model.FeatureRequest, error) {
	var fr model.FeatureRequest
	err := s.db.WithContext(ctx).Where("id = ?", featureID).First(&fr).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return model.FeatureRequest{}, budget.ErrFeatureNotFound
	}
	if err != nil {
		return model.FeatureRequest{}, fmt.Errorf("get feature request %s: %w", featureID, err)
	}
	return fr, nil
}

func (s *Store) ListFeatureRequests(ctx context.Context, f model.FeatureFilter) ([]model.FeatureRequest, error) {
	q := s.db.WithContext(ctx).Model(&model.FeatureRequest{})
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	if m := strings.TrimSpace(f.Module); m != "" {
		q = q.Where("module = ?", m)
	}
	switch f.Sort {
	case model.SortNewest:
		q = q.Order("created_at DESC")
	default:
		q = q.Order("vote_count DESC").Order("created_at DESC")
	}

	var out []model.FeatureRequest
	if err := q.Find(&out).Error; err != nil {
		return nil, fmt.Errorf("list feature requests: %w", err)
	}
	return out, nil
}

func (s *Store) GetVote(ctx context.Context, featureID, userID string) (model.Vote, bool, error) {
	var v model.Vote
	err := s.db.WithContext(ctx).
		Where("feature_id = ? AND user_id = ?", featureID, userID).
		First(&v).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return model.Vote{}, false, nil
	}
	if err != nil {
		return model.Vote{}, false, fmt.Errorf("get vote: %w", err)
	}
	return v, true, nil
}

func (s *Store) SaveVote(ctx context.Context, featureID, userID string, votes int) error {
	if err := validateVotes(votes); err != nil {
		return err
	}
	now := s.now()
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := upsertVote(tx, featureID, userID, votes, now); err != nil {
			return err
		}
		return recountVotes(tx, featureID)
	})
}

func upsertVote(tx *gorm.DB, featureID, userID string, votes int, now time.Time) error {
	v := model.Vote{
		FeatureID:      featureID,
		UserID:         userID,
		VotesAllocated: votes,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	err := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "feature_id"}, {Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"votes_allocated", "updated_at"}),
	}).Create(&v).Error
	if err != nil {
		return fmt.Errorf("save vote: %w", err)
	}
	return nil
}

func (s *Store) DeleteVote(ctx context.Context, featureID, userID string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Where("feature_id = ? AND user_id = ?", featureID, userID).
			Delete(&model.Vote{}).Error
		if err != nil {
			return fmt.Errorf("delete vote: %w", err)
		}
		return recountVotes(tx, featureID)
	})
}

// ReallocateVotes withdraws the user's votes on withdrawIDs and saves votes
// on featureID. Either all of it is committed or none.
func (s *Store) ReallocateVotes(ctx context.Context, userID string, withdrawIDs []string, featureID string, votes int) error {
	if err := validateVotes(votes); err != nil {
		return err
	}
	now := s.now()
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if len(withdrawIDs) > 0 {
			err := tx.Where("user_id = ? AND feature_id IN ?", userID, withdrawIDs).
				Delete(&model.Vote{}).Error
			if err != nil {
				return fmt.Errorf("withdraw votes: %w", err)
			}
		}
		if err := upsertVote(tx, featureID, userID, votes, now); err != nil {
			return err
		}
		touched := append([]string{featureID}, withdrawIDs...)
		for _, id := range touched {
			if err := recountVotes(tx, id); err != nil {
				return err
			}
		}
		return nil
	})
}

// recountVotes sets feature_requests.vote_count from feature_votes.
func recountVotes(tx *gorm.DB, featureID string) error {
	sum := tx.Model(&model.Vote{}).
		Select("COALESCE(SUM(votes_allocated), 0)").
		Where("feature_id = ?", featureID)
	err := tx.Model(&model.FeatureRequest{}).
		Where("id = ?", featureID).
		Update("vote_count", sum).Error
	if err != nil {
		return fmt.Errorf("recount votes for %s: %w", featureID, err)
	}
	return nil
}

func (s *Store) ListUserVotes(ctx context.Context, userID string) ([]model.VoteCandidate, error) {
	var out []model.VoteCandidate
	err := s.db.WithContext(ctx).
		Table("feature_votes AS v").
		Select("v.feature_id, f.title, f.module, v.votes_allocated").
		Joins("JOIN feature_requests AS f ON f.id = v.feature_id").
		Where("v.user_id = ?", userID).
		Order("v.votes_allocated DESC").
		Order("f.title ASC").
		Scan(&out).Error
	if err != nil {
		return nil, fmt.Errorf("list user votes: %w", err)
	}
	return out, nil
}

// GetUserVotesUsed is the authoritative sum of the user's allocations.
func (s *Store) GetUserVotesUsed(ctx context.Context, userID string) (int, error) {
	var used int64
	err := s.db.WithContext(ctx).
		Model(&model.Vote{}).
		Select("COALESCE(SUM(votes_allocated), 0)").
		Where("user_id = ?", userID).
		Row().
		Scan(&used)
	if err != nil {
		return 0, fmt.Errorf("votes used: %w", err)
	}
	return int(used), nil
}

func (s *Store) AddComment(ctx context.Context, featureID, userID, body string) (model.Comment, error) {
	if err := validateComment(body); err != nil {
		return model.Comment{}, err
	}
	if _, err := s.GetFeatureRequest(ctx, featureID); err != nil {
		return model.Comment{}, err
	}
	c := model.Comment{
		ID:        uuid.NewString(),
		FeatureID: featureID,
		UserID:    userID,
		Body:      strings.TrimSpace(body),
		CreatedAt: s.now(),
	}
	if err := s.db.WithContext(ctx).Create(&c).Error; err != nil {
		return model.Comment{}, fmt.Errorf("add comment: %w", err)
	}
	return c, nil
}

func (s *Store) ListComments(ctx context.Context, featureID string) ([]model.Comment, error) {
	var out []model.Comment
	err := s.db.WithContext(ctx).
		Where("feature_id = ?", featureID).
		Order("created_at ASC").
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("list comments: %w", err)
	}
	return out, nil
}

func (s *Store) DeleteComment(ctx context.Context, commentID, userID string) error {
	res := s.db.WithContext(ctx).
		Where("id = ? AND user_id = ?", commentID, userID).
		Delete(&model.Comment{})
	if res.Error != nil {
		return fmt.Errorf("delete comment: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrCommentNotFound
	}
	return nil
}
