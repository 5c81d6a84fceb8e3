package control

import (
	"context"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"VoteBoard/budget"
	"VoteBoard/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	gdb, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := gdb.DB()
	require.NoError(t, err)
	// Every connection to :memory: is a separate database.
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, gdb.AutoMigrate(&model.FeatureRequest{}, &model.Vote{}, &model.Comment{}))

	s := NewStore(gdb)
	clock := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	s.now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}
	return s
}

func createFeature(t *testing.T, s *Store, title, module string) model.FeatureRequest {
	t.Helper()
	fr, err := s.CreateFeatureRequest(context.Background(), model.FeatureRequest{
		Title:       title,
		Description: "as a user I want " + title,
		Module:      module,
	})
	require.NoError(t, err)
	return fr
}

func TestStoreCreateFeatureRequest(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	fr, err := s.CreateFeatureRequest(ctx, model.FeatureRequest{
		Title:       "  Dark mode ",
		Description: "please",
		Module:      "settings",
		VoteCount:   99,
		CreatedBy:   "u1",
	})
	require.NoError(t, err)
	assert.Len(t, fr.ID, 36)
	assert.Equal(t, "Dark mode", fr.Title)
	assert.Equal(t, model.StatusOpen, fr.Status)
	assert.Zero(t, fr.VoteCount, "vote count is never taken from input")

	got, err := s.GetFeatureRequest(ctx, fr.ID)
	require.NoError(t, err)
	assert.Equal(t, fr.Title, got.Title)
	assert.Equal(t, "u1", got.CreatedBy)

	_, err = s.GetFeatureRequest(ctx, "missing")
	assert.ErrorIs(t, err, budget.ErrFeatureNotFound)

	_, err = s.CreateFeatureRequest(ctx, model.FeatureRequest{Title: "x", Description: "y", Module: "nope"})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestStoreSaveVoteKeepsCountInSync(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	fr := createFeature(t, s, "Export", "crm")

	require.NoError(t, s.SaveVote(ctx, fr.ID, "u1", 3))
	require.NoError(t, s.SaveVote(ctx, fr.ID, "u2", 4))
	require.NoError(t, s.SaveVote(ctx, fr.ID, "u1", 5), "second save updates the same row")

	v, found, err := s.GetVote(ctx, fr.ID, "u1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, 5, v.VotesAllocated)

	got, err := s.GetFeatureRequest(ctx, fr.ID)
	require.NoError(t, err)
	assert.Equal(t, 9, got.VoteCount)

	var rows int64
	require.NoError(t, s.db.Model(&model.Vote{}).Where("feature_id = ?", fr.ID).Count(&rows).Error)
	assert.EqualValues(t, 2, rows)

	assert.ErrorIs(t, s.SaveVote(ctx, fr.ID, "u1", 0), ErrValidation)
	assert.ErrorIs(t, s.SaveVote(ctx, fr.ID, "u1", 11), ErrValidation)
}

func TestStoreReallocateVotes(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	a := createFeature(t, s, "A", "crm")
	b := createFeature(t, s, "B", "invoicing")
	c := createFeature(t, s, "C", "bookings")

	require.NoError(t, s.SaveVote(ctx, a.ID, "u1", 2))
	require.NoError(t, s.SaveVote(ctx, b.ID, "u1", 3))
	require.NoError(t, s.SaveVote(ctx, c.ID, "u1", 4))
	require.NoError(t, s.SaveVote(ctx, b.ID, "u2", 1))
	require.NoError(t, s.DeleteVote(ctx, a.ID, "u1"))

	assert.ErrorIs(t, s.ReallocateVotes(ctx, "u1", []string{b.ID}, a.ID, 11), ErrValidation)
	used, err := s.GetUserVotesUsed(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 7, used, "rejected reallocation writes nothing")

	require.NoError(t, s.ReallocateVotes(ctx, "u1", []string{b.ID, c.ID}, a.ID, 6))

	used, err = s.GetUserVotesUsed(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 6, used)

	counts := map[string]int{a.ID: 6, b.ID: 1, c.ID: 0}
	for id, want := range counts {
		got, err := s.GetFeatureRequest(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, want, got.VoteCount, got.Title)
	}
}

func TestStoreListUserVotes(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	a := createFeature(t, s, "Zebra", "crm")
	b := createFeature(t, s, "Apple", "crm")
	c := createFeature(t, s, "Mango", "crm")

	require.NoError(t, s.SaveVote(ctx, a.ID, "u1", 2))
	require.NoError(t, s.SaveVote(ctx, b.ID, "u1", 2))
	require.NoError(t, s.SaveVote(ctx, c.ID, "u1", 5))
	require.NoError(t, s.SaveVote(ctx, c.ID, "u2", 1))

	votes, err := s.ListUserVotes(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, votes, 3)
	assert.Equal(t, model.VoteCandidate{FeatureID: c.ID, Title: "Mango", Module: "crm", VotesAllocated: 5}, votes[0])
	assert.Equal(t, "Apple", votes[1].Title)
	assert.Equal(t, "Zebra", votes[2].Title)

	used, err := s.GetUserVotesUsed(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 9, used)

	used, err = s.GetUserVotesUsed(ctx, "nobody")
	require.NoError(t, err)
	assert.Zero(t, used)
}

func TestStoreListFeatureRequests(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	old := createFeature(t, s, "Old", "crm")
	mid := createFeature(t, s, "Mid", "invoicing")
	fresh := createFeature(t, s, "Fresh", "crm")

	require.NoError(t, s.SaveVote(ctx, mid.ID, "u1", 6))
	require.NoError(t, s.SaveVote(ctx, old.ID, "u1", 2))

	all, err := s.ListFeatureRequests(ctx, model.FeatureFilter{})
	require.NoError(t, err)
	assert.Equal(t, []string{mid.ID, old.ID, fresh.ID}, ids(all))

	newest, err := s.ListFeatureRequests(ctx, model.FeatureFilter{Sort: model.SortNewest})
	require.NoError(t, err)
	assert.Equal(t, []string{fresh.ID, mid.ID, old.ID}, ids(newest))

	crm, err := s.ListFeatureRequests(ctx, model.FeatureFilter{Module: "crm"})
	require.NoError(t, err)
	assert.Equal(t, []string{old.ID, fresh.ID}, ids(crm))

	done, err := s.ListFeatureRequests(ctx, model.FeatureFilter{Status: model.StatusCompleted})
	require.NoError(t, err)
	assert.Empty(t, done)
}

func ids(frs []model.FeatureRequest) []string {
	out := make([]string, len(frs))
	for i, fr := range frs {
		out[i] = fr.ID
	}
	return out
}

func TestStoreComments(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	fr := createFeature(t, s, "Export", "crm")

	first, err := s.AddComment(ctx, fr.ID, "u1", " +1 from us ")
	require.NoError(t, err)
	assert.Equal(t, "+1 from us", first.Body)
	_, err = s.AddComment(ctx, fr.ID, "u2", "we need csv")
	require.NoError(t, err)

	_, err = s.AddComment(ctx, fr.ID, "u1", "   ")
	assert.ErrorIs(t, err, ErrValidation)
	_, err = s.AddComment(ctx, "missing", "u1", "hi")
	assert.ErrorIs(t, err, budget.ErrFeatureNotFound)

	list, err := s.ListComments(ctx, fr.ID)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, first.ID, list[0].ID)

	assert.ErrorIs(t, s.DeleteComment(ctx, first.ID, "u2"), ErrCommentNotFound, "only the author deletes")
	require.NoError(t, s.DeleteComment(ctx, first.ID, "u1"))
	assert.ErrorIs(t, s.DeleteComment(ctx, first.ID, "u1"), ErrCommentNotFound)
}

// The gorm store drives the full budget flow the same way the memory store does.
func TestStoreBackendWithdrawalFlow(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	a := createFeature(t, s, "A", "crm")
	b := createFeature(t, s, "B", "crm")
	c := createFeature(t, s, "C", "crm")
	require.NoError(t, s.SaveVote(ctx, b.ID, "u1", 2))
	require.NoError(t, s.SaveVote(ctx, c.ID, "u1", 5))

	pending := NewMemoryStore()
	m, err := budget.New("u1", budget.Deps{Backend: s, Pending: pending, Locker: pending})
	require.NoError(t, err)

	res, err := m.ProposeAllocation(ctx, a.ID, 5, budget.SliderPolicy)
	require.NoError(t, err)
	require.Equal(t, budget.OutcomeWithdrawalRequired, res.Outcome)
	require.Equal(t, 2, res.VotesNeeded)

	res, err = m.ConfirmWithdrawal(ctx, []string{b.ID})
	require.NoError(t, err)
	assert.Equal(t, 5, res.Votes)
	assert.Zero(t, res.RemainingVotes)

	got, err := s.GetFeatureRequest(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, got.VoteCount)
	_, found, err := s.GetVote(ctx, b.ID, "u1")
	require.NoError(t, err)
	assert.False(t, found)
}
