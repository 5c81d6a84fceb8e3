package graphql

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/graphql-go/graphql"
	"github.com/graphql-go/handler"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"VoteBoard/budget"
	"VoteBoard/control"
)

func newTestSchema(t *testing.T) (graphql.Schema, *control.MemoryStore) {
	t.Helper()
	mem := control.NewMemoryStore()
	schema, err := NewSchema(&Service{Store: mem, Pending: mem, Locker: mem})
	require.NoError(t, err)
	return schema, mem
}

// run executes query as userID and decodes the data into out.
func run(t *testing.T, schema graphql.Schema, userID, query string, vars map[string]interface{}, out interface{}) []string {
	t.Helper()
	ctx := context.Background()
	if userID != "" {
		ctx = WithUser(ctx, userID)
	}
	r := graphql.Do(graphql.Params{
		Schema:         schema,
		RequestString:  query,
		VariableValues: vars,
		Context:        ctx,
	})
	var msgs []string
	for _, e := range r.Errors {
		msgs = append(msgs, e.Message)
	}
	if out != nil && r.Data != nil {
		raw, err := json.Marshal(r.Data)
		require.NoError(t, err)
		require.NoError(t, json.Unmarshal(raw, out))
	}
	return msgs
}

const createMutation = `
mutation($title: String!, $votes: Int) {
  createFeatureRequest(title: $title, description: "details", module: "crm", votes: $votes) {
    feature { id title status voteCount createdBy }
    allocation { outcome votes remainingVotes }
  }
}`

type createData struct {
	CreateFeatureRequest struct {
		Feature struct {
			ID        string `json:"id"`
			Title     string `json:"title"`
			Status    string `json:"status"`
			VoteCount int    `json:"voteCount"`
			CreatedBy string `json:"createdBy"`
		} `json:"feature"`
		Allocation *allocation `json:"allocation"`
	} `json:"createFeatureRequest"`
}

type candidate struct {
	FeatureID      string `json:"featureId"`
	Title          string `json:"title"`
	VotesAllocated int    `json:"votesAllocated"`
}

type allocation struct {
	Outcome        string      `json:"outcome"`
	FeatureID      string      `json:"featureId"`
	Votes          int         `json:"votes"`
	Changed        bool        `json:"changed"`
	VotesNeeded    int         `json:"votesNeeded"`
	Candidates     []candidate `json:"candidates"`
	RemainingVotes int         `json:"remainingVotes"`
}

func create(t *testing.T, schema graphql.Schema, userID, title string, votes int) string {
	t.Helper()
	var data createData
	errs := run(t, schema, userID, createMutation, map[string]interface{}{"title": title, "votes": votes}, &data)
	require.Empty(t, errs)
	return data.CreateFeatureRequest.Feature.ID
}

func TestCreateFeatureRequestWithVotes(t *testing.T) {
	schema, _ := newTestSchema(t)

	var data createData
	errs := run(t, schema, "u1", createMutation, map[string]interface{}{"title": "Dark mode", "votes": 3}, &data)
	require.Empty(t, errs)

	got := data.CreateFeatureRequest
	assert.Equal(t, "Dark mode", got.Feature.Title)
	assert.Equal(t, "OPEN", got.Feature.Status)
	assert.Equal(t, "u1", got.Feature.CreatedBy)
	assert.Equal(t, 3, got.Feature.VoteCount)
	require.NotNil(t, got.Allocation)
	assert.Equal(t, "APPLIED", got.Allocation.Outcome)
	assert.Equal(t, 7, got.Allocation.RemainingVotes)
}

func TestCreateFeatureRequestRequiresUser(t *testing.T) {
	schema, mem := newTestSchema(t)

	errs := run(t, schema, "", createMutation, map[string]interface{}{"title": "Dark mode"}, nil)
	require.Len(t, errs, 1)
	assert.Equal(t, budget.ErrUnauthenticated.Error(), errs[0])

	used, err := mem.GetUserVotesUsed(context.Background(), "")
	require.NoError(t, err)
	assert.Zero(t, used)
}

func TestWithdrawalOverGraphQL(t *testing.T) {
	schema, _ := newTestSchema(t)
	b := create(t, schema, "u1", "Beta", 2)
	c := create(t, schema, "u1", "Gamma", 5)
	a := create(t, schema, "u1", "Alpha", 0)

	var proposed struct {
		ProposeAllocation allocation `json:"proposeAllocation"`
	}
	errs := run(t, schema, "u1", `mutation($id: ID!) {
	  proposeAllocation(featureId: $id, votes: 5) {
	    outcome featureId votes votesNeeded remainingVotes
	    candidates { featureId title votesAllocated }
	  }
	}`, map[string]interface{}{"id": a}, &proposed)
	require.Empty(t, errs)
	p := proposed.ProposeAllocation
	assert.Equal(t, "WITHDRAWAL_REQUIRED", p.Outcome)
	assert.Equal(t, 2, p.VotesNeeded)
	assert.Equal(t, 3, p.RemainingVotes)
	assert.Equal(t, []candidate{
		{FeatureID: c, Title: "Gamma", VotesAllocated: 5},
		{FeatureID: b, Title: "Beta", VotesAllocated: 2},
	}, p.Candidates)

	var pending struct {
		PendingWithdrawal struct {
			FeatureID    string `json:"featureId"`
			DesiredVotes int    `json:"desiredVotes"`
			VotesNeeded  int    `json:"votesNeeded"`
		} `json:"pendingWithdrawal"`
		SelectWithdrawalCandidates struct {
			SelectedTotal int  `json:"selectedTotal"`
			CanProceed    bool `json:"canProceed"`
		} `json:"selectWithdrawalCandidates"`
	}
	errs = run(t, schema, "u1", `query($ids: [ID!]!) {
	  pendingWithdrawal { featureId desiredVotes votesNeeded }
	  selectWithdrawalCandidates(featureIds: $ids) { selectedTotal canProceed }
	}`, map[string]interface{}{"ids": []interface{}{b}}, &pending)
	require.Empty(t, errs)
	assert.Equal(t, a, pending.PendingWithdrawal.FeatureID)
	assert.Equal(t, 5, pending.PendingWithdrawal.DesiredVotes)
	assert.Equal(t, 2, pending.SelectWithdrawalCandidates.SelectedTotal)
	assert.True(t, pending.SelectWithdrawalCandidates.CanProceed)

	var confirmed struct {
		ConfirmWithdrawal allocation `json:"confirmWithdrawal"`
	}
	errs = run(t, schema, "u1", `mutation($ids: [ID!]!) {
	  confirmWithdrawal(featureIds: $ids) { outcome featureId votes remainingVotes }
	}`, map[string]interface{}{"ids": []interface{}{b}}, &confirmed)
	require.Empty(t, errs)
	assert.Equal(t, "APPLIED", confirmed.ConfirmWithdrawal.Outcome)
	assert.Equal(t, a, confirmed.ConfirmWithdrawal.FeatureID)
	assert.Equal(t, 5, confirmed.ConfirmWithdrawal.Votes)
	assert.Zero(t, confirmed.ConfirmWithdrawal.RemainingVotes)

	var after struct {
		MyVotes           []candidate `json:"myVotes"`
		RemainingVotes    int         `json:"remainingVotes"`
		PendingWithdrawal *struct{}   `json:"pendingWithdrawal"`
		FeatureVoteCount  int         `json:"featureVoteCount"`
	}
	errs = run(t, schema, "u1", `query($id: ID!) {
	  myVotes { featureId votesAllocated }
	  remainingVotes
	  pendingWithdrawal { featureId }
	  featureVoteCount(id: $id)
	}`, map[string]interface{}{"id": b}, &after)
	require.Empty(t, errs)
	assert.Len(t, after.MyVotes, 2)
	assert.Zero(t, after.RemainingVotes)
	assert.Nil(t, after.PendingWithdrawal)
	assert.Zero(t, after.FeatureVoteCount)
}

func TestQuickControlsOverGraphQL(t *testing.T) {
	schema, _ := newTestSchema(t)
	a := create(t, schema, "u1", "Alpha", 9)
	b := create(t, schema, "u1", "Beta", 0)
	vars := map[string]interface{}{"id": b}

	var inc struct {
		IncrementVote allocation `json:"incrementVote"`
	}
	errs := run(t, schema, "u1", `mutation($id: ID!) { incrementVote(featureId: $id) { votes remainingVotes } }`, vars, &inc)
	require.Empty(t, errs)
	assert.Equal(t, 1, inc.IncrementVote.Votes)
	assert.Zero(t, inc.IncrementVote.RemainingVotes)

	errs = run(t, schema, "u1", `mutation($id: ID!) { incrementVote(featureId: $id) { votes } }`, map[string]interface{}{"id": a}, nil)
	require.Len(t, errs, 1)
	assert.Equal(t, budget.ErrIncrementDisabled.Error(), errs[0])

	var controls struct {
		VoteControls struct {
			Votes        int  `json:"votes"`
			CanIncrement bool `json:"canIncrement"`
			CanDecrement bool `json:"canDecrement"`
		} `json:"voteControls"`
	}
	errs = run(t, schema, "u1", `query($id: ID!) { voteControls(featureId: $id) { votes canIncrement canDecrement } }`, vars, &controls)
	require.Empty(t, errs)
	assert.Equal(t, 1, controls.VoteControls.Votes)
	assert.False(t, controls.VoteControls.CanIncrement)
	assert.True(t, controls.VoteControls.CanDecrement)

	var dec struct {
		DecrementVote allocation `json:"decrementVote"`
	}
	errs = run(t, schema, "u1", `mutation($id: ID!) { decrementVote(featureId: $id) { votes remainingVotes } }`, vars, &dec)
	require.Empty(t, errs)
	assert.Zero(t, dec.DecrementVote.Votes)
	assert.Equal(t, 1, dec.DecrementVote.RemainingVotes)

	errs = run(t, schema, "u1", `mutation($id: ID!) { decrementVote(featureId: $id) { votes } }`, vars, nil)
	require.Len(t, errs, 1)
	assert.Equal(t, budget.ErrDecrementDisabled.Error(), errs[0])
}

func TestCancelWithdrawalOverGraphQL(t *testing.T) {
	schema, _ := newTestSchema(t)
	create(t, schema, "u1", "Alpha", 10)
	b := create(t, schema, "u1", "Beta", 0)

	var proposed struct {
		ProposeAllocation allocation `json:"proposeAllocation"`
	}
	errs := run(t, schema, "u1", `mutation($id: ID!) { proposeAllocation(featureId: $id, votes: 2) { outcome } }`,
		map[string]interface{}{"id": b}, &proposed)
	require.Empty(t, errs)
	require.Equal(t, "WITHDRAWAL_REQUIRED", proposed.ProposeAllocation.Outcome)

	var cancelled struct {
		CancelWithdrawal bool `json:"cancelWithdrawal"`
	}
	errs = run(t, schema, "u1", `mutation { cancelWithdrawal }`, nil, &cancelled)
	require.Empty(t, errs)
	assert.True(t, cancelled.CancelWithdrawal)

	errs = run(t, schema, "u1", `mutation($id: ID!) { proposeAllocation(featureId: $id, votes: 2, allowWithdrawal: false) { outcome } }`,
		map[string]interface{}{"id": b}, nil)
	require.Len(t, errs, 1)
	assert.Equal(t, budget.ErrInsufficientVotes.Error(), errs[0])
}

func TestFeatureListingAndComments(t *testing.T) {
	schema, _ := newTestSchema(t)
	low := create(t, schema, "u1", "Low", 1)
	high := create(t, schema, "u2", "High", 6)

	var list struct {
		FeatureRequests []struct {
			ID        string `json:"id"`
			VoteCount int    `json:"voteCount"`
		} `json:"featureRequests"`
	}
	errs := run(t, schema, "", `{ featureRequests(status: OPEN, sort: MOST_VOTED) { id voteCount } }`, nil, &list)
	require.Empty(t, errs)
	require.Len(t, list.FeatureRequests, 2)
	assert.Equal(t, high, list.FeatureRequests[0].ID)
	assert.Equal(t, low, list.FeatureRequests[1].ID)

	var added struct {
		AddComment struct {
			ID     string `json:"id"`
			UserID string `json:"userId"`
			Body   string `json:"body"`
		} `json:"addComment"`
	}
	errs = run(t, schema, "u2", `mutation($id: ID!) { addComment(featureId: $id, body: "me too") { id userId body } }`,
		map[string]interface{}{"id": low}, &added)
	require.Empty(t, errs)
	assert.Equal(t, "u2", added.AddComment.UserID)

	errs = run(t, schema, "u1", `mutation($id: ID!) { deleteComment(id: $id) }`,
		map[string]interface{}{"id": added.AddComment.ID}, nil)
	require.Len(t, errs, 1)
	assert.Equal(t, control.ErrCommentNotFound.Error(), errs[0])

	var comments struct {
		Comments []struct {
			Body string `json:"body"`
		} `json:"comments"`
	}
	errs = run(t, schema, "", `query($id: ID!) { comments(featureId: $id) { body } }`,
		map[string]interface{}{"id": low}, &comments)
	require.Empty(t, errs)
	require.Len(t, comments.Comments, 1)
	assert.Equal(t, "me too", comments.Comments[0].Body)

	errs = run(t, schema, "", `{ featureRequest(id: "missing") { id } }`, nil, nil)
	require.Len(t, errs, 1)
	assert.Equal(t, budget.ErrFeatureNotFound.Error(), errs[0])
}

func TestUserMiddleware(t *testing.T) {
	schema, _ := newTestSchema(t)
	srv := httptest.NewServer(UserMiddleware(handler.New(&handler.Config{Schema: &schema})))
	defer srv.Close()

	post := func(userID string) map[string]interface{} {
		body, _ := json.Marshal(map[string]string{"query": "{ remainingVotes }"})
		req, err := http.NewRequest(http.MethodPost, srv.URL, bytes.NewReader(body))
		require.NoError(t, err)
		req.Header.Set("Content-Type", "application/json")
		if userID != "" {
			req.Header.Set(UserHeader, userID)
		}
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()

		var out map[string]interface{}
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
		return out
	}

	out := post("u1")
	assert.Nil(t, out["errors"])
	assert.EqualValues(t, 10, out["data"].(map[string]interface{})["remainingVotes"])

	out = post("")
	assert.NotNil(t, out["errors"])
}

type failingStore struct {
	*control.MemoryStore
}

func (failingStore) GetUserVotesUsed(context.Context, string) (int, error) {
	return 0, assert.AnError
}

func TestBackendErrorsAreHidden(t *testing.T) {
	mem := control.NewMemoryStore()
	schema, err := NewSchema(&Service{Store: failingStore{mem}, Pending: mem, Locker: mem})
	require.NoError(t, err)

	errs := run(t, schema, "u1", `{ remainingVotes }`, nil, nil)
	require.Len(t, errs, 1)
	assert.Equal(t, budget.ErrBackend.Error(), errs[0])
}
