package graphql

import (
	"github.com/graphql-go/graphql"

	"VoteBoard/budget"
	"VoteBoard/model"
)

var featureStatusEnum = graphql.NewEnum(graphql.EnumConfig{
	Name: "FeatureStatus",
	Values: graphql.EnumValueConfigMap{
		"OPEN":        &graphql.EnumValueConfig{Value: model.StatusOpen},
		"IN_PROGRESS": &graphql.EnumValueConfig{Value: model.StatusInProgress},
		"COMPLETED":   &graphql.EnumValueConfig{Value: model.StatusCompleted},
		"REJECTED":    &graphql.EnumValueConfig{Value: model.StatusRejected},
		"ON_HOLD":     &graphql.EnumValueConfig{Value: model.StatusOnHold},
	},
})

var featureSortEnum = graphql.NewEnum(graphql.EnumConfig{
	Name: "FeatureSort",
	Values: graphql.EnumValueConfigMap{
		"MOST_VOTED": &graphql.EnumValueConfig{Value: model.SortMostVoted},
		"NEWEST":     &graphql.EnumValueConfig{Value: model.SortNewest},
	},
})

var outcomeEnum = graphql.NewEnum(graphql.EnumConfig{
	Name: "AllocationOutcome",
	Values: graphql.EnumValueConfigMap{
		"APPLIED":             &graphql.EnumValueConfig{Value: budget.OutcomeApplied},
		"WITHDRAWAL_REQUIRED": &graphql.EnumValueConfig{Value: budget.OutcomeWithdrawalRequired},
	},
})

// Object types resolve model structs by field name and result maps by key.
var featureRequestType = graphql.NewObject(graphql.ObjectConfig{
	Name: "FeatureRequest",
	Fields: graphql.Fields{
		"id":          &graphql.Field{Type: graphql.NewNonNull(graphql.ID)},
		"title":       &graphql.Field{Type: graphql.String},
		"description": &graphql.Field{Type: graphql.String},
		"module":      &graphql.Field{Type: graphql.String},
		"status":      &graphql.Field{Type: featureStatusEnum},
		"voteCount":   &graphql.Field{Type: graphql.Int},
		"createdBy":   &graphql.Field{Type: graphql.String},
		"createdAt":   &graphql.Field{Type: graphql.DateTime},
	},
})

var voteCandidateType = graphql.NewObject(graphql.ObjectConfig{
	Name: "UserVote",
	Fields: graphql.Fields{
		"featureId":      &graphql.Field{Type: graphql.NewNonNull(graphql.ID)},
		"title":          &graphql.Field{Type: graphql.String},
		"module":         &graphql.Field{Type: graphql.String},
		"votesAllocated": &graphql.Field{Type: graphql.Int},
	},
})

var allocationType = graphql.NewObject(graphql.ObjectConfig{
	Name: "AllocationResult",
	Fields: graphql.Fields{
		"outcome":        &graphql.Field{Type: outcomeEnum},
		"featureId":      &graphql.Field{Type: graphql.ID},
		"votes":          &graphql.Field{Type: graphql.Int},
		"changed":        &graphql.Field{Type: graphql.Boolean},
		"votesNeeded":    &graphql.Field{Type: graphql.Int},
		"candidates":     &graphql.Field{Type: graphql.NewList(voteCandidateType)},
		"remainingVotes": &graphql.Field{Type: graphql.Int},
	},
})

var selectionType = graphql.NewObject(graphql.ObjectConfig{
	Name: "WithdrawalSelection",
	Fields: graphql.Fields{
		"selectedTotal": &graphql.Field{Type: graphql.Int},
		"votesNeeded":   &graphql.Field{Type: graphql.Int},
		"canProceed":    &graphql.Field{Type: graphql.Boolean},
	},
})

var pendingType = graphql.NewObject(graphql.ObjectConfig{
	Name: "PendingWithdrawal",
	Fields: graphql.Fields{
		"featureId":    &graphql.Field{Type: graphql.ID},
		"desiredVotes": &graphql.Field{Type: graphql.Int},
		"votesNeeded":  &graphql.Field{Type: graphql.Int},
		"candidates":   &graphql.Field{Type: graphql.NewList(voteCandidateType)},
		"createdAt":    &graphql.Field{Type: graphql.DateTime},
	},
})

var voteControlsType = graphql.NewObject(graphql.ObjectConfig{
	Name: "VoteControls",
	Fields: graphql.Fields{
		"featureId":      &graphql.Field{Type: graphql.ID},
		"votes":          &graphql.Field{Type: graphql.Int},
		"canIncrement":   &graphql.Field{Type: graphql.Boolean},
		"canDecrement":   &graphql.Field{Type: graphql.Boolean},
		"remainingVotes": &graphql.Field{Type: graphql.Int},
	},
})

var commentType = graphql.NewObject(graphql.ObjectConfig{
	Name: "Comment",
	Fields: graphql.Fields{
		"id":        &graphql.Field{Type: graphql.NewNonNull(graphql.ID)},
		"featureId": &graphql.Field{Type: graphql.ID},
		"userId":    &graphql.Field{Type: graphql.String},
		"body":      &graphql.Field{Type: graphql.String},
		"createdAt": &graphql.Field{Type: graphql.DateTime},
	},
})

var createFeatureType = graphql.NewObject(graphql.ObjectConfig{
	Name: "CreateFeatureResult",
	Fields: graphql.Fields{
		"feature":    &graphql.Field{Type: featureRequestType},
		"allocation": &graphql.Field{Type: allocationType},
	},
})

func allocationResult(r budget.Result) map[string]interface{} {
	candidates := r.Candidates
	if candidates == nil {
		candidates = []model.VoteCandidate{}
	}
	return map[string]interface{}{
		"outcome":        r.Outcome,
		"featureId":      r.FeatureID,
		"votes":          r.Votes,
		"changed":        r.Changed,
		"votesNeeded":    r.VotesNeeded,
		"candidates":     candidates,
		"remainingVotes": r.RemainingVotes,
	}
}

func stringList(v interface{}) []string {
	items, _ := v.([]interface{})
	out := make([]string, 0, len(items))
	for _, it := range items {
		if s, ok := it.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// NewSchema builds the feature board schema on top of svc.
func NewSchema(svc *Service) (graphql.Schema, error) {
	queryType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Query",
		Fields: graphql.Fields{
			"featureRequests": &graphql.Field{
				Type: graphql.NewList(featureRequestType),
				Args: graphql.FieldConfigArgument{
					"status": &graphql.ArgumentConfig{Type: featureStatusEnum},
					"module": &graphql.ArgumentConfig{Type: graphql.String},
					"sort":   &graphql.ArgumentConfig{Type: featureSortEnum, DefaultValue: model.SortMostVoted},
				},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					f := model.FeatureFilter{}
					f.Status, _ = p.Args["status"].(model.FeatureStatus)
					f.Module, _ = p.Args["module"].(string)
					f.Sort, _ = p.Args["sort"].(model.FeatureSort)
					out, err := svc.ListFeatureRequests(p.Context, f)
					return out, publicError(p.Context, err)
				},
			},
			"featureRequest": &graphql.Field{
				Type: featureRequestType,
				Args: graphql.FieldConfigArgument{
					"id": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.ID)},
				},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					id, _ := p.Args["id"].(string)
					fr, err := svc.GetFeatureRequest(p.Context, id)
					if err != nil {
						return nil, publicError(p.Context, err)
					}
					return fr, nil
				},
			},
			"featureVoteCount": &graphql.Field{
				Type: graphql.Int,
				Args: graphql.FieldConfigArgument{
					"id": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.ID)},
				},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					id, _ := p.Args["id"].(string)
					n, err := svc.FeatureVoteCount(p.Context, id)
					if err != nil {
						return nil, publicError(p.Context, err)
					}
					return n, nil
				},
			},
			"myVotes": &graphql.Field{
				Type: graphql.NewList(voteCandidateType),
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					out, err := svc.MyVotes(p.Context)
					if err != nil {
						return nil, publicError(p.Context, err)
					}
					return out, nil
				},
			},
			"remainingVotes": &graphql.Field{
				Type: graphql.Int,
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					n, err := svc.RemainingVotes(p.Context)
					if err != nil {
						return nil, publicError(p.Context, err)
					}
					return n, nil
				},
			},
			"pendingWithdrawal": &graphql.Field{
				Type: pendingType,
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					pending, err := svc.PendingWithdrawal(p.Context)
					if err != nil || pending == nil {
						return nil, publicError(p.Context, err)
					}
					return map[string]interface{}{
						"featureId":    pending.FeatureID,
						"desiredVotes": pending.DesiredVotes,
						"votesNeeded":  pending.VotesNeeded,
						"candidates":   pending.Candidates,
						"createdAt":    pending.CreatedAt,
					}, nil
				},
			},
			"selectWithdrawalCandidates": &graphql.Field{
				Type: selectionType,
				Args: graphql.FieldConfigArgument{
					"featureIds": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.NewList(graphql.NewNonNull(graphql.ID)))},
				},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					sel, err := svc.SelectWithdrawalCandidates(p.Context, stringList(p.Args["featureIds"]))
					if err != nil {
						return nil, publicError(p.Context, err)
					}
					return map[string]interface{}{
						"selectedTotal": sel.SelectedTotal,
						"votesNeeded":   sel.VotesNeeded,
						"canProceed":    sel.CanProceed,
					}, nil
				},
			},
			"voteControls": &graphql.Field{
				Type: voteControlsType,
				Args: graphql.FieldConfigArgument{
					"featureId": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.ID)},
				},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					id, _ := p.Args["featureId"].(string)
					c, err := svc.VoteControls(p.Context, id)
					if err != nil {
						return nil, publicError(p.Context, err)
					}
					return c, nil
				},
			},
			"comments": &graphql.Field{
				Type: graphql.NewList(commentType),
				Args: graphql.FieldConfigArgument{
					"featureId": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.ID)},
				},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					id, _ := p.Args["featureId"].(string)
					out, err := svc.ListComments(p.Context, id)
					return out, publicError(p.Context, err)
				},
			},
		},
	})

	mutationType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Mutation",
		Fields: graphql.Fields{
			"createFeatureRequest": &graphql.Field{
				Type: createFeatureType,
				Args: graphql.FieldConfigArgument{
					"title":       &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
					"description": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
					"module":      &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
					"votes":       &graphql.ArgumentConfig{Type: graphql.Int, DefaultValue: 0},
				},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					fr := model.FeatureRequest{}
					fr.Title, _ = p.Args["title"].(string)
					fr.Description, _ = p.Args["description"].(string)
					fr.Module, _ = p.Args["module"].(string)
					votes, _ := p.Args["votes"].(int)

					created, res, err := svc.CreateFeatureRequest(p.Context, fr, votes)
					if err != nil {
						return nil, publicError(p.Context, err)
					}
					out := map[string]interface{}{"feature": created, "allocation": nil}
					if res != nil {
						out["allocation"] = allocationResult(*res)
					}
					return out, nil
				},
			},
			"proposeAllocation": &graphql.Field{
				Type: allocationType,
				Args: graphql.FieldConfigArgument{
					"featureId":       &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.ID)},
					"votes":           &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.Int)},
					"allowWithdrawal": &graphql.ArgumentConfig{Type: graphql.Boolean, DefaultValue: true},
				},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					id, _ := p.Args["featureId"].(string)
					votes, _ := p.Args["votes"].(int)
					allow, _ := p.Args["allowWithdrawal"].(bool)
					res, err := svc.ProposeAllocation(p.Context, id, votes, allow)
					if err != nil {
						return nil, publicError(p.Context, err)
					}
					return allocationResult(res), nil
				},
			},
			"confirmWithdrawal": &graphql.Field{
				Type: allocationType,
				Args: graphql.FieldConfigArgument{
					"featureIds": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.NewList(graphql.NewNonNull(graphql.ID)))},
				},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					res, err := svc.ConfirmWithdrawal(p.Context, stringList(p.Args["featureIds"]))
					if err != nil {
						return nil, publicError(p.Context, err)
					}
					return allocationResult(res), nil
				},
			},
			"cancelWithdrawal": &graphql.Field{
				Type: graphql.Boolean,
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					if err := svc.CancelWithdrawal(p.Context); err != nil {
						return false, publicError(p.Context, err)
					}
					return true, nil
				},
			},
			"incrementVote": &graphql.Field{
				Type: allocationType,
				Args: graphql.FieldConfigArgument{
					"featureId": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.ID)},
				},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					id, _ := p.Args["featureId"].(string)
					res, err := svc.IncrementVote(p.Context, id)
					if err != nil {
						return nil, publicError(p.Context, err)
					}
					return allocationResult(res), nil
				},
			},
			"decrementVote": &graphql.Field{
				Type: allocationType,
				Args: graphql.FieldConfigArgument{
					"featureId": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.ID)},
				},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					id, _ := p.Args["featureId"].(string)
					res, err := svc.DecrementVote(p.Context, id)
					if err != nil {
						return nil, publicError(p.Context, err)
					}
					return allocationResult(res), nil
				},
			},
			"addComment": &graphql.Field{
				Type: commentType,
				Args: graphql.FieldConfigArgument{
					"featureId": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.ID)},
					"body":      &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
				},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					id, _ := p.Args["featureId"].(string)
					body, _ := p.Args["body"].(string)
					c, err := svc.AddComment(p.Context, id, body)
					if err != nil {
						return nil, publicError(p.Context, err)
					}
					return c, nil
				},
			},
			"deleteComment": &graphql.Field{
				Type: graphql.Boolean,
				Args: graphql.FieldConfigArgument{
					"id": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.ID)},
				},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					id, _ := p.Args["id"].(string)
					if err := svc.DeleteComment(p.Context, id); err != nil {
						return false, publicError(p.Context, err)
					}
					return true, nil
				},
			},
		},
	})

	return graphql.NewSchema(graphql.SchemaConfig{
		Query:    queryType,
		Mutation: mutationType,
	})
}
