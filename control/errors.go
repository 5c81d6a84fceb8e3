package control

import (
	"errors"
	"fmt"
	"strings"

	"VoteBoard/model"
)

var (
	ErrValidation      = errors.New("invalid input")
	ErrCommentNotFound = errors.New("comment not found")
)

const (
	maxTitleLen   = 200
	maxCommentLen = 4000
)

// ValidateFeatureRequest checks the fields a user must fill in before a request is stored.
func ValidateFeatureRequest(fr model.FeatureRequest) error {
	var problems []string
	title := strings.TrimSpace(fr.Title)
	if title == "" {
		problems = append(problems, "title is required")
	} else if len(title) > maxTitleLen {
		problems = append(problems, fmt.Sprintf("title must be at most %d characters", maxTitleLen))
	}
	if strings.TrimSpace(fr.Description) == "" {
		problems = append(problems, "description is required")
	}
	if !model.ValidModule(fr.Module) {
		problems = append(problems, "module must be one of "+strings.Join(model.Modules, ", "))
	}
	if fr.Status != "" && !fr.Status.Valid() {
		problems = append(problems, "unknown status "+string(fr.Status))
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrValidation, strings.Join(problems, "; "))
	}
	return nil
}

func validateComment(body string) error {
	body = strings.TrimSpace(body)
	if body == "" {
		return fmt.Errorf("%w: comment body is required", ErrValidation)
	}
	if len(body) > maxCommentLen {
		return fmt.Errorf("%w: comment must be at most %d characters", ErrValidation, maxCommentLen)
	}
	return nil
}

func validateVotes(votes int) error {
	if votes < 1 || votes > model.TotalVotes {
		return fmt.Errorf("%w: votes_allocated must be between 1 and %d", ErrValidation, model.TotalVotes)
	}
	return nil
}

// normalizeFeature trims user input and applies defaults before storage.
func normalizeFeature(fr model.FeatureRequest) model.FeatureRequest {
	fr.Title = strings.TrimSpace(fr.Title)
	fr.Description = strings.TrimSpace(fr.Description)
	fr.Module = strings.TrimSpace(fr.Module)
	if fr.Status == "" {
		fr.Status = model.StatusOpen
	}
	fr.VoteCount = 0
	return fr
}
