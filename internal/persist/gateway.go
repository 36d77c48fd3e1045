// Package persist turns workflow outcomes into project messages and fragments.
//
// Every run ends in exactly one ASSISTANT message: RESULT with an optional
// fragment on success, ERROR with a user-facing explanation otherwise.
package persist

import (
	"context"
	"errors"
	"fmt"

	"agentforge/internal/logging"
	"agentforge/internal/retry"
	"agentforge/internal/store"
	"agentforge/internal/types"
)

// User-facing error texts. Raw errors stay in the logs.
const (
	QuotaErrorMessage   = "The AI service is over its usage quota right now. Please wait a few minutes and try again."
	GenericErrorMessage = "Something went wrong while building your project. Please try again."
)

// Store is the document store the gateway writes to.
type Store interface {
	CreateProject(ctx context.Context, userID, name string) (types.Project, error)
	CreateMessage(ctx context.Context, msg types.Message) (string, error)
	CreateFragment(ctx context.Context, messageID, sandboxURL, title string, files map[string]string) (string, error)
	AttachFragment(ctx context.Context, messageID, fragmentID string) error
	AppendProjectMessage(ctx context.Context, projectID, messageID string) error
	FindMessageByRun(ctx context.Context, runID string) (types.Message, error)
}

// Gateway writes run outcomes to a Store.
type Gateway struct {
	store Store
}

// NewGateway returns a gateway over s.
func NewGateway(s Store) *Gateway {
	return &Gateway{store: s}
}

// ErrorMessage maps a run failure to the text shown to the user.
func ErrorMessage(cause error) string {
	var qe *retry.QuotaError
	if errors.As(cause, &qe) || retry.IsQuotaError(cause) {
		return QuotaErrorMessage
	}
	return GenericErrorMessage
}

// existing returns the terminal message already written for runID, if any.
func (g *Gateway) existing(ctx context.Context, runID string) (types.Message, bool, error) {
	if runID == "" {
		return types.Message{}, false, nil
	}
	msg, err := g.store.FindMessageByRun(ctx, runID)
	if errors.Is(err, store.ErrNotFound) {
		return types.Message{}, false, nil
	}
	if err != nil {
		return types.Message{}, false, err
	}
	return msg, true, nil
}

// SaveResult persists a successful outcome. The message content is the
// response extracted from the summary. A fragment is written only when the
// sandbox URL resolved. Calling it again for the same run completes a
// missing fragment but never writes a second message.
func (g *Gateway) SaveResult(ctx context.Context, projectID, runID string, outcome types.Outcome) (string, error) {
	msg, found, err := g.existing(ctx, runID)
	if err != nil {
		return "", fmt.Errorf("save result: %w", err)
	}

	msgID := msg.ID
	if !found {
		msgID, err = g.store.CreateMessage(ctx, types.Message{
			ProjectID: projectID,
			Content:   ExtractResponse(outcome.Summary),
			Role:      types.RoleAssistant,
			Type:      types.MessageResult,
			RunID:     runID,
		})
		if err != nil {
			return "", fmt.Errorf("save result message: %w", err)
		}
		if err := g.store.AppendProjectMessage(ctx, projectID, msgID); err != nil {
			return msgID, fmt.Errorf("append result message: %w", err)
		}
	} else if msg.Type == types.MessageError || msg.FragmentID != "" {
		logging.Persist("[%s] terminal message %s already persisted", runID, msgID)
		return msgID, nil
	}

	if outcome.URL != "" {
		title := outcome.Title
		if title == "" {
			title = ExtractTitle(outcome.Summary)
		}
		fragID, err := g.store.CreateFragment(ctx, msgID, outcome.URL, title, outcome.Files)
		if err != nil {
			return msgID, fmt.Errorf("save fragment: %w", err)
		}
		if err := g.store.AttachFragment(ctx, msgID, fragID); err != nil {
			return msgID, fmt.Errorf("attach fragment: %w", err)
		}
	}

	logging.Persist("[%s] saved RESULT message %s for project %s (%d files)", runID, msgID, projectID, len(outcome.Files))
	return msgID, nil
}

// SaveError persists the ERROR message for a failed run. If the run already
// has a terminal message that one is returned instead.
func (g *Gateway) SaveError(ctx context.Context, projectID, runID string, cause error) (string, error) {
	msg, found, err := g.existing(ctx, runID)
	if err != nil {
		return "", fmt.Errorf("save error: %w", err)
	}
	if found {
		logging.Persist("[%s] terminal message %s already persisted, not writing ERROR", runID, msg.ID)
		return msg.ID, nil
	}

	logging.PersistError("[%s] run failed: %v", runID, cause)
	msgID, err := g.store.CreateMessage(ctx, types.Message{
		ProjectID: projectID,
		Content:   ErrorMessage(cause),
		Role:      types.RoleAssistant,
		Type:      types.MessageError,
		RunID:     runID,
	})
	if err != nil {
		return "", fmt.Errorf("save error message: %w", err)
	}
	if err := g.store.AppendProjectMessage(ctx, projectID, msgID); err != nil {
		return msgID, fmt.Errorf("append error message: %w", err)
	}
	return msgID, nil
}

// CreateProject creates a project with a generated name and records prompt
// as its first USER message.
func (g *Gateway) CreateProject(ctx context.Context, userID, prompt string) (types.Project, error) {
	p, err := g.store.CreateProject(ctx, userID, Slug())
	if err != nil {
		return types.Project{}, err
	}
	msgID, err := g.SaveUserMessage(ctx, p.ID, prompt)
	if err != nil {
		return p, err
	}
	p.MessageIDs = append(p.MessageIDs, msgID)
	return p, nil
}

// SaveUserMessage appends a USER/RESULT message holding prompt to the project.
func (g *Gateway) SaveUserMessage(ctx context.Context, projectID, prompt string) (string, error) {
	msgID, err := g.store.CreateMessage(ctx, types.Message{
		ProjectID: projectID,
		Content:   prompt,
		Role:      types.RoleUser,
		Type:      types.MessageResult,
	})
	if err != nil {
		return "", fmt.Errorf("save user message: %w", err)
	}
	if err := g.store.AppendProjectMessage(ctx, projectID, msgID); err != nil {
		return msgID, fmt.Errorf("append user message: %w", err)
	}
	return msgID, nil
}
