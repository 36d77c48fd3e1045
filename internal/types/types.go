// Package types provides shared type definitions used across agentforge packages.
// This package exists to break import cycles between agent, tools, persist and workflow.
// Types in this package should be foundational data structures with no complex dependencies.
package types

import (
	"strings"
	"time"
)

// =============================================================================
// WORKFLOW REQUEST / OUTCOME
// =============================================================================

// WorkflowRequest is the inbound trigger for one build run.
// It is immutable once dispatched; (Prompt, ProjectID) is its cache identity.
type WorkflowRequest struct {
	Prompt    string `json:"value"`
	ProjectID string `json:"projectId"`
}

// Normalized returns the request with insignificant whitespace removed.
func (r WorkflowRequest) Normalized() WorkflowRequest {
	return WorkflowRequest{
		Prompt:    strings.TrimSpace(r.Prompt),
		ProjectID: strings.TrimSpace(r.ProjectID),
	}
}

// Outcome is the final result of a run, consumed by the persistence gateway and the cache.
// On failure only Title ("Error"), Message and Success=false are meaningful.
type Outcome struct {
	URL       string            `json:"url,omitempty"`
	Title     string            `json:"title"`
	Files     map[string]string `json:"files,omitempty"`
	Summary   string            `json:"summary,omitempty"`
	SandboxID string            `json:"sandboxId,omitempty"`
	Message   string            `json:"message,omitempty"`
	Success   bool              `json:"success"`

	// RunID and MessageID are filled in by the workflow runner after persistence.
	RunID     string `json:"runId,omitempty"`
	MessageID string `json:"messageId,omitempty"`
}

// FailedOutcome builds the failure shape of an Outcome.
func FailedOutcome(message string) Outcome {
	return Outcome{Title: "Error", Message: message, Success: false}
}

// =============================================================================
// PERSISTED RECORDS
// =============================================================================

// MessageRole is the author of a persisted message.
type MessageRole string

const (
	RoleUser      MessageRole = "USER"
	RoleAssistant MessageRole = "ASSISTANT"
)

// MessageType distinguishes successful results from error reports.
type MessageType string

const (
	MessageResult MessageType = "RESULT"
	MessageError  MessageType = "ERROR"
)

// Project owns an ordered list of messages.
type Project struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	UserID     string    `json:"userId"`
	MessageIDs []string  `json:"messages"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Message belongs to exactly one project and optionally owns one fragment.
type Message struct {
	ID         string      `json:"id"`
	ProjectID  string      `json:"projectId"`
	Content    string      `json:"content"`
	Role       MessageRole `json:"role"`
	Type       MessageType `json:"type"`
	FragmentID string      `json:"fragmentId,omitempty"`
	Fragment   *Fragment   `json:"fragment,omitempty"`
	RunID      string      `json:"runId,omitempty"`
	CreatedAt  time.Time   `json:"createdAt"`
}

// Fragment is the persisted snapshot of one run's files plus its sandbox URL.
type Fragment struct {
	ID         string            `json:"id"`
	MessageID  string            `json:"messageId"`
	SandboxURL string            `json:"sandboxUrl"`
	Title      string            `json:"title"`
	Files      map[string]string `json:"files"`
	CreatedAt  time.Time         `json:"createdAt"`
}
