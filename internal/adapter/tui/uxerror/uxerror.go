// Package uxerror turns errors from a chat turn or a management command into
// short explanations with recovery hints.
package uxerror

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"agntschat/internal/adapter/tui/theme"
	"agntschat/internal/domain"
)

// FriendlyError is a user-facing error with suggestions for recovery.
type FriendlyError struct {
	Title   string
	Message string
	Hints   []string
	Code    domain.ErrorCode
	Raw     string
}

// Render formats the error for the transcript or the terminal.
func (fe FriendlyError) Render() string {
	var sb strings.Builder
	sb.WriteString(fe.Title)
	if fe.Message != "" {
		sb.WriteString("\n  ")
		sb.WriteString(fe.Message)
	}
	for _, h := range fe.Hints {
		fmt.Fprintf(&sb, "\n    %s %s", theme.SymbolBullet, h)
	}
	return sb.String()
}

type rule struct {
	match func(err error) bool
	title string
	msg   string
	hints []string
}

func is(target error) func(error) bool {
	return func(err error) bool { return errors.Is(err, target) }
}

// Rules are tried in order. Backend failures reach the user wrapped in an
// orchestration error, so the text rules run before that sentinel.
var rules = []rule{
	{is(domain.ErrInvalidPipeline), "No Agents Selected",
		"The agent pipeline is empty.",
		[]string{"Pass --agents Name1,Name2", "List agents with 'agntschat agents'"}},
	{is(domain.ErrOrchestrationTimeout), "Agents Took Too Long",
		"The multi-agent run hit its deadline.",
		[]string{"Use fewer agents", "Raise orchestration.deadline in config"}},
	{is(domain.ErrRuntimeStopped), "Shutting Down",
		"The agent runtime is stopping and refused new work.",
		nil},
	{is(domain.ErrCorruption), "Database Corrupted",
		"The local database cannot be read.",
		[]string{"Restore store.path from a backup", "Move the file away to start fresh"}},
	{is(domain.ErrIntegrity), "Duplicate Or Conflicting Entry",
		"The change conflicts with stored data.",
		[]string{"Names must be unique"}},
	{is(domain.ErrTransientStore), "Database Busy",
		"The local database stayed locked after several retries.",
		[]string{"Close other agntschat processes", "Try again"}},
	{is(domain.ErrNotFound), "Not Found",
		"",
		[]string{"Check the name or id", "List entries with 'agntschat agents' or 'agntschat sources'"}},
	{is(domain.ErrInvalidInput), "Invalid Input",
		"",
		nil},
	{is(context.Canceled), "Cancelled",
		"The request was cancelled.",
		nil},

	{containsAny("circuit open"), "Backend Paused",
		"Too many recent backend failures; calls are paused for a while.",
		[]string{"Wait for the circuit breaker timeout", "Check the backend status"}},
	{containsAny("connection refused", "dial tcp", "no such host"), "Connection Failed",
		"Could not reach the agent backend.",
		[]string{"Check your internet connection", "Verify backend.base_url in config"}},
	{containsAny("deadline exceeded", "timeout"), "Request Timed Out",
		"The backend took too long to answer.",
		[]string{"Try a shorter message", "Increase backend.resp_timeout in config"}},
	{containsAny("401", "403", "credentials rejected", "invalid api key", "unauthorized"), "Authentication Failed",
		"The backend rejected the API key.",
		[]string{"Set AGNTS_BACKEND_API_KEY", "Run 'agntschat doctor'"}},
	{containsAny("429", "rate limit", "too many requests"), "Rate Limited",
		"The backend is throttling requests.",
		[]string{"Wait a moment before retrying", "Lower backend.requests_per_minute"}},
	{is(domain.ErrOrchestration), "Agent Pipeline Failed",
		"The agents could not complete the run.",
		[]string{"Retry the message", "Try a single agent"}},
}

// Humanize converts err into a FriendlyError.
func Humanize(err error) FriendlyError {
	if err == nil {
		return FriendlyError{Title: "Unknown Error", Raw: "nil"}
	}
	code := domain.ErrorCodeOf(err)
	for _, r := range rules {
		if !r.match(err) {
			continue
		}
		msg := r.msg
		if msg == "" {
			msg = detail(err)
		}
		return FriendlyError{Title: r.title, Message: msg, Hints: r.hints, Code: code, Raw: err.Error()}
	}
	return FriendlyError{
		Title:   "Unexpected Error",
		Message: err.Error(),
		Hints:   []string{"Try again", "Run with --log-level debug for details"},
		Code:    code,
		Raw:     err.Error(),
	}
}

// detail prefers the DomainError detail over the full wrapped chain.
func detail(err error) string {
	var de *domain.DomainError
	if errors.As(err, &de) && de.Detail != "" {
		return de.Detail
	}
	return err.Error()
}

func containsAny(substrs ...string) func(error) bool {
	return func(err error) bool {
		lower := strings.ToLower(err.Error())
		for _, s := range substrs {
			if strings.Contains(lower, s) {
				return true
			}
		}
		return false
	}
}
