package slack

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/slack-go/slack"

	"github.com/akmatori/nocpilot/internal/approval"
)

type fakeDecider struct {
	mu       sync.Mutex
	approved map[string]string
	rejected map[string]string
	err      error
}

func newFakeDecider() *fakeDecider {
	return &fakeDecider{approved: map[string]string{}, rejected: map[string]string{}}
}

func (f *fakeDecider) Approve(_ context.Context, id, approver, _ string) (approval.Decision, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return approval.Decision{}, f.err
	}
	f.approved[id] = approver
	return approval.Decision{RequestID: id, Approved: true, Responder: approver}, nil
}

func (f *fakeDecider) Reject(_ context.Context, id, rejector, reason string) (approval.Decision, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return approval.Decision{}, f.err
	}
	f.rejected[id] = rejector
	return approval.Decision{RequestID: id, Responder: rejector, Reason: reason}, nil
}

func blockActionsCallback(actionID, value string) slack.InteractionCallback {
	var cb slack.InteractionCallback
	cb.Type = slack.InteractionTypeBlockActions
	cb.User.ID = "U123"
	cb.User.Name = "alice"
	cb.Channel.ID = "C01234567890"
	cb.ActionCallback.BlockActions = []*slack.BlockAction{{ActionID: actionID, Value: value, BlockID: "approval_" + value}}
	return cb
}

func TestInteractionHandler_Approve(t *testing.T) {
	decider := newFakeDecider()
	h := NewInteractionHandler(decider, nil)

	h.HandleCallback(context.Background(), blockActionsCallback(ApproveActionID, "req-1"))

	if decider.approved["req-1"] != "slack:alice" {
		t.Errorf("expected approval by slack:alice, got %q", decider.approved["req-1"])
	}
}

func TestInteractionHandler_Reject(t *testing.T) {
	decider := newFakeDecider()
	h := NewInteractionHandler(decider, nil)

	h.HandleCallback(context.Background(), blockActionsCallback(RejectActionID, "req-2"))

	if decider.rejected["req-2"] != "slack:alice" {
		t.Errorf("expected rejection by slack:alice, got %q", decider.rejected["req-2"])
	}
}

func TestInteractionHandler_FallsBackToUserID(t *testing.T) {
	decider := newFakeDecider()
	h := NewInteractionHandler(decider, nil)

	cb := blockActionsCallback(ApproveActionID, "req-1")
	cb.User.Name = ""
	h.HandleCallback(context.Background(), cb)

	if decider.approved["req-1"] != "slack:U123" {
		t.Errorf("expected slack:U123, got %q", decider.approved["req-1"])
	}
}

func TestInteractionHandler_IgnoresOtherCallbacks(t *testing.T) {
	decider := newFakeDecider()
	h := NewInteractionHandler(decider, nil)

	cb := blockActionsCallback("some_other_button", "req-1")
	h.HandleCallback(context.Background(), cb)

	cb = blockActionsCallback(ApproveActionID, "req-1")
	cb.Type = slack.InteractionTypeViewSubmission
	h.HandleCallback(context.Background(), cb)

	if len(decider.approved)+len(decider.rejected) != 0 {
		t.Error("expected no decisions")
	}
}

func TestInteractionHandler_AlreadyResolvedPostsEphemeral(t *testing.T) {
	fake, client := newTestSlack(t)
	decider := newFakeDecider()
	decider.err = approval.ErrRequestNotPending
	h := NewInteractionHandler(decider, client)

	h.HandleCallback(context.Background(), blockActionsCallback(ApproveActionID, "req-1"))

	calls := fake.snapshot()
	if len(calls) != 1 || calls[0].method != "chat.postEphemeral" {
		t.Fatalf("expected one chat.postEphemeral, got %+v", calls)
	}
	if calls[0].form.Get("user") != "U123" {
		t.Errorf("expected user U123, got %s", calls[0].form.Get("user"))
	}
	if !strings.Contains(calls[0].form.Get("text"), "already resolved") {
		t.Errorf("unexpected text %q", calls[0].form.Get("text"))
	}
}

func TestDecisionErrorText(t *testing.T) {
	if got := decisionErrorText("r", approval.ErrRequestNotFound); !strings.Contains(got, "no longer exists") {
		t.Errorf("unexpected text %q", got)
	}
	if got := decisionErrorText("r", context.Canceled); !strings.Contains(got, "context canceled") {
		t.Errorf("unexpected text %q", got)
	}
}
