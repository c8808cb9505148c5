package slack

import (
	"context"
	"errors"
	"fmt"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/socketmode"

	"github.com/akmatori/nocpilot/internal/approval"
	"github.com/akmatori/nocpilot/internal/logging"
)

// Decider resolves approval requests
type Decider interface {
	Approve(ctx context.Context, id, approver, reason string) (approval.Decision, error)
	Reject(ctx context.Context, id, rejector, reason string) (approval.Decision, error)
}

type ephemeralPoster interface {
	PostEphemeralContext(ctx context.Context, channelID, userID string, options ...slack.MsgOption) (string, error)
}

// InteractionHandler maps Approve/Reject button clicks to ledger decisions
type InteractionHandler struct {
	decider Decider
	poster  ephemeralPoster
}

// NewInteractionHandler creates a handler. poster may be nil, in which case failed
// decisions are only logged.
func NewInteractionHandler(decider Decider, poster ephemeralPoster) *InteractionHandler {
	return &InteractionHandler{decider: decider, poster: poster}
}

// HandleSocketMode consumes Socket Mode events until the client's channel closes
func (h *InteractionHandler) HandleSocketMode(ctx context.Context, socketClient *socketmode.Client) {
	go func() {
		for evt := range socketClient.Events {
			switch evt.Type {
			case socketmode.EventTypeInteractive:
				callback, ok := evt.Data.(slack.InteractionCallback)
				if evt.Request != nil {
					socketClient.Ack(*evt.Request)
				}
				if !ok {
					logging.Debugf("Slack: ignored interactive payload %T", evt.Data)
					continue
				}
				go h.HandleCallback(ctx, callback)

			case socketmode.EventTypeEventsAPI, socketmode.EventTypeSlashCommand:
				if evt.Request != nil {
					socketClient.Ack(*evt.Request)
				}

			case socketmode.EventTypeConnecting, socketmode.EventTypeConnected, socketmode.EventTypeHello:
				logging.Debugf("Slack: socket mode %s", evt.Type)

			case socketmode.EventTypeConnectionError:
				logging.Warnf("Slack: socket mode connection error: %v", evt.Data)

			default:
				logging.Debugf("Slack: unexpected event type received: %s", evt.Type)
			}
		}
	}()
}

// HandleCallback applies every approval button in a block_actions callback
func (h *InteractionHandler) HandleCallback(ctx context.Context, cb slack.InteractionCallback) {
	if cb.Type != slack.InteractionTypeBlockActions {
		return
	}
	responder := "slack:" + cb.User.Name
	if cb.User.Name == "" {
		responder = "slack:" + cb.User.ID
	}

	for _, action := range cb.ActionCallback.BlockActions {
		if action == nil {
			continue
		}
		var err error
		switch action.ActionID {
		case ApproveActionID:
			_, err = h.decider.Approve(ctx, action.Value, responder, "")
		case RejectActionID:
			_, err = h.decider.Reject(ctx, action.Value, responder, "Rejected via Slack")
		default:
			continue
		}
		if err == nil {
			logging.Infof("Slack: %s applied %s to request %s", responder, action.ActionID, action.Value)
			continue
		}

		logging.Warnf("Slack: %s on request %s failed: %v", action.ActionID, action.Value, err)
		h.tell(ctx, cb, decisionErrorText(action.Value, err))
	}
}

func (h *InteractionHandler) tell(ctx context.Context, cb slack.InteractionCallback, text string) {
	if h.poster == nil || cb.Channel.ID == "" {
		return
	}
	if _, err := h.poster.PostEphemeralContext(ctx, cb.Channel.ID, cb.User.ID, slack.MsgOptionText(text, false)); err != nil {
		logging.Warnf("Slack: failed to post ephemeral message: %v", err)
	}
}

func decisionErrorText(id string, err error) string {
	switch {
	case errors.Is(err, approval.ErrRequestNotPending):
		return fmt.Sprintf("Request `%s` was already resolved.", id)
	case errors.Is(err, approval.ErrRequestNotFound):
		return fmt.Sprintf("Request `%s` no longer exists.", id)
	}
	return fmt.Sprintf("Could not record your decision on `%s`: %v", id, err)
}
