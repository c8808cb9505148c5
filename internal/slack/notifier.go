package slack

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/slack-go/slack"

	"github.com/akmatori/nocpilot/internal/logging"
	"github.com/akmatori/nocpilot/internal/models"
	"github.com/akmatori/nocpilot/internal/pipeline"
	"github.com/akmatori/nocpilot/internal/utils"
)

// Button action IDs carried by approval messages
const (
	ApproveActionID = "approve_action"
	RejectActionID  = "reject_action"

	approvalBlockPrefix = "approval_"
)

// API is the subset of *slack.Client used by the notifier
type API interface {
	conversationLister
	PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error)
	UpdateMessageContext(ctx context.Context, channelID, timestamp string, options ...slack.MsgOption) (string, string, string, error)
}

// Notifier posts approval requests, decisions and action results to a channel
type Notifier struct {
	api      API
	resolver *ChannelResolver
	channel  string
}

// NewNotifier creates a notifier posting to channel (a name or an ID)
func NewNotifier(api API, channel string) *Notifier {
	return &Notifier{
		api:      api,
		resolver: NewChannelResolver(api),
		channel:  channel,
	}
}

// NotifyRequest posts the approval message and returns "<channel>:<ts>"
func (n *Notifier) NotifyRequest(ctx context.Context, req *models.ApprovalRequest) (string, error) {
	channelID, err := n.resolver.ResolveChannel(ctx, n.channel)
	if err != nil {
		return "", err
	}

	channelID, ts, err := n.api.PostMessageContext(ctx, channelID,
		slack.MsgOptionText(fmt.Sprintf("Approval required: %s", req.Action.ActionType), false),
		slack.MsgOptionBlocks(approvalBlocks(req)...),
	)
	if err != nil {
		return "", fmt.Errorf("failed to post approval request: %w", err)
	}

	logging.Infof("Slack: posted approval request %s to %s (ts %s)", req.ID, channelID, ts)
	return channelID + ":" + ts, nil
}

// UpdateStatus replaces the approval message with the decision
func (n *Notifier) UpdateStatus(ctx context.Context, req *models.ApprovalRequest, approved bool, responder, reason string) (bool, error) {
	channelID, ts := splitRef(req.NotificationRef)
	if ts == "" {
		return false, nil
	}
	if channelID == "" {
		var err error
		if channelID, err = n.resolver.ResolveChannel(ctx, n.channel); err != nil {
			return false, err
		}
	}

	verb := "rejected"
	if approved {
		verb = "approved"
	}
	_, _, _, err := n.api.UpdateMessageContext(ctx, channelID, ts,
		slack.MsgOptionText(fmt.Sprintf("Action %s: %s", verb, req.Action.ActionType), false),
		slack.MsgOptionBlocks(decisionBlocks(req, approved, responder, reason)...),
	)
	if err != nil {
		return false, fmt.Errorf("failed to update approval message: %w", err)
	}
	return true, nil
}

// SendActionResult posts the outcome of an executed action
func (n *Notifier) SendActionResult(ctx context.Context, action *models.RemediationAction) error {
	channelID, err := n.resolver.ResolveChannel(ctx, n.channel)
	if err != nil {
		return err
	}

	success := action.Status == models.ActionStatusSuccess
	verb := "failed"
	if success {
		verb = "completed"
	}
	_, _, err = n.api.PostMessageContext(ctx, channelID,
		slack.MsgOptionText(fmt.Sprintf("Action %s: %s", verb, action.ActionType), false),
		slack.MsgOptionBlocks(resultBlocks(action)...),
	)
	if err != nil {
		return fmt.Errorf("failed to post action result: %w", err)
	}
	return nil
}

// SendAlert posts an alert summary with its analysis
func (n *Notifier) SendAlert(ctx context.Context, event *models.Event, analysis *models.AIAnalysis) error {
	channelID, err := n.resolver.ResolveChannel(ctx, n.channel)
	if err != nil {
		return err
	}

	_, _, err = n.api.PostMessageContext(ctx, channelID,
		slack.MsgOptionText("Alert: "+event.Title, false),
		slack.MsgOptionBlocks(alertBlocks(event, analysis)...),
	)
	if err != nil {
		return fmt.Errorf("failed to post alert: %w", err)
	}
	return nil
}

// Listener returns a pipeline subscriber posting terminal action results, and alert
// summaries when withAlerts is set. Posting happens off the pipeline goroutine.
func (n *Notifier) Listener(ctx context.Context, withAlerts bool) pipeline.Listener {
	return func(note pipeline.Notification) {
		switch note.Kind {
		case pipeline.ActionUpdated:
			if note.Action == nil || !note.Action.Status.IsTerminal() || note.Action.Status == models.ActionStatusRejected {
				return
			}
			action := note.Action
			go func() {
				if err := n.SendActionResult(ctx, action); err != nil {
					logging.Warnf("Slack: %v", err)
				}
			}()
		case pipeline.AnalysisCompleted:
			if !withAlerts || note.Event == nil {
				return
			}
			event, analysis := note.Event, note.Analysis
			go func() {
				if err := n.SendAlert(ctx, event, analysis); err != nil {
					logging.Warnf("Slack: %v", err)
				}
			}()
		}
	}
}

func splitRef(ref string) (channelID, ts string) {
	if ref == "" {
		return "", ""
	}
	if i := strings.IndexByte(ref, ':'); i >= 0 {
		return ref[:i], ref[i+1:]
	}
	return "", ref
}

func severityEmoji(s models.Severity) string {
	switch s {
	case models.SeverityCritical:
		return ":rotating_light:"
	case models.SeverityWarning:
		return ":warning:"
	case models.SeverityInfo:
		return ":information_source:"
	}
	return ":bell:"
}

func plain(text string) *slack.TextBlockObject {
	return slack.NewTextBlockObject(slack.PlainTextType, text, true, false)
}

func mrkdwn(text string) *slack.TextBlockObject {
	return slack.NewTextBlockObject(slack.MarkdownType, text, false, false)
}

func textSection(text string) *slack.SectionBlock {
	return slack.NewSectionBlock(mrkdwn(text), nil, nil)
}

func fieldsSection(fields ...string) *slack.SectionBlock {
	objs := make([]*slack.TextBlockObject, len(fields))
	for i, f := range fields {
		objs[i] = mrkdwn(f)
	}
	return slack.NewSectionBlock(nil, objs, nil)
}

func percent(f float64) string {
	return fmt.Sprintf("%.0f%%", f*100)
}

func approvalBlocks(req *models.ApprovalRequest) []slack.Block {
	event := req.Event
	if event == nil {
		event = &models.Event{}
	}
	analysis := req.Analysis
	if analysis == nil {
		analysis = &models.AIAnalysis{}
	}

	blocks := []slack.Block{
		slack.NewHeaderBlock(plain(severityEmoji(event.Severity) + " Approval Required")),
		textSection("*Alert:* " + event.Title),
		fieldsSection(
			"*Severity:*\n"+strings.ToUpper(string(event.Severity)),
			"*Source:*\n"+string(event.Source),
			"*Action:*\n`"+string(req.Action.ActionType)+"`",
			"*Confidence:*\n"+percent(analysis.Confidence),
		),
		slack.NewDividerBlock(),
		textSection("*AI Analysis:*\n" + analysis.Summary),
	}
	if analysis.RootCause != "" {
		blocks = append(blocks, textSection("*Root Cause:*\n"+analysis.RootCause))
	}

	approve := slack.NewButtonBlockElement(ApproveActionID, req.ID, plain(":white_check_mark: Approve")).
		WithStyle(slack.StylePrimary)
	reject := slack.NewButtonBlockElement(RejectActionID, req.ID, plain(":x: Reject")).
		WithStyle(slack.StyleDanger)

	expires := "Never"
	if !req.ExpiresAt.IsZero() {
		expires = req.ExpiresAt.UTC().Format("2006-01-02 15:04 UTC")
	}

	return append(blocks,
		slack.NewDividerBlock(),
		slack.NewActionBlock(approvalBlockPrefix+req.ID, approve, reject),
		slack.NewContextBlock("", mrkdwn(fmt.Sprintf("Request ID: `%s` | Expires: %s", req.ID, expires))),
	)
}

func decisionBlocks(req *models.ApprovalRequest, approved bool, responder, reason string) []slack.Block {
	emoji, status := ":x:", "Rejected"
	if approved {
		emoji, status = ":white_check_mark:", "Approved"
	}
	title := ""
	if req.Event != nil {
		title = req.Event.Title
	}

	blocks := []slack.Block{
		slack.NewHeaderBlock(plain(emoji + " Action " + status)),
		textSection("*Alert:* " + title),
		fieldsSection(
			"*Action:*\n`"+string(req.Action.ActionType)+"`",
			"*"+status+" by:*\n"+responder,
		),
	}
	if reason != "" {
		blocks = append(blocks, textSection("*Reason:*\n"+reason))
	}
	return append(blocks, slack.NewContextBlock("", mrkdwn(fmt.Sprintf("Request ID: `%s`", req.ID))))
}

func resultBlocks(action *models.RemediationAction) []slack.Block {
	success := action.Status == models.ActionStatusSuccess
	emoji, header, status := ":x:", "Failed", "Failed"
	if success {
		emoji, header, status = ":white_check_mark:", "Completed", "Success"
	}

	blocks := []slack.Block{
		slack.NewHeaderBlock(plain(emoji + " Action " + header)),
		fieldsSection(
			"*Action:*\n"+string(action.ActionType),
			"*Status:*\n"+status,
		),
	}
	if len(action.Result) > 0 {
		if details, err := json.MarshalIndent(action.Result, "", "  "); err == nil {
			blocks = append(blocks, textSection("*Details:*\n```"+utils.Truncate(string(details), 2000)+"```"))
		}
	}
	if action.Error != "" {
		blocks = append(blocks, textSection("*Error:*\n```"+utils.Truncate(action.Error, 1000)+"```"))
	}
	if action.ExecutedAt != nil {
		blocks = append(blocks, slack.NewContextBlock("",
			mrkdwn("Finished "+utils.FormatDuration(action.ExecutedAt.Sub(action.CreatedAt))+" after the action was proposed")))
	}
	return blocks
}

func alertBlocks(event *models.Event, analysis *models.AIAnalysis) []slack.Block {
	blocks := []slack.Block{
		slack.NewHeaderBlock(plain(severityEmoji(event.Severity) + " " + event.Title)),
		fieldsSection(
			"*Severity:*\n"+strings.ToUpper(string(event.Severity)),
			"*Source:*\n"+string(event.Source),
		),
		textSection("*Description:*\n" + utils.Truncate(event.Description, 500)),
	}
	if analysis != nil {
		actions := make([]string, len(analysis.SuggestedActions))
		for i, a := range analysis.SuggestedActions {
			actions[i] = string(a)
		}
		blocks = append(blocks,
			slack.NewDividerBlock(),
			textSection("*AI Analysis:*\n"+analysis.Summary),
			fieldsSection(
				"*Confidence:*\n"+percent(analysis.Confidence),
				"*Actions:*\n"+strings.Join(actions, ", "),
			),
		)
	}
	return blocks
}
