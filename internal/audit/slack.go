package audit

import (
	"context"
	"fmt"

	"github.com/slack-go/slack"
)

// SlackPoster is the subset of the Slack client used to post messages
type SlackPoster interface {
	PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error)
}

// SlackSink posts alert lifecycle records to a Slack channel
type SlackSink struct {
	client  SlackPoster
	channel string
}

// NewSlackClient builds a Slack client. apiURL overrides the API base and is
// only set in tests.
func NewSlackClient(botToken, apiURL string) *slack.Client {
	var options []slack.Option
	if apiURL != "" {
		options = append(options, slack.OptionAPIURL(apiURL))
	}
	return slack.New(botToken, options...)
}

// NewSlackSink creates a sink posting to channel
func NewSlackSink(client SlackPoster, channel string) *SlackSink {
	return &SlackSink{client: client, channel: channel}
}

func (s *SlackSink) Name() string { return "slack" }

func (s *SlackSink) Record(ctx context.Context, rec Record) error {
	_, _, err := s.client.PostMessageContext(ctx, s.channel,
		slack.MsgOptionText(FormatSlackMessage(rec), false),
	)
	if err != nil {
		return fmt.Errorf("failed to post to slack: %w", err)
	}
	return nil
}

// FormatSlackMessage renders rec as a Slack mrkdwn message
func FormatSlackMessage(rec Record) string {
	switch rec.Action {
	case ActionAlertCreated:
		msg := fmt.Sprintf("%s *New %s alert #%d*\n:memo: *Event:* #%d",
			severityEmoji(rec.Severity), rec.Severity, rec.AlertID, rec.EventID)
		if rec.SourceName != "" {
			msg += fmt.Sprintf("\n:satellite: *Source:* %s", rec.SourceName)
		}
		return msg
	case ActionAlertStatusChanged:
		return fmt.Sprintf("%s *Alert #%d* %s -> %s\n:bust_in_silhouette: *By:* %s",
			statusEmoji(rec.ToStatus), rec.AlertID, rec.FromStatus, rec.ToStatus, rec.Actor)
	default:
		return fmt.Sprintf("Alert #%d: %s", rec.AlertID, rec.Action)
	}
}

func severityEmoji(severity string) string {
	switch severity {
	case "CRITICAL":
		return ":rotating_light:"
	case "HIGH":
		return ":red_circle:"
	case "MEDIUM":
		return ":large_orange_circle:"
	default:
		return ":large_blue_circle:"
	}
}

func statusEmoji(status string) string {
	switch status {
	case "RESOLVED":
		return ":white_check_mark:"
	case "ACKNOWLEDGED":
		return ":eyes:"
	default:
		return ":warning:"
	}
}
