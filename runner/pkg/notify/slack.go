package notify

import (
	"context"
	"errors"
	"log/slog"

	"github.com/slack-go/slack"

	"github.com/malbeclabs/questrunner/runner/pkg/wallet"
)

type SlackConfig struct {
	Logger    *slog.Logger
	BotToken  string
	ChannelID string
	// APIURL overrides the Slack endpoint; it must end with a slash.
	APIURL       string
	OnlyExecuted bool
}

func (cfg *SlackConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.BotToken == "" {
		return errors.New("slack bot token is required")
	}
	if cfg.ChannelID == "" {
		return errors.New("slack channel id is required")
	}
	return nil
}

type Slack struct {
	log *slog.Logger
	cfg SlackConfig
	api *slack.Client
}

func NewSlack(cfg SlackConfig) (*Slack, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	var opts []slack.Option
	if cfg.APIURL != "" {
		opts = append(opts, slack.OptionAPIURL(cfg.APIURL))
	}
	return &Slack{log: cfg.Logger, cfg: cfg, api: slack.New(cfg.BotToken, opts...)}, nil
}

func (s *Slack) NotifyReport(ctx context.Context, r wallet.Report) error {
	if s.cfg.OnlyExecuted && !r.Executed() && r.Fatal == nil {
		return nil
	}
	return s.post(ctx, FormatReport(r, FormatMrkdwn))
}

func (s *Slack) NotifyError(ctx context.Context, index int, address string, err error) error {
	return s.post(ctx, FormatError(index, address, err, FormatMrkdwn))
}

func (s *Slack) post(ctx context.Context, text string) error {
	block := slack.NewSectionBlock(slack.NewTextBlockObject(slack.MarkdownType, text, false, false), nil, nil)
	_, _, err := s.api.PostMessageContext(ctx, s.cfg.ChannelID,
		slack.MsgOptionText(text, false),
		slack.MsgOptionBlocks(block),
	)
	if err != nil {
		s.log.Warn("notify: slack post failed", "channel", s.cfg.ChannelID, "error", err)
	}
	return observe("slack", err)
}
