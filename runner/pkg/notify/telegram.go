package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/malbeclabs/questrunner/runner/pkg/wallet"
	"github.com/malbeclabs/questrunner/utils/pkg/retry"
)

const defaultTelegramURL = "https://api.telegram.org"

type TelegramConfig struct {
	Logger   *slog.Logger
	BotToken string
	// ChatIDs receive every message.
	ChatIDs []int64
	// OnlyExecuted drops reports of runs that attempted no step.
	OnlyExecuted bool
	BaseURL      string
	HTTPClient   *http.Client
	Retry        retry.Config
}

func (cfg *TelegramConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.BotToken == "" {
		return errors.New("telegram bot token is required")
	}
	if len(cfg.ChatIDs) == 0 {
		return errors.New("at least one telegram chat id is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultTelegramURL
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = retry.DefaultConfig()
	}
	return nil
}

// Telegram posts messages through the Bot API sendMessage method.
type Telegram struct {
	log *slog.Logger
	cfg TelegramConfig
}

func NewTelegram(cfg TelegramConfig) (*Telegram, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Telegram{log: cfg.Logger, cfg: cfg}, nil
}

func (t *Telegram) NotifyReport(ctx context.Context, r wallet.Report) error {
	if t.cfg.OnlyExecuted && !r.Executed() && r.Fatal == nil {
		return nil
	}
	return t.send(ctx, FormatReport(r, FormatHTML))
}

func (t *Telegram) NotifyError(ctx context.Context, index int, address string, err error) error {
	return t.send(ctx, FormatError(index, address, err, FormatHTML))
}

type telegramMessage struct {
	ChatID                int64  `json:"chat_id"`
	Text                  string `json:"text"`
	ParseMode             string `json:"parse_mode"`
	DisableWebPagePreview bool   `json:"disable_web_page_preview"`
}

type telegramResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
}

type statusError struct {
	code int
	msg  string
}

func (e *statusError) Error() string   { return fmt.Sprintf("telegram: status %d: %s", e.code, e.msg) }
func (e *statusError) StatusCode() int { return e.code }

func (t *Telegram) send(ctx context.Context, text string) error {
	var errs []error
	for _, chatID := range t.cfg.ChatIDs {
		err := retry.Do(ctx, t.cfg.Retry, func() error {
			return t.post(ctx, chatID, text)
		})
		if err != nil {
			t.log.Warn("notify: telegram send failed", "chat_id", chatID, "error", err)
		}
		errs = append(errs, observe("telegram", err))
	}
	return errors.Join(errs...)
}

func (t *Telegram) post(ctx context.Context, chatID int64, text string) error {
	body, err := json.Marshal(telegramMessage{ChatID: chatID, Text: text, ParseMode: "HTML", DisableWebPagePreview: true})
	if err != nil {
		return retry.AsTerminal(err)
	}
	endpoint := fmt.Sprintf("%s/bot%s/sendMessage", t.cfg.BaseURL, t.cfg.BotToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return retry.AsTerminal(err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.cfg.HTTPClient.Do(req)
	if err != nil {
		// The request URL carries the bot token; keep it out of logs.
		var uerr *url.Error
		if errors.As(err, &uerr) {
			err = uerr.Err
		}
		return fmt.Errorf("telegram: %w", err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var out telegramResponse
	_ = json.Unmarshal(raw, &out)
	if resp.StatusCode != http.StatusOK || !out.OK {
		msg := out.Description
		if msg == "" {
			msg = string(raw)
		}
		return &statusError{code: resp.StatusCode, msg: msg}
	}
	return nil
}
