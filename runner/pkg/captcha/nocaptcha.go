package captcha

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/malbeclabs/questrunner/utils/pkg/retry"
)

const noCaptchaBaseURL = "http://api.nocaptcha.io"

type noCaptcha struct {
	cfg     Config
	baseURL string
}

func newNoCaptcha(cfg Config) *noCaptcha {
	base := cfg.BaseURL
	if base == "" {
		base = noCaptchaBaseURL
	}
	return &noCaptcha{cfg: cfg, baseURL: base}
}

type noCaptchaResponse struct {
	Status int    `json:"status"`
	Msg    string `json:"msg"`
	Data   struct {
		GeneratedPassUUID string `json:"generated_pass_UUID"`
		Token             string `json:"token"`
	} `json:"data"`
}

func (n *noCaptcha) Solve(ctx context.Context, ch Challenge) (string, error) {
	path := "/api/wanda/hcaptcha/universal"
	if ch.Turnstile {
		path = "/api/wanda/cloudflare/universal"
	}
	body, err := json.Marshal(map[string]any{
		"sitekey":   ch.SiteKey,
		"referer":   ch.PageURL,
		"href":      ch.PageURL,
		"invisible": ch.Invisible,
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Token", n.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.cfg.HTTPClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("nocaptcha request: %w", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("nocaptcha read: %w", err)
	}
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return "", retry.Terminalf("nocaptcha: api key is invalid (status %d)", resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("nocaptcha: status %d: %s", resp.StatusCode, raw)
	}

	var out noCaptchaResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("nocaptcha decode: %w", err)
	}
	token := out.Data.GeneratedPassUUID
	if token == "" {
		token = out.Data.Token
	}
	if out.Status != 1 || token == "" {
		return "", fmt.Errorf("%w: nocaptcha: %s", ErrUnsolved, out.Msg)
	}
	n.cfg.Logger.Debug("captcha: solved", "provider", ProviderNoCaptcha)
	return token, nil
}
