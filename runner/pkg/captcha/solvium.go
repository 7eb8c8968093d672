package captcha

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/malbeclabs/questrunner/utils/pkg/retry"
)

const solviumBaseURL = "https://captcha.solvium.io/api/v1"

type solvium struct {
	cfg     Config
	baseURL string
}

func newSolvium(cfg Config) *solvium {
	base := cfg.BaseURL
	if base == "" {
		base = solviumBaseURL
	}
	return &solvium{cfg: cfg, baseURL: base}
}

type solviumTask struct {
	Message string `json:"message"`
	TaskID  string `json:"task_id"`
}

type solviumStatus struct {
	Status string `json:"status"`
	Result struct {
		Solution string `json:"solution"`
		Error    string `json:"error"`
	} `json:"result"`
}

func (s *solvium) Solve(ctx context.Context, ch Challenge) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	kind := "hcaptcha"
	if ch.Turnstile {
		kind = "turnstile"
	}
	q := url.Values{"url": {ch.PageURL}, "sitekey": {ch.SiteKey}}
	var task solviumTask
	if err := s.get(ctx, "/task/"+kind+"?"+q.Encode(), &task); err != nil {
		return "", err
	}
	if task.TaskID == "" {
		return "", fmt.Errorf("%w: solvium: %s", ErrUnsolved, task.Message)
	}

	ticker := s.cfg.Clock.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return "", fmt.Errorf("%w: solvium task %s: %w", ErrUnsolved, task.TaskID, ctx.Err())
		case <-ticker.Chan():
		}

		var st solviumStatus
		if err := s.get(ctx, "/task/status/"+url.PathEscape(task.TaskID), &st); err != nil {
			if retry.IsTerminal(err) {
				return "", err
			}
			s.cfg.Logger.Debug("captcha: solvium poll failed", "error", err)
			continue
		}
		switch st.Status {
		case "completed":
			if st.Result.Solution == "" {
				return "", fmt.Errorf("%w: solvium returned an empty solution", ErrUnsolved)
			}
			s.cfg.Logger.Debug("captcha: solved", "provider", ProviderSolvium)
			return st.Result.Solution, nil
		case "failed", "error":
			return "", fmt.Errorf("%w: solvium: %s", ErrUnsolved, st.Result.Error)
		}
	}
}

func (s *solvium) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+s.cfg.APIKey)

	resp, err := s.cfg.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("solvium request: %w", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("solvium read: %w", err)
	}
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return retry.Terminalf("solvium: api key is invalid (status %d)", resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("solvium: status %d: %s", resp.StatusCode, raw)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("solvium decode: %w", err)
	}
	return nil
}
