package puzzlemania

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/malbeclabs/questrunner/runner/pkg/shared"
	"github.com/malbeclabs/questrunner/runner/pkg/task"
	"github.com/malbeclabs/questrunner/utils/pkg/retry"
)

const (
	// twitterWebBearer is the public bearer of the x.com web client.
	twitterWebBearer = "AAAAAAAAAAAAAAAAAAAAANRILgAAAAAAnNwIzUejRCOuH5E6I8xnZz4puTs%3D1Zv7ttfk8LF81IUq16cHjhLTvJu4FA33AGWWjCpTnA"
	twitterClientID  = "QzU1Y3VrM0xUaHdROWNJeGRZbkE6MTpjaQ"
	userAgent        = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/135.0.0.0 Safari/537.36"
)

// Remote answers that mean the wallet's X token cannot be used.
const (
	badTokenMarker  = "Could not authenticate you"
	linkedElsewhere = "linked_to_another_user"
)

// pkce is an OAuth proof key pair.
type pkce struct {
	verifier  string
	challenge string
	state     string
}

func newPKCE() (pkce, error) {
	var buf [64]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return pkce{}, err
	}
	verifier := base64.RawURLEncoding.EncodeToString(buf[:32])
	sum := sha256.Sum256([]byte(verifier))
	return pkce{
		verifier:  verifier,
		challenge: base64.RawURLEncoding.EncodeToString(sum[:]),
		state:     base64.RawURLEncoding.EncodeToString(buf[32:]),
	}, nil
}

// linkTwitter runs the privy OAuth flow against x.com with the wallet's token.
// A rejected token is swapped for a spare one and the attempt is retried.
func (s *session) linkTwitter(ctx context.Context) error {
	env := s.env
	token := env.Social.Get()
	if token == "" {
		return retry.Terminalf("no social token configured for this wallet")
	}

	keys, err := newPKCE()
	if err != nil {
		return fmt.Errorf("failed to create pkce: %w", err)
	}

	if _, err := task.DoJSON(ctx, env.HTTP, task.Request{
		URL:    s.cfg.PrivyURL + "/api/v1/oauth/init",
		Header: s.privyHeaders(),
		Body: map[string]string{
			"provider":       "twitter",
			"redirect_to":    SiteURL + "/",
			"code_challenge": keys.challenge,
			"state_code":     keys.state,
		},
	}, nil); err != nil {
		return fmt.Errorf("oauth init: %w", err)
	}

	ct0, err := csrfToken()
	if err != nil {
		return err
	}
	twitterHeaders := map[string]string{
		"Authorization":             "Bearer " + twitterWebBearer,
		"Cookie":                    "auth_token=" + token + "; ct0=" + ct0,
		"User-Agent":                userAgent,
		"X-Csrf-Token":              ct0,
		"X-Twitter-Active-User":     "yes",
		"X-Twitter-Auth-Type":       "OAuth2Session",
		"X-Twitter-Client-Language": "en",
	}

	params := url.Values{
		"client_id":             {twitterClientID},
		"code_challenge":        {keys.challenge},
		"code_challenge_method": {"S256"},
		"redirect_uri":          {s.cfg.PrivyURL + "/api/v1/oauth/callback"},
		"response_type":         {"code"},
		"scope":                 {"users.read tweet.read offline.access"},
		"state":                 {keys.state},
	}
	resp, err := task.Do(ctx, env.HTTP, task.Request{
		Method: http.MethodGet,
		URL:    s.cfg.TwitterURL + "/i/api/2/oauth2/authorize?" + params.Encode(),
		Header: twitterHeaders,
	})
	if err != nil {
		return err
	}
	if strings.Contains(resp.Body, badTokenMarker) {
		return s.replaceToken(token, "x rejected the token")
	}
	var authorize struct {
		AuthCode string `json:"auth_code"`
	}
	if err := decode(resp, &authorize); err != nil {
		return fmt.Errorf("authorize: %w", err)
	}

	if _, err := task.DoJSON(ctx, env.HTTP, task.Request{
		URL:    s.cfg.TwitterURL + "/i/api/2/oauth2/authorize",
		Header: twitterHeaders,
		Form:   url.Values{"approval": {"true"}, "code": {authorize.AuthCode}},
	}, nil); err != nil {
		return fmt.Errorf("approve: %w", err)
	}

	state, code, err := s.callback(ctx, keys.state, authorize.AuthCode)
	if err != nil {
		return fmt.Errorf("callback: %w", err)
	}

	resp, err = task.Do(ctx, env.HTTP, task.Request{
		URL:    s.cfg.PrivyURL + "/api/v1/oauth/link",
		Header: s.privyHeaders(),
		Body: map[string]string{
			"authorization_code": code,
			"state_code":         state,
			"code_verifier":      keys.verifier,
		},
	})
	if err != nil {
		return err
	}
	if strings.Contains(resp.Body, linkedElsewhere) {
		return s.replaceToken(token, "x account is linked to another user")
	}
	var linked privyUser
	if err := decode(resp, &linked); err != nil {
		return fmt.Errorf("link: %w", err)
	}
	if !linked.hasTwitter() {
		return retry.Transientf("x account not linked after oauth")
	}
	env.Log.Info("puzzlemania: x account linked")
	return nil
}

// callback completes the privy side of the flow without following the final
// redirect back to the site, whose query carries the privy state and code.
func (s *session) callback(ctx context.Context, state, code string) (string, string, error) {
	noRedirect := *s.env.HTTP
	noRedirect.CheckRedirect = func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse }

	resp, err := task.Do(ctx, &noRedirect, task.Request{
		Method: http.MethodGet,
		URL:    s.cfg.PrivyURL + "/api/v1/oauth/callback?" + url.Values{"state": {state}, "code": {code}}.Encode(),
		Header: map[string]string{"Referer": "https://x.com/", "User-Agent": userAgent},
	})
	if err != nil {
		return "", "", err
	}
	location := resp.Header.Get("Location")
	if location == "" {
		location = resp.URL
	}
	u, err := url.Parse(location)
	if err != nil {
		return "", "", fmt.Errorf("invalid callback location: %w", err)
	}
	q := u.Query()
	if q.Get("privy_oauth_state") == "" || q.Get("privy_oauth_code") == "" {
		return "", "", retry.Transientf("callback returned no oauth code (status %d)", resp.Status)
	}
	return q.Get("privy_oauth_state"), q.Get("privy_oauth_code"), nil
}

// replaceToken swaps the wallet's token for a spare and asks for another attempt.
func (s *session) replaceToken(old, reason string) error {
	env := s.env
	if env.Shared == nil {
		return retry.Terminalf("%s and no spare tokens left", reason)
	}
	fresh, err := env.Shared.ReplaceWithSpare(old)
	if errors.Is(err, shared.ErrResourceExhausted) {
		return retry.Terminalf("%s and no spare tokens left", reason)
	}
	if err != nil {
		return retry.AsFatal(err)
	}
	env.Social.Set(fresh)
	env.Log.Warn("puzzlemania: substituted spare x token", "reason", reason)
	return retry.Transientf("%s; retrying with a spare token", reason)
}

func decode(resp *task.Response, out any) error {
	if err := task.CheckResponse(resp.Status, resp.Body); err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(resp.Body), out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func csrfToken() (string, error) {
	var buf [16]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf[:]), nil
}
