package puzzlemania

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/malbeclabs/questrunner/runner/pkg/task"
	"github.com/malbeclabs/questrunner/utils/pkg/retry"
)

// session carries the tokens of one signed-in wallet.
type session struct {
	cfg Config
	env *task.Env

	bearer       string
	refreshToken string
	// deformToken authorizes campaign API calls.
	deformToken string
}

type linkedAccount struct {
	Type     string `json:"type"`
	Username string `json:"username"`
}

type privyUser struct {
	HasAcceptedTerms bool            `json:"has_accepted_terms"`
	LinkedAccounts   []linkedAccount `json:"linked_accounts"`
}

func (u privyUser) hasTwitter() bool {
	for _, a := range u.LinkedAccounts {
		if a.Type == "twitter_oauth" {
			return true
		}
	}
	return false
}

type authResponse struct {
	Token        string    `json:"token"`
	RefreshToken string    `json:"refresh_token"`
	IsNewUser    bool      `json:"is_new_user"`
	User         privyUser `json:"user"`
}

func (s *session) privyHeaders() map[string]string {
	h := map[string]string{
		"Origin":       SiteURL,
		"Referer":      SiteURL + "/",
		"Privy-App-Id": privyAppID,
		"Privy-Client": privyClient,
	}
	if s.bearer != "" {
		h["Authorization"] = "Bearer " + s.bearer
	}
	return h
}

// SignInMessage is the SIWE message the site asks wallets to sign.
func SignInMessage(address, nonce string, issuedAt time.Time) string {
	return "puzzlemania.0g.ai wants you to sign in with your Ethereum account:\n" +
		address + "\n\n" +
		"By signing, you are proving you own this wallet and logging in. This does not initiate a transaction or cost any fees.\n\n" +
		"URI: " + SiteURL + "\n" +
		"Version: 1\n" +
		"Chain ID: 42161\n" +
		"Nonce: " + nonce + "\n" +
		"Issued At: " + issuedAt.UTC().Format("2006-01-02T15:04:05.000Z") + "\n" +
		"Resources:\n" +
		"- https://privy.io"
}

func (s *session) login(ctx context.Context) error {
	env := s.env
	address := env.Identity.Address.Hex()

	var initResp struct {
		Nonce string `json:"nonce"`
	}
	if _, err := task.DoJSON(ctx, env.HTTP, task.Request{
		URL:    s.cfg.PrivyURL + "/api/v1/siwe/init",
		Header: s.privyHeaders(),
		Body:   map[string]string{"address": address},
	}, &initResp); err != nil {
		return fmt.Errorf("failed to get nonce: %w", err)
	}
	if initResp.Nonce == "" {
		return retry.Transientf("empty sign-in nonce")
	}

	msg := SignInMessage(address, initResp.Nonce, env.Clock.Now())
	sig, err := env.Identity.SignPersonal([]byte(msg))
	if err != nil {
		return retry.AsTerminal(err)
	}

	var auth authResponse
	if _, err := task.DoJSON(ctx, env.HTTP, task.Request{
		URL:    s.cfg.PrivyURL + "/api/v1/siwe/authenticate",
		Header: s.privyHeaders(),
		Body: map[string]string{
			"message":          msg,
			"signature":        sig,
			"chainId":          "eip155:42161",
			"walletClientType": "metamask",
			"connectorType":    "injected",
			"mode":             "login-or-sign-up",
		},
	}, &auth); err != nil {
		return fmt.Errorf("failed to authenticate: %w", err)
	}
	s.bearer = auth.Token
	s.refreshToken = auth.RefreshToken
	env.Log.Info("puzzlemania: signed in", "new_user", auth.IsNewUser)

	var deform struct {
		Data struct {
			UserLogin string `json:"userLogin"`
		} `json:"data"`
	}
	if _, err := task.DoJSON(ctx, env.HTTP, task.Request{
		URL:    s.cfg.DeformURL,
		Header: s.deformHeaders("UserLogin", false),
		Body: graphQL{
			OperationName: "UserLogin",
			Variables:     map[string]any{"data": map[string]string{"externalAuthToken": s.bearer}},
			Query:         userLoginQuery,
		},
	}, &deform); err != nil {
		return fmt.Errorf("failed to log in to campaign api: %w", err)
	}
	if deform.Data.UserLogin == "" {
		return retry.Transientf("campaign api returned no session")
	}
	s.deformToken = deform.Data.UserLogin

	if !auth.User.HasAcceptedTerms {
		return s.acceptTerms(ctx)
	}
	return nil
}

func (s *session) acceptTerms(ctx context.Context) error {
	var out struct {
		HasAcceptedTerms bool `json:"has_accepted_terms"`
	}
	if _, err := task.DoJSON(ctx, s.env.HTTP, task.Request{
		URL:    s.cfg.PrivyURL + "/api/v1/users/me/accept_terms",
		Header: s.privyHeaders(),
		Body:   map[string]any{},
	}, &out); err != nil {
		return fmt.Errorf("failed to accept terms: %w", err)
	}
	if !out.HasAcceptedTerms {
		return retry.Transientf("terms not accepted")
	}
	s.env.Log.Info("puzzlemania: accepted terms")
	return nil
}

func (s *session) twitterLinked(ctx context.Context) (bool, error) {
	var out struct {
		User privyUser `json:"user"`
	}
	if _, err := task.DoJSON(ctx, s.env.HTTP, task.Request{
		Method: http.MethodPost,
		URL:    s.cfg.PrivyURL + "/api/v1/sessions",
		Header: s.privyHeaders(),
		Body:   map[string]string{"refresh_token": s.refreshToken},
	}, &out); err != nil {
		return false, err
	}
	return out.User.hasTwitter(), nil
}
