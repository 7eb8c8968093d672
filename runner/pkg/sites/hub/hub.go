// Package hub implements the tasks served by the 0G testnet hub: the native
// faucet, the test token faucets and the hub swap router.
package hub

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/malbeclabs/questrunner/runner/pkg/captcha"
	"github.com/malbeclabs/questrunner/runner/pkg/chain"
	"github.com/malbeclabs/questrunner/runner/pkg/task"
	"github.com/malbeclabs/questrunner/utils/pkg/retry"
)

const (
	PageURL       = "https://hub.0g.ai"
	FaucetURL     = "https://992dkn4ph6.execute-api.us-west-1.amazonaws.com/"
	FaucetSiteKey = "1230eb62-f50c-4da4-a736-da5c3c342e8e"
	faucetToken   = "A0GI"
)

var (
	Router = common.HexToAddress("0xD86b764618c6E3C078845BE3c3fCe50CE9535Da7")

	// SwapTokens are the tokens tradable through Router.
	SwapTokens = map[string]common.Address{
		"USDT": common.HexToAddress("0x3eC8A8705bE1D5ca90066b37ba62c4183B024ebf"),
		"BTC":  common.HexToAddress("0x36f6414FF1df609214dDAbA71c84f18bcf00F67d"),
		"ETH":  common.HexToAddress("0x0fE9B43625fA7EdD663aDcEC0728DD635e4AbF7c"),
	}
)

// Faucet requests native test tokens behind an hCaptcha.
type Faucet struct {
	// URL overrides FaucetURL.
	URL string
}

type faucetRequest struct {
	Address       string `json:"address"`
	HCaptchaToken string `json:"hcaptchaToken"`
	Token         string `json:"token"`
}

func (f *Faucet) Execute(ctx context.Context, env *task.Env) error {
	if env.Captcha == nil {
		return retry.Terminalf("faucet needs a captcha solver; set a captcha api key")
	}
	solution, err := env.Captcha.Solve(ctx, captcha.Challenge{SiteKey: FaucetSiteKey, PageURL: PageURL})
	if err != nil {
		return fmt.Errorf("failed to solve faucet captcha: %w", err)
	}
	env.Log.Debug("hub: faucet captcha solved")

	url := f.URL
	if url == "" {
		url = FaucetURL
	}
	_, err = task.DoJSON(ctx, env.HTTP, task.Request{
		URL: url,
		Header: map[string]string{
			"Origin":  PageURL,
			"Referer": PageURL + "/",
		},
		Body: faucetRequest{
			Address:       env.Identity.Address.Hex(),
			HCaptchaToken: solution,
			Token:         faucetToken,
		},
	}, nil)
	if err != nil {
		if retry.IsAlreadyDone(err) {
			env.Log.Info("hub: faucet already claimed in the last 24 hours")
		}
		return err
	}
	env.Log.Info("hub: faucet request accepted")
	return nil
}

// TokenFaucets mints every test token once. It succeeds when at least one mint
// lands; the remaining failures are logged.
type TokenFaucets struct {
	// Tokens maps symbol to the mintable token contract, minted in Order.
	Tokens map[string]common.Address
	Order  []string
}

var mintSelector = common.FromHex("0x1249c58b")

func DefaultTokenFaucets() *TokenFaucets {
	return &TokenFaucets{
		Tokens: map[string]common.Address{
			"USDT": common.HexToAddress("0x9A87C2412d500343c073E5Ae5394E3bE3874F76b"),
			"ETH":  common.HexToAddress("0xce830D0905e0f7A9b300401729761579c5FB6bd6"),
			"BTC":  common.HexToAddress("0x1E0D871472973c562650E991ED8006549F8CBEfc"),
		},
		Order: []string{"USDT", "ETH", "BTC"},
	}
}

func (t *TokenFaucets) Execute(ctx context.Context, env *task.Env) error {
	if _, err := chain.RequireBalance(ctx, env.Chain, env.Identity.Address, nil); err != nil {
		return err
	}

	var (
		minted int
		errs   []error
	)
	for i, sym := range t.Order {
		to := t.Tokens[sym]
		receipt, err := env.Chain.Send(ctx, env.Identity, chain.TxRequest{To: &to, Data: mintSelector})
		switch {
		case err == nil:
			minted++
			env.Log.Info("hub: minted test token", "token", sym, "tx", receipt.TxHash.Hex())
		case ctx.Err() != nil:
			return ctx.Err()
		default:
			env.Log.Warn("hub: failed to mint test token", "token", sym, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", sym, err))
		}
		if i < len(t.Order)-1 {
			if err := env.Sleep(ctx, env.ActionPause); err != nil {
				return err
			}
		}
	}
	if minted == 0 {
		return fmt.Errorf("no test token minted: %w", errors.Join(errs...))
	}
	return nil
}
