package config

import (
	"fmt"
	"slices"

	"github.com/malbeclabs/questrunner/runner/pkg/chain"
	"github.com/malbeclabs/questrunner/runner/pkg/wallet"
	"github.com/malbeclabs/questrunner/utils/pkg/linestore"
)

// LoadWallets reads every configured private key with its proxy and social token.
// Proxies are reused round-robin when there are fewer proxies than keys; social
// tokens are matched by position.
func (c *Config) LoadWallets() ([]wallet.Wallet, error) {
	keys, err := linestore.New(c.Path(c.Data.PrivateKeys)).Read()
	if err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return nil, fmt.Errorf("%w: no private keys in %s", ErrInvalid, c.Path(c.Data.PrivateKeys))
	}
	proxies, err := linestore.New(c.Path(c.Data.Proxies)).Read()
	if err != nil {
		return nil, err
	}
	tokens, err := linestore.New(c.Path(c.Data.TwitterTokens)).Read()
	if err != nil {
		return nil, err
	}

	out := make([]wallet.Wallet, 0, len(keys))
	for i, key := range keys {
		id, err := chain.ParseIdentity(i+1, key)
		if err != nil {
			return nil, fmt.Errorf("%w: private key on line %d: %w", ErrInvalid, i+1, err)
		}
		w := wallet.Wallet{Identity: id}
		if len(proxies) > 0 {
			w.Proxy = proxies[i%len(proxies)]
			if _, err := wallet.ParseProxy(w.Proxy); err != nil {
				return nil, fmt.Errorf("%w: proxy for account %d: %w", ErrInvalid, i+1, err)
			}
		}
		if i < len(tokens) {
			w.SocialToken = tokens[i]
		}
		out = append(out, w)
	}
	return out, nil
}

// SelectWallets applies exact_accounts_to_use, or accounts_range when the exact
// list is empty. Account indexes are 1-based and kept as loaded.
func (s Settings) SelectWallets(all []wallet.Wallet) ([]wallet.Wallet, error) {
	if len(s.ExactAccountsToUse) > 0 {
		out := make([]wallet.Wallet, 0, len(s.ExactAccountsToUse))
		for _, idx := range s.ExactAccountsToUse {
			i := slices.IndexFunc(all, func(w wallet.Wallet) bool { return w.Identity.Index == idx })
			if i < 0 {
				return nil, fmt.Errorf("%w: account %d does not exist (%d loaded)", ErrInvalid, idx, len(all))
			}
			out = append(out, all[i])
		}
		return out, nil
	}

	start, end := 0, 0
	if len(s.AccountsRange) == 2 {
		start, end = s.AccountsRange[0], s.AccountsRange[1]
	}
	if start == 0 && end == 0 {
		return all, nil
	}
	if start < 1 {
		start = 1
	}
	var out []wallet.Wallet
	for _, w := range all {
		if w.Identity.Index >= start && w.Identity.Index <= end {
			out = append(out, w)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: accounts_range %v selects no wallet (%d loaded)", ErrInvalid, s.AccountsRange, len(all))
	}
	return out, nil
}

// ParseAccounts parses a command line account selector such as "1-5" or "2,4,7"
// into settings overrides.
func (s *Settings) ParseAccounts(sel string) error {
	if sel == "" {
		return nil
	}
	var a, b int
	if n, err := fmt.Sscanf(sel, "%d-%d", &a, &b); err == nil && n == 2 {
		if a < 1 || b < a {
			return fmt.Errorf("%w: account range %q", ErrInvalid, sel)
		}
		s.AccountsRange = []int{a, b}
		s.ExactAccountsToUse = nil
		return nil
	}
	var ids []int
	for _, f := range splitList(sel) {
		var id int
		if _, err := fmt.Sscanf(f, "%d", &id); err != nil || id < 1 {
			return fmt.Errorf("%w: account %q", ErrInvalid, f)
		}
		ids = append(ids, id)
	}
	s.ExactAccountsToUse = ids
	return nil
}
