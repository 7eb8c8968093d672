package shared

import (
	"fmt"
	"strconv"
	"strings"
)

// Referral is one address:code:count record.
type Referral struct {
	Address string
	Code    string
	Count   int
}

func (r Referral) String() string {
	return fmt.Sprintf("%s:%s:%d", r.Address, r.Code, r.Count)
}

func ParseReferral(line string) (Referral, bool) {
	parts := strings.Split(strings.TrimSpace(line), ":")
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" {
		return Referral{}, false
	}
	n, err := strconv.Atoi(strings.TrimSpace(parts[2]))
	if err != nil || n < 0 {
		return Referral{}, false
	}
	return Referral{Address: strings.TrimSpace(parts[0]), Code: strings.TrimSpace(parts[1]), Count: n}, true
}

// Referrals returns every well-formed referral record.
func (c *Coordinator) Referrals() ([]Referral, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	lines, err := c.cfg.Referrals.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read referrals: %w", err)
	}
	var out []Referral
	for _, line := range lines {
		if r, ok := ParseReferral(line); ok {
			out = append(out, r)
		}
	}
	return out, nil
}

// ReserveReferral returns the first code whose recorded count plus outstanding
// reservations is below threshold, skipping the caller's own address. The
// reservation lives in memory only; the durable count moves through
// RecordReferralUse once the remote side has confirmed the registration, and
// ReleaseReferral drops a reservation whose registration failed.
func (c *Coordinator) ReserveReferral(threshold int, self string) (string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	lines, err := c.cfg.Referrals.Read()
	if err != nil {
		return "", false, fmt.Errorf("failed to read referrals: %w", err)
	}
	for _, line := range lines {
		r, ok := ParseReferral(line)
		if !ok {
			continue
		}
		if self != "" && strings.EqualFold(r.Address, self) {
			continue
		}
		if r.Count+c.reserved[r.Code] < threshold {
			c.reserved[r.Code]++
			return r.Code, true, nil
		}
	}
	return "", false, nil
}

// ReleaseReferral drops one outstanding reservation of code.
func (c *Coordinator) ReleaseReferral(code string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.releaseLocked(code)
}

func (c *Coordinator) releaseLocked(code string) {
	switch n := c.reserved[code]; {
	case n > 1:
		c.reserved[code] = n - 1
	case n == 1:
		delete(c.reserved, code)
	}
}

// RecordReferralUse turns one reservation of code into a durable invite. The
// reservation is consumed even when the code has vanished from the store.
func (c *Coordinator) RecordReferralUse(code string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.releaseLocked(code)

	lines, err := c.cfg.Referrals.Read()
	if err != nil {
		return fmt.Errorf("failed to read referrals: %w", err)
	}
	found := false
	for i, line := range lines {
		r, ok := ParseReferral(line)
		if !ok || r.Code != code {
			continue
		}
		r.Count++
		lines[i] = r.String()
		found = true
		break
	}
	if !found {
		return fmt.Errorf("referral code %q: %w", code, ErrNotFound)
	}
	if err := c.cfg.Referrals.Write(lines); err != nil {
		return fmt.Errorf("failed to write referrals: %w", err)
	}
	return nil
}

// RegisterReferralCode records a wallet's own code with a zero count. It reports
// false when the address or code is already present.
func (c *Coordinator) RegisterReferralCode(address, code string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	lines, err := c.cfg.Referrals.Read()
	if err != nil {
		return false, fmt.Errorf("failed to read referrals: %w", err)
	}
	for _, line := range lines {
		r, ok := ParseReferral(line)
		if !ok {
			continue
		}
		if strings.EqualFold(r.Address, address) || r.Code == code {
			return false, nil
		}
	}
	lines = append(lines, Referral{Address: address, Code: code}.String())
	if err := c.cfg.Referrals.Write(lines); err != nil {
		return false, fmt.Errorf("failed to write referrals: %w", err)
	}
	return true, nil
}
