package wallet

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/time/rate"

	"github.com/malbeclabs/questrunner/runner/pkg/captcha"
	"github.com/malbeclabs/questrunner/runner/pkg/chain"
)

// Wallet is one configured account with the network material assigned to it.
type Wallet struct {
	Identity chain.Identity
	// Proxy is a proxy URL; empty means direct.
	Proxy string
	// SocialToken is the account's primary social-auth token, if any.
	SocialToken string
}

// Session holds the network clients owned by one wallet run.
type Session struct {
	HTTP    *http.Client
	Chain   chain.Client
	Captcha captcha.Solver

	closers []func()
}

func (s *Session) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
	s.closers = nil
}

func (s *Session) OnClose(fn func()) { s.closers = append(s.closers, fn) }

type SessionFactory interface {
	Open(ctx context.Context, w Wallet) (*Session, error)
}

type NetSessionsConfig struct {
	Logger              *slog.Logger
	RPCURLs             []string
	UseProxyForRPC      bool
	SkipSSLVerification bool
	ConfirmTimeout      time.Duration
	GasMultiplier       float64

	CaptchaProvider string
	CaptchaAPIKey   string
	// CaptchaLimiter is shared by every session.
	CaptchaLimiter *rate.Limiter

	Clock clockwork.Clock
	Rand  *rand.Rand
}

func (cfg *NetSessionsConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if len(cfg.RPCURLs) == 0 {
		return errors.New("at least one rpc url is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	return nil
}

// NetSessions opens real HTTP, RPC and captcha clients, all routed through the
// wallet's proxy.
type NetSessions struct {
	cfg NetSessionsConfig
}

func NewNetSessions(cfg NetSessionsConfig) (*NetSessions, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &NetSessions{cfg: cfg}, nil
}

func (f *NetSessions) Open(ctx context.Context, w Wallet) (*Session, error) {
	httpClient, err := NewHTTPClient(w.Proxy, f.cfg.SkipSSLVerification)
	if err != nil {
		return nil, err
	}
	s := &Session{HTTP: httpClient}
	s.OnClose(httpClient.CloseIdleConnections)

	rpcHTTP := &http.Client{Timeout: 30 * time.Second}
	if f.cfg.UseProxyForRPC {
		rpcHTTP = httpClient
	}
	ch, err := chain.Dial(ctx, chain.Config{
		Logger:         f.cfg.Logger,
		URLs:           f.cfg.RPCURLs,
		HTTPClient:     rpcHTTP,
		ConfirmTimeout: f.cfg.ConfirmTimeout,
		GasMultiplier:  f.cfg.GasMultiplier,
		Clock:          f.cfg.Clock,
		Rand:           f.cfg.Rand,
	})
	if err != nil {
		s.Close()
		return nil, err
	}
	s.Chain = ch
	s.OnClose(ch.Close)

	if f.cfg.CaptchaAPIKey != "" {
		solver, err := captcha.New(captcha.Config{
			Logger:     f.cfg.Logger,
			Provider:   f.cfg.CaptchaProvider,
			APIKey:     f.cfg.CaptchaAPIKey,
			HTTPClient: httpClient,
			Limiter:    f.cfg.CaptchaLimiter,
			Clock:      f.cfg.Clock,
		})
		if err != nil {
			s.Close()
			return nil, err
		}
		s.Captcha = solver
	}
	return s, nil
}

// NewHTTPClient builds a client that sends everything through proxy.
func NewHTTPClient(proxy string, skipTLSVerify bool) (*http.Client, error) {
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   15 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ResponseHeaderTimeout: 60 * time.Second,
		IdleConnTimeout:       90 * time.Second,
		MaxIdleConns:          10,
		MaxIdleConnsPerHost:   5,
	}
	if proxy != "" {
		u, err := ParseProxy(proxy)
		if err != nil {
			return nil, err
		}
		transport.Proxy = http.ProxyURL(u)
	}
	if skipTLSVerify {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}
	return &http.Client{Transport: transport, Timeout: 2 * time.Minute}, nil
}

// ParseProxy accepts full URLs, user:pass@host:port, host:port and
// host:port:user:pass. Bare forms default to http.
func ParseProxy(s string) (*url.URL, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, errors.New("empty proxy")
	}
	if !strings.Contains(s, "://") {
		if parts := strings.Split(s, ":"); len(parts) == 4 && !strings.Contains(s, "@") {
			s = fmt.Sprintf("%s:%s@%s:%s", parts[2], parts[3], parts[0], parts[1])
		}
		s = "http://" + s
	}
	u, err := url.Parse(s)
	if err != nil {
		return nil, fmt.Errorf("invalid proxy: %w", err)
	}
	switch u.Scheme {
	case "http", "https", "socks5", "socks5h":
	default:
		return nil, fmt.Errorf("unsupported proxy scheme %q", u.Scheme)
	}
	if u.Hostname() == "" || u.Port() == "" {
		return nil, errors.New("proxy must include host and port")
	}
	return u, nil
}
