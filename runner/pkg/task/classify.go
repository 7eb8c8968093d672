package task

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/malbeclabs/questrunner/utils/pkg/retry"
)

// Rule maps a case-insensitive substring of a remote response or error to a kind.
type Rule struct {
	Contains string
	Kind     retry.Kind
}

// Rules are checked in order; the first match wins. Anything unmatched is
// transient.
var Rules = []Rule{
	// Already satisfied.
	{Contains: "please wait 24 hours before requesting again", Kind: retry.AlreadyDone},
	{Contains: "hours before requesting again", Kind: retry.AlreadyDone},
	{Contains: "user has already completed the activity", Kind: retry.AlreadyDone},
	{Contains: "user needs to wait before trying again", Kind: retry.AlreadyDone},
	{Contains: "activity has already ended", Kind: retry.AlreadyDone},
	{Contains: "already minted", Kind: retry.AlreadyDone},
	{Contains: "already claimed", Kind: retry.AlreadyDone},

	// Will not get better by asking again.
	{Contains: "wallet balance is 0", Kind: retry.Terminal},
	{Contains: "insufficient funds", Kind: retry.Terminal},
	{Contains: "no spare tokens left", Kind: retry.Terminal},
	{Contains: "account suspended", Kind: retry.Terminal},
	{Contains: "your account is suspended", Kind: retry.Terminal},
	{Contains: "invalid private key", Kind: retry.Terminal},
	{Contains: "api key is invalid", Kind: retry.Terminal},
	{Contains: "invalid api key", Kind: retry.Terminal},

	// Explicitly retryable.
	{Contains: "service is busy", Kind: retry.Transient},
	{Contains: "invalid captcha", Kind: retry.Transient},
	{Contains: "rate limited", Kind: retry.Transient},
	{Contains: "too many requests", Kind: retry.Transient},
}

// ClassifyText returns the kind for a remote message.
func ClassifyText(msg string) retry.Kind {
	kind, _ := MatchText(msg)
	return kind
}

// MatchText reports the kind of the first rule matching msg, and whether any did.
func MatchText(msg string) (retry.Kind, bool) {
	lower := strings.ToLower(msg)
	for _, r := range Rules {
		if strings.Contains(lower, r.Contains) {
			return r.Kind, true
		}
	}
	return retry.Transient, false
}

// Classify resolves the kind of an error: an explicit tag wins, otherwise the
// error text is matched against Rules.
func Classify(err error) retry.Kind {
	if err == nil {
		return retry.Transient
	}
	var tagged *retry.Error
	if errors.As(err, &tagged) {
		return tagged.Kind
	}
	return ClassifyText(err.Error())
}

// CheckResponse turns a remote response body into an error of the right kind,
// or nil for a 2xx response that matches nothing.
func CheckResponse(status int, body string) error {
	kind, matched := MatchText(body)
	if status >= 200 && status < 300 {
		if matched {
			return &retry.Error{Kind: kind, Err: fmt.Errorf("%s", snippet(body))}
		}
		return nil
	}
	if status == http.StatusTooManyRequests {
		kind = retry.Transient
	}
	return &retry.Error{Kind: kind, Err: fmt.Errorf("status %d: %s", status, snippet(body))}
}

const maxSnippet = 300

// snippet shortens body for error text without splitting a UTF-8 sequence.
func snippet(body string) string {
	body = strings.ToValidUTF8(strings.TrimSpace(body), "\uFFFD")
	if len(body) <= maxSnippet {
		return body
	}
	cut := maxSnippet
	for cut > 0 && !utf8.RuneStart(body[cut]) {
		cut--
	}
	return body[:cut] + "..."
}
