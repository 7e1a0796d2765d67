// Package access implements the Access Filter (C4): ordered allow/deny
// evaluation against the client IP, followed by optional authentication.
package access

import (
	"crypto/subtle"
	"net/http"

	"golang.org/x/crypto/bcrypt"

	"github.com/relaymesh/edgeproxy/internal/errors"
	"github.com/relaymesh/edgeproxy/internal/model"
)

// dummyHash lets bcrypt.CompareHashAndPassword run for unknown usernames so
// rejection latency doesn't reveal whether the username exists, grounded on
// the teacher's internal/middleware/auth/basic.go.
var dummyHash, _ = bcrypt.GenerateFromPassword([]byte("dummy"), bcrypt.DefaultCost)

// CheckAllowDeny evaluates rules in order against clientIP per §4.4:
// AllowAll passes immediately; DenyAll rejects immediately; Deny with a
// matching value rejects; Allow with a matching value passes; Deny and
// Allow rules whose value does not match are skipped. If no rule fires,
// the request is rejected, making default-reject the baseline posture.
func CheckAllowDeny(rules []model.AllowDenyRule, clientIP string) bool {
	allowedByDefault := false
	for _, rule := range rules {
		switch rule.Kind {
		case model.AllowAll:
			return true
		case model.DenyAll:
			return false
		case model.Deny:
			if rule.Value == clientIP {
				return false
			}
		case model.Allow:
			if rule.Value == clientIP {
				return true
			}
		}
	}
	return allowedByDefault
}

// Authenticate applies the Route's configured Authentication mechanism, if
// any. A nil Authentication always passes.
func Authenticate(auth *model.Authentication, r *http.Request) error {
	if auth == nil {
		return nil
	}
	switch auth.Kind {
	case model.AuthBasic:
		return authenticateBasic(auth, r)
	case model.AuthAPIKey:
		return authenticateAPIKey(auth, r)
	default:
		return errors.New(errors.AuthRequired, "unknown authentication mechanism")
	}
}

func authenticateBasic(auth *model.Authentication, r *http.Request) error {
	username, password, ok := r.BasicAuth()
	if !ok {
		return errors.New(errors.AuthRequired, "Basic credentials not provided")
	}
	if username != auth.Username {
		bcrypt.CompareHashAndPassword(dummyHash, []byte(password)) //nolint:errcheck
		return errors.New(errors.AuthRequired, "invalid credentials")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(auth.PasswordHash), []byte(password)); err != nil {
		return errors.New(errors.AuthRequired, "invalid credentials")
	}
	return nil
}

func authenticateAPIKey(auth *model.Authentication, r *http.Request) error {
	got := r.Header.Get(auth.HeaderName)
	if got == "" {
		return errors.New(errors.AuthRequired, "api key not provided")
	}
	if subtle.ConstantTimeCompare([]byte(got), []byte(auth.ExpectedKey)) != 1 {
		return errors.New(errors.AuthRequired, "invalid api key")
	}
	return nil
}
