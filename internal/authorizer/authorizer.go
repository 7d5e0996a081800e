// Package authorizer validates bearer credentials against a cached secret
// and emits IAM-style allow/deny policy decisions scoped to one resource.
package authorizer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/crestdata/ingest-pipeline/internal/metrics"
)

// ErrUnauthorized marks a request-level denial. It is never retried.
var ErrUnauthorized = errors.New("authorizer: unauthorized")

// Effect is the policy outcome for a statement.
type Effect string

const (
	EffectAllow Effect = "Allow"
	EffectDeny  Effect = "Deny"
)

// Statement grants or denies the invoke action on exactly one resource.
// The resource is always the ARN the caller presented, never a wildcard.
type Statement struct {
	Action   string `json:"Action"`
	Effect   Effect `json:"Effect"`
	Resource string `json:"Resource"`
}

// PolicyDocument is the IAM-style policy wrapper around a single statement.
type PolicyDocument struct {
	Version   string      `json:"Version"`
	Statement []Statement `json:"Statement"`
}

// Decision is the authorizer output consumed by API gateways and by the
// query service middleware.
type Decision struct {
	PrincipalID    string         `json:"principalId"`
	PolicyDocument PolicyDocument `json:"policyDocument"`
}

// Allowed reports whether the decision grants access.
func (d Decision) Allowed() bool {
	for _, s := range d.PolicyDocument.Statement {
		if s.Effect != EffectAllow {
			return false
		}
	}
	return len(d.PolicyDocument.Statement) > 0
}

// SecretProvider serves the expected credential. *secrets.Cache satisfies it.
type SecretProvider interface {
	Get(ctx context.Context) (string, error)
}

// Authorizer compares normalized bearer tokens against a cached secret.
type Authorizer struct {
	secrets   SecretProvider
	principal string
	log       *slog.Logger
}

// New builds an authorizer. The principal ID is attached to every decision.
func New(secrets SecretProvider, principal string) *Authorizer {
	if principal == "" {
		principal = "user"
	}
	return &Authorizer{
		secrets:   secrets,
		principal: principal,
		log:       slog.With("component", "authorizer"),
	}
}

// NormalizeToken extracts the bare credential from the raw authorization
// value. A string is trimmed and split on whitespace with the last field
// taken, so "Bearer abc123" yields "abc123". A sequence contributes its
// first element, stringified and trimmed. Anything else normalizes to the
// empty string, which always denies.
func NormalizeToken(raw any) string {
	switch v := raw.(type) {
	case string:
		fields := strings.Fields(v)
		if len(fields) == 0 {
			return ""
		}
		return fields[len(fields)-1]
	case []string:
		if len(v) == 0 {
			return ""
		}
		return strings.TrimSpace(v[0])
	case []any:
		if len(v) == 0 {
			return ""
		}
		return strings.TrimSpace(fmt.Sprint(v[0]))
	default:
		return ""
	}
}

// Authorize normalizes the raw token and compares it to the cached secret.
// Empty input denies without consulting the secret store. A secret store
// failure denies and surfaces the error so operators can tell outages from
// bad credentials.
func (a *Authorizer) Authorize(ctx context.Context, rawToken any, methodArn string) (Decision, error) {
	token := NormalizeToken(rawToken)
	if token == "" {
		a.log.Warn("empty or unparseable token", "resource", methodArn)
		return a.decide(EffectDeny, methodArn), nil
	}

	secret, err := a.secrets.Get(ctx)
	if err != nil {
		a.log.Error("secret fetch failed", "error", err)
		return a.decide(EffectDeny, methodArn), fmt.Errorf("authorizer: fetch secret: %w", err)
	}

	if token != secret {
		a.log.Warn("token mismatch", "resource", methodArn)
		return a.decide(EffectDeny, methodArn), nil
	}
	return a.decide(EffectAllow, methodArn), nil
}

func (a *Authorizer) decide(effect Effect, resource string) Decision {
	if effect == EffectDeny {
		if m := metrics.Get(); m != nil {
			m.AuthDenied.Inc()
		}
	}
	return Decision{
		PrincipalID: a.principal,
		PolicyDocument: PolicyDocument{
			Version: "2012-10-17",
			Statement: []Statement{{
				Action:   "invoke",
				Effect:   effect,
				Resource: resource,
			}},
		},
	}
}

// Request is the raw authorization document. The token field accepts both a
// plain string and a list of strings.
type Request struct {
	AuthorizationToken any    `json:"authorizationToken"`
	MethodArn          string `json:"methodArn"`
}

// AuthorizeRequest decodes a raw authorization document and evaluates it.
func (a *Authorizer) AuthorizeRequest(ctx context.Context, raw []byte) (Decision, error) {
	var req Request
	if err := json.Unmarshal(raw, &req); err != nil {
		return Decision{}, fmt.Errorf("authorizer: decode request: %w", err)
	}
	return a.Authorize(ctx, req.AuthorizationToken, req.MethodArn)
}
