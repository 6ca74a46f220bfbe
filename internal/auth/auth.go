// Package auth identifies the caller of user-facing routes.
package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	gooidc "github.com/coreos/go-oidc/v3/oidc"
	"github.com/rotisserie/eris"

	"github.com/nooglenTech/Investment-Intelligence-Platform/internal/config"
	"github.com/nooglenTech/Investment-Intelligence-Platform/internal/model"
)

// ErrUnauthenticated is returned when a request carries no usable credentials.
var ErrUnauthenticated = errors.New("auth: missing or invalid credentials")

// Identity is an authenticated caller.
type Identity struct {
	Subject   string
	FirstName string
	LastName  string
}

// DisplayName returns "first last", or "Anonymous" when both are blank.
func (i Identity) DisplayName() string {
	return model.DisplayName(i.FirstName, i.LastName)
}

// Authenticator resolves the caller of a request.
type Authenticator interface {
	Authenticate(r *http.Request) (*Identity, error)
}

// New creates the Authenticator named by cfg.Provider.
func New(ctx context.Context, cfg config.AuthConfig) (Authenticator, error) {
	switch cfg.Provider {
	case "oidc", "":
		return NewOIDC(ctx, cfg)
	case "header":
		return Header{}, nil
	default:
		return nil, eris.Errorf("auth: unknown provider %q", cfg.Provider)
	}
}

// OIDC verifies bearer ID tokens issued by an OpenID Connect provider.
type OIDC struct {
	verifier *gooidc.IDTokenVerifier
}

// NewOIDC discovers the issuer's signing keys and builds a verifier. An
// empty client ID disables the audience check.
func NewOIDC(ctx context.Context, cfg config.AuthConfig) (*OIDC, error) {
	issuer := strings.TrimSpace(cfg.Issuer)
	if issuer == "" {
		return nil, eris.New("auth: oidc provider requires auth.issuer")
	}
	provider, err := gooidc.NewProvider(ctx, issuer)
	if err != nil {
		return nil, eris.Wrapf(err, "auth: discover issuer %s", issuer)
	}
	return &OIDC{verifier: provider.Verifier(verifierConfig(cfg.ClientID))}, nil
}

// NewOIDCWithKeySet builds a verifier from a fixed key set instead of
// discovery.
func NewOIDCWithKeySet(issuer, clientID string, keys gooidc.KeySet) *OIDC {
	return &OIDC{verifier: gooidc.NewVerifier(issuer, keys, verifierConfig(clientID))}
}

func verifierConfig(clientID string) *gooidc.Config {
	return &gooidc.Config{
		ClientID:          clientID,
		SkipClientIDCheck: clientID == "",
	}
}

// tokenClaims accepts both the custom name claims and the standard OIDC ones.
type tokenClaims struct {
	FirstName  string `json:"first_name"`
	LastName   string `json:"last_name"`
	GivenName  string `json:"given_name"`
	FamilyName string `json:"family_name"`
}

// Authenticate verifies the bearer token and maps its claims.
func (o *OIDC) Authenticate(r *http.Request) (*Identity, error) {
	raw, ok := bearerToken(r.Header.Get("Authorization"))
	if !ok {
		return nil, ErrUnauthenticated
	}
	tok, err := o.verifier.Verify(r.Context(), raw)
	if err != nil {
		return nil, eris.Wrapf(ErrUnauthenticated, "auth: verify token: %v", err)
	}
	if tok.Subject == "" {
		return nil, eris.Wrap(ErrUnauthenticated, "auth: token has no subject")
	}

	var c tokenClaims
	if err := tok.Claims(&c); err != nil {
		return nil, eris.Wrapf(ErrUnauthenticated, "auth: decode claims: %v", err)
	}
	return &Identity{
		Subject:   tok.Subject,
		FirstName: firstNonEmpty(c.FirstName, c.GivenName),
		LastName:  firstNonEmpty(c.LastName, c.FamilyName),
	}, nil
}

// Header trusts identity headers set by a fronting proxy. Development only.
type Header struct{}

// Authenticate reads X-User-ID and the optional name headers.
func (Header) Authenticate(r *http.Request) (*Identity, error) {
	sub := strings.TrimSpace(r.Header.Get("X-User-ID"))
	if sub == "" {
		return nil, ErrUnauthenticated
	}
	return &Identity{
		Subject:   sub,
		FirstName: strings.TrimSpace(r.Header.Get("X-User-First-Name")),
		LastName:  strings.TrimSpace(r.Header.Get("X-User-Last-Name")),
	}, nil
}

func bearerToken(h string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(h), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}

type ctxKey struct{}

// WithIdentity returns a context carrying id.
func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// FromContext returns the identity stored by WithIdentity.
func FromContext(ctx context.Context) (*Identity, bool) {
	id, ok := ctx.Value(ctxKey{}).(*Identity)
	return id, ok && id != nil
}
