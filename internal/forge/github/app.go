package github

import (
	"context"
	"crypto/rsa"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	gh "github.com/google/go-github/v57/github"
	"golang.org/x/oauth2"

	"github.com/grepiku/grepiku/pkg/errors"
)

// Installation tokens last an hour; refresh with this much slack left.
const tokenRefreshSlack = 5 * time.Minute

// appTokenSource mints and caches GitHub App installation tokens. It
// doubles as an oauth2.TokenSource so the API client transparently picks up
// fresh tokens.
type appTokenSource struct {
	appID          int64
	installationID int64
	key            *rsa.PrivateKey
	baseURL        string

	mu     sync.Mutex
	token  string
	expiry time.Time
}

func newAppTokenSource(appID int64, privateKeyPEM string, installationID int64, baseURL string) (*appTokenSource, error) {
	key, err := jwt.ParseRSAPrivateKeyFromPEM([]byte(privateKeyPEM))
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeConfigInvalid, "github: parse app private key", err)
	}
	return &appTokenSource{
		appID:          appID,
		installationID: installationID,
		key:            key,
		baseURL:        baseURL,
	}, nil
}

// Token implements oauth2.TokenSource.
func (s *appTokenSource) Token() (*oauth2.Token, error) {
	tok, err := s.installationToken(context.Background())
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	expiry := s.expiry
	s.mu.Unlock()
	return &oauth2.Token{AccessToken: tok, Expiry: expiry}, nil
}

// installationToken returns a cached installation token, minting a new one
// through the app JWT when the cached token is close to expiry.
func (s *appTokenSource) installationToken(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.token != "" && time.Until(s.expiry) > tokenRefreshSlack {
		return s.token, nil
	}

	signed, err := s.appJWT()
	if err != nil {
		return "", err
	}

	api := gh.NewClient(&http.Client{Transport: &bearerTransport{token: signed}})
	if s.baseURL != "" {
		api, err = api.WithEnterpriseURLs(s.baseURL, s.baseURL)
		if err != nil {
			return "", errors.Wrap(errors.ErrCodeConfigInvalid, "github: enterprise base URL", err)
		}
	}

	tok, resp, err := api.Apps.CreateInstallationToken(ctx, s.installationID, nil)
	if err != nil {
		return "", wrapErr("create installation token", resp, err)
	}
	s.token = tok.GetToken()
	s.expiry = tok.GetExpiresAt().Time
	return s.token, nil
}

// appJWT signs a short-lived app JWT. Issued-at is backdated to absorb
// clock skew between us and GitHub.
func (s *appTokenSource) appJWT() (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Issuer:    strconv.FormatInt(s.appID, 10),
		IssuedAt:  jwt.NewNumericDate(now.Add(-30 * time.Second)),
		ExpiresAt: jwt.NewNumericDate(now.Add(9 * time.Minute)),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(s.key)
	if err != nil {
		return "", errors.Wrap(errors.ErrCodeForgeAuth, "github: sign app jwt", err)
	}
	return signed, nil
}

type bearerTransport struct {
	token string
}

func (t *bearerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	clone := req.Clone(req.Context())
	clone.Header.Set("Authorization", "Bearer "+t.token)
	return http.DefaultTransport.RoundTrip(clone)
}
