package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/agroia/agroia-backend/internal/domain/analysis"
)

// FirebaseCertsURL serves the x509 certificates that sign Firebase ID tokens.
const FirebaseCertsURL = "https://www.googleapis.com/robot/v1/metadata/x509/securetoken@system.gserviceaccount.com"

const leeway = 30 * time.Second

// FirebaseVerifier checks RS256 Firebase ID tokens for one project.
type FirebaseVerifier struct {
	projectID string
	certs     *certCache
	now       func() time.Time
}

func NewFirebaseVerifier(projectID string, httpClient *http.Client) (*FirebaseVerifier, error) {
	return newFirebaseVerifier(projectID, FirebaseCertsURL, httpClient)
}

func newFirebaseVerifier(projectID, certsURL string, httpClient *http.Client) (*FirebaseVerifier, error) {
	if strings.TrimSpace(projectID) == "" {
		return nil, fmt.Errorf("firebase project id is required")
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &FirebaseVerifier{
		projectID: projectID,
		certs:     newCertCache(httpClient, certsURL),
		now:       time.Now,
	}, nil
}

// Verify returns the token subject (the Firebase uid).
func (v *FirebaseVerifier) Verify(ctx context.Context, token string) (string, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithIssuer("https://securetoken.google.com/"+v.projectID),
		jwt.WithAudience(v.projectID),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithLeeway(leeway),
		jwt.WithTimeFunc(v.now),
	)
	return subject(parser, token, func(t *jwt.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			return nil, errors.New("missing kid")
		}
		return v.certs.key(ctx, kid)
	})
}

// HMACVerifier checks HS256 tokens signed with a shared secret. It is meant
// for local development and tests.
type HMACVerifier struct {
	secret   []byte
	issuer   string
	audience string
	now      func() time.Time
}

func NewHMACVerifier(secret, issuer, audience string) (*HMACVerifier, error) {
	if secret == "" {
		return nil, fmt.Errorf("hmac secret is required")
	}
	return &HMACVerifier{secret: []byte(secret), issuer: issuer, audience: audience, now: time.Now}, nil
}

func (v *HMACVerifier) Verify(_ context.Context, token string) (string, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithLeeway(leeway),
		jwt.WithTimeFunc(v.now),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	if v.audience != "" {
		opts = append(opts, jwt.WithAudience(v.audience))
	}
	return subject(jwt.NewParser(opts...), token, func(*jwt.Token) (any, error) {
		return v.secret, nil
	})
}

// Sign issues an HS256 token for owner, valid for ttl.
func (v *HMACVerifier) Sign(owner string, ttl time.Duration) (string, error) {
	now := v.now()
	claims := jwt.RegisteredClaims{
		Subject:   owner,
		Issuer:    v.issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	if v.audience != "" {
		claims.Audience = jwt.ClaimStrings{v.audience}
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}

func subject(parser *jwt.Parser, token string, keyFunc jwt.Keyfunc) (string, error) {
	if strings.TrimSpace(token) == "" {
		return "", fmt.Errorf("%w: empty token", analysis.ErrUnauthorized)
	}
	claims := &jwt.RegisteredClaims{}
	if _, err := parser.ParseWithClaims(token, claims, keyFunc); err != nil {
		return "", fmt.Errorf("%w: %w", analysis.ErrUnauthorized, err)
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return "", fmt.Errorf("%w: missing sub", analysis.ErrUnauthorized)
	}
	return claims.Subject, nil
}

// Deny rejects every token. It stands in when no verifier could be built, so
// the API answers 401 instead of the process refusing to start.
type Deny struct {
	Reason string
}

func (d Deny) Verify(context.Context, string) (string, error) {
	return "", fmt.Errorf("%w: %s", analysis.ErrUnauthorized, d.Reason)
}
