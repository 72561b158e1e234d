package drive

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

const scopeReadonly = "https://www.googleapis.com/auth/drive.readonly"

// serviceAccount is the subset of a Google service account key file the
// client needs to mint access tokens.
type serviceAccount struct {
	ClientEmail string `json:"client_email"`
	PrivateKey  string `json:"private_key"`
	TokenURI    string `json:"token_uri"`
}

// tokenSource exchanges a signed JWT assertion for short-lived access tokens
// and caches them until shortly before expiry.
type tokenSource struct {
	account serviceAccount
	key     *rsa.PrivateKey
	http    *http.Client

	mu     sync.Mutex
	token  string
	expiry time.Time
}

// newTokenSource parses the service account JSON blob. The credentials stay
// in memory only; nothing here is ever written to disk.
func newTokenSource(serviceAccountJSON string, httpClient *http.Client) (*tokenSource, error) {
	var account serviceAccount
	if err := json.Unmarshal([]byte(serviceAccountJSON), &account); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadCredentials, err)
	}
	if account.ClientEmail == "" || account.PrivateKey == "" {
		return nil, fmt.Errorf("%w: missing client_email or private_key", ErrBadCredentials)
	}
	if account.TokenURI == "" {
		account.TokenURI = "https://oauth2.googleapis.com/token"
	}

	block, _ := pem.Decode([]byte(account.PrivateKey))
	if block == nil {
		return nil, fmt.Errorf("%w: private_key is not PEM", ErrBadCredentials)
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		// Older key files use PKCS#1.
		if rsaKey, err1 := x509.ParsePKCS1PrivateKey(block.Bytes); err1 == nil {
			parsed = rsaKey
		} else {
			return nil, fmt.Errorf("%w: %v", ErrBadCredentials, err)
		}
	}
	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("%w: private_key is not RSA", ErrBadCredentials)
	}

	return &tokenSource{account: account, key: key, http: httpClient}, nil
}

// Token returns a valid access token, refreshing when the cached one is
// within a minute of expiry.
func (ts *tokenSource) Token(ctx context.Context) (string, error) {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	if ts.token != "" && time.Until(ts.expiry) > time.Minute {
		return ts.token, nil
	}

	assertion, err := ts.assertion(time.Now())
	if err != nil {
		return "", err
	}

	form := url.Values{
		"grant_type": {"urn:ietf:params:oauth:grant-type:jwt-bearer"},
		"assertion":  {assertion},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ts.account.TokenURI,
		strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	res, err := ts.http.Do(req)
	if err != nil {
		return "", apiError("token", 0, err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return "", apiError("token", res.StatusCode, nil)
	}

	var payload struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.NewDecoder(res.Body).Decode(&payload); err != nil {
		return "", apiError("token", res.StatusCode, err)
	}
	if payload.AccessToken == "" {
		return "", apiError("token", res.StatusCode, fmt.Errorf("empty access_token"))
	}

	ts.token = payload.AccessToken
	ts.expiry = time.Now().Add(time.Duration(payload.ExpiresIn) * time.Second)
	return ts.token, nil
}

// assertion builds the RS256-signed JWT the token endpoint expects.
func (ts *tokenSource) assertion(now time.Time) (string, error) {
	headerJSON := `{"alg":"RS256","typ":"JWT"}`
	claims := map[string]any{
		"iss":   ts.account.ClientEmail,
		"scope": scopeReadonly,
		"aud":   ts.account.TokenURI,
		"iat":   now.Unix(),
		"exp":   now.Add(time.Hour).Unix(),
	}
	claimsJSON, err := json.Marshal(claims)
	if err != nil {
		return "", err
	}

	enc := base64.RawURLEncoding
	signingInput := enc.EncodeToString([]byte(headerJSON)) + "." + enc.EncodeToString(claimsJSON)

	digest := sha256.Sum256([]byte(signingInput))
	sig, err := rsa.SignPKCS1v15(rand.Reader, ts.key, crypto.SHA256, digest[:])
	if err != nil {
		return "", fmt.Errorf("sign assertion: %w", err)
	}
	return signingInput + "." + enc.EncodeToString(sig), nil
}
