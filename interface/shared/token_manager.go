package shared

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/airbusgeo/cdse-downloader/service/log"
)

const (
	CopernicusIdentityURL = "https://identity.dataspace.copernicus.eu/auth/realms/CDSE/protocol/openid-connect/token"
	CopernicusClientID    = "cdse-public"
)

// DefaultExpiryMargin is the time before expiry when a cached token is renewed
const DefaultExpiryMargin = 30 * time.Second

// AuthenticationError is returned when the identity endpoint does not deliver a token
type AuthenticationError struct {
	Endpoint   string
	StatusCode int    // 0 if the endpoint was not reached
	Payload    string // error body returned by the endpoint
	Err        error
}

func (e *AuthenticationError) Error() string {
	msg := fmt.Sprintf("authentication failed on %s", e.Endpoint)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.Payload != "" {
		msg += ": " + e.Payload
	} else if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *AuthenticationError) Unwrap() error {
	return e.Err
}

// TokenProvider delivers bearer tokens
type TokenProvider interface {
	Token(ctx context.Context) (string, error)
	// Invalidate drops the cached token, if any
	Invalidate()
}

// KeycloakTokenManager gets tokens from a Keycloak realm using the resource owner password grant.
// Tokens are cached until they are about to expire.
type KeycloakTokenManager struct {
	// RefreshEachTime disables the cache: a new token is requested on each call to Token
	RefreshEachTime bool
	// ExpiryMargin: a cached token is renewed when it expires in less than ExpiryMargin
	ExpiryMargin time.Duration

	config   oauth2.Config
	client   *http.Client
	username string
	password string

	mutex  sync.Mutex
	token  string
	expiry time.Time
	now    func() time.Time
}

// NewKeycloakTokenManager creates a token manager for the given token endpoint
// If client is nil, http.DefaultClient is used.
func NewKeycloakTokenManager(client *http.Client, tokenURL, clientID, username, password string) *KeycloakTokenManager {
	if client == nil {
		client = http.DefaultClient
	}
	return &KeycloakTokenManager{
		ExpiryMargin: DefaultExpiryMargin,
		config: oauth2.Config{
			ClientID: clientID,
			Endpoint: oauth2.Endpoint{
				TokenURL:  tokenURL,
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		client:   client,
		username: username,
		password: password,
		now:      time.Now,
	}
}

// Authenticate requests a new token and returns it with its expiry date
// It does not update the cache.
func (tm *KeycloakTokenManager) Authenticate(ctx context.Context) (string, time.Time, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, tm.client)
	tok, err := tm.config.PasswordCredentialsToken(ctx, tm.username, tm.password)
	if err != nil {
		aerr := &AuthenticationError{Endpoint: tm.config.Endpoint.TokenURL, Err: err}
		var rerr *oauth2.RetrieveError
		if errors.As(err, &rerr) {
			if rerr.Response != nil {
				aerr.StatusCode = rerr.Response.StatusCode
			}
			aerr.Payload = string(rerr.Body)
		}
		return "", time.Time{}, aerr
	}
	if tok.AccessToken == "" {
		return "", time.Time{}, &AuthenticationError{Endpoint: tm.config.Endpoint.TokenURL, Err: fmt.Errorf("access_token not found")}
	}
	expiry := tok.Expiry
	if expiry.IsZero() {
		// No expires_in: the token is not reused
		expiry = tm.now()
	}
	return tok.AccessToken, expiry, nil
}

// Token implements TokenProvider
func (tm *KeycloakTokenManager) Token(ctx context.Context) (string, error) {
	tm.mutex.Lock()
	defer tm.mutex.Unlock()
	if !tm.RefreshEachTime && tm.token != "" && tm.now().Before(tm.expiry.Add(-tm.ExpiryMargin)) {
		return tm.token, nil
	}

	token, expiry, err := tm.Authenticate(ctx)
	if err != nil {
		tm.token = ""
		return "", err
	}
	log.Logger(ctx).Debug("new access token", zap.Time("expiry", expiry))
	tm.token, tm.expiry = token, expiry
	return token, nil
}

// Invalidate implements TokenProvider
func (tm *KeycloakTokenManager) Invalidate() {
	tm.mutex.Lock()
	defer tm.mutex.Unlock()
	tm.token = ""
	tm.expiry = time.Time{}
}
