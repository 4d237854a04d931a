package token

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/adobe-rnd/aem-commerce-prerender/pkg/errkind"
	"github.com/adobe-rnd/aem-commerce-prerender/pkg/httpx"
	"github.com/adobe-rnd/aem-commerce-prerender/pkg/log"
	"github.com/adobe-rnd/aem-commerce-prerender/pkg/storage"
	"github.com/adobe-rnd/aem-commerce-prerender/pkg/types"
)

const (
	// KVKey stores the cached access token between runs
	KVKey = "adobe_io_access_token"

	// DefaultScope is sent on every client-credentials grant
	DefaultScope = "adobeio_api,openid,read_organizations"

	// RefreshBuffer forces refresh before the token actually expires;
	// consumers never observe a token inside the buffer
	RefreshBuffer = 5 * time.Minute

	// defaultExpiresIn applies when the identity response omits expires_in
	defaultExpiresIn = 86400
)

// Credentials identifies the client against the identity service
type Credentials struct {
	ClientID     string
	ClientSecret string
	IMSOrgID     string
	Scope        string
}

// Manager provides valid access tokens, refreshing early and collapsing
// concurrent refreshes to one in-flight request
type Manager struct {
	creds    Credentials
	endpoint string
	client   *httpx.Client
	kv       storage.KV

	mu     sync.Mutex
	cached *types.AccessToken
	group  singleflight.Group
	now    func() time.Time
}

// NewManager creates a token manager backed by the given KV store
func NewManager(creds Credentials, endpoint string, client *httpx.Client, kv storage.KV) *Manager {
	if creds.Scope == "" {
		creds.Scope = DefaultScope
	}
	return &Manager{
		creds:    creds,
		endpoint: endpoint,
		client:   client,
		kv:       kv,
		now:      time.Now,
	}
}

// GetAccessToken returns a valid token, refreshing if the remaining lifetime
// is inside the refresh buffer
func (m *Manager) GetAccessToken(ctx context.Context) (string, error) {
	if m.creds.ClientID == "" || m.creds.ClientSecret == "" || m.creds.IMSOrgID == "" {
		var missing []string
		if m.creds.ClientID == "" {
			missing = append(missing, "client_id")
		}
		if m.creds.ClientSecret == "" {
			missing = append(missing, "client_secret")
		}
		if m.creds.IMSOrgID == "" {
			missing = append(missing, "ims_org_id")
		}
		return "", &errkind.CredentialsMissing{Missing: missing}
	}

	m.mu.Lock()
	if m.cached.Valid(m.now(), RefreshBuffer) {
		tok := m.cached.AccessToken
		m.mu.Unlock()
		return tok, nil
	}
	m.mu.Unlock()

	if tok := m.fromKV(); tok != nil {
		m.mu.Lock()
		m.cached = tok
		m.mu.Unlock()
		return tok.AccessToken, nil
	}

	v, err, _ := m.group.Do("refresh", func() (interface{}, error) {
		return m.refresh(ctx)
	})
	if err != nil {
		return "", err
	}
	return v.(*types.AccessToken).AccessToken, nil
}

func (m *Manager) fromKV() *types.AccessToken {
	data, ok, err := m.kv.Get(KVKey)
	if err != nil || !ok {
		return nil
	}
	var tok types.AccessToken
	if err := json.Unmarshal(data, &tok); err != nil {
		return nil
	}
	if !tok.Valid(m.now(), RefreshBuffer) {
		return nil
	}
	return &tok
}

func (m *Manager) refresh(ctx context.Context) (*types.AccessToken, error) {
	logger := log.WithComponent("token")

	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	form.Set("client_id", m.creds.ClientID)
	form.Set("client_secret", m.creds.ClientSecret)
	form.Set("scope", m.creds.Scope)

	raw, err := m.client.Request(ctx, "ims-token", m.endpoint, httpx.Options{
		Method: http.MethodPost,
		Headers: map[string]string{
			"Content-Type": "application/x-www-form-urlencoded",
		},
		Body: []byte(form.Encode()),
	})
	if err != nil {
		var herr *httpx.Error
		if errors.As(err, &herr) {
			return nil, &errkind.IssuerRejected{StatusCode: herr.StatusCode, Body: herr.Body}
		}
		return nil, err
	}

	var resp struct {
		AccessToken string `json:"access_token"`
		TokenType   string `json:"token_type"`
		ExpiresIn   int64  `json:"expires_in"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, &errkind.IssuerRejected{Body: "malformed identity response"}
	}
	if resp.ExpiresIn == 0 {
		resp.ExpiresIn = defaultExpiresIn
	}

	now := m.now()
	tok := &types.AccessToken{
		AccessToken: resp.AccessToken,
		TokenType:   resp.TokenType,
		ExpiresIn:   resp.ExpiresIn,
		CreatedAt:   now,
		ExpiresAt:   now.Add(time.Duration(resp.ExpiresIn) * time.Second),
	}

	m.mu.Lock()
	m.cached = tok
	m.mu.Unlock()

	if data, err := json.Marshal(tok); err == nil {
		ttl := time.Duration(resp.ExpiresIn) * time.Second
		if err := m.kv.Put(KVKey, data, ttl); err != nil {
			logger.Warn().Err(err).Msg("failed to persist access token")
		}
	}

	logger.Debug().Time("expires_at", tok.ExpiresAt).Msg("access token refreshed")
	return tok, nil
}

// Bearer formats a token as an Authorization header value
func Bearer(tok string) string {
	if strings.HasPrefix(tok, "Bearer ") {
		return tok
	}
	return "Bearer " + tok
}
