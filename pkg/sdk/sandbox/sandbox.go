// Package sandbox is a local authentication SDK. It issues random keys and
// signed id tokens without contacting any network, and persists sessions so
// a restarted daemon can restore them.
package sandbox

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"

	"github.com/rexliu/w3abridge/pkg/ids"
	"github.com/rexliu/w3abridge/pkg/sdk"
	"github.com/rexliu/w3abridge/pkg/storage/sqlite"
)

const DefaultIssuer = "https://sandbox.w3abridge.local"

var (
	ErrUnsupportedProvider = errors.New("unsupported login provider")
	ErrMFAAlreadyEnabled   = errors.New("MFA is already enabled")
	ErrNoSignResponse      = errors.New("no sign response available, make a request first")
)

var providers = map[string]bool{
	"google":             true,
	"facebook":           true,
	"reddit":             true,
	"discord":            true,
	"twitch":             true,
	"apple":              true,
	"line":               true,
	"github":             true,
	"kakao":              true,
	"linkedin":           true,
	"twitter":            true,
	"weibo":              true,
	"wechat":             true,
	"email_passwordless": true,
	"sms_passwordless":   true,
	"jwt":                true,
	"farcaster":          true,
}

// SessionStore persists sessions across client instances.
type SessionStore interface {
	SaveSession(ctx context.Context, rec sqlite.SessionRecord) error
	LoadSession(ctx context.Context, clientID string) (sqlite.SessionRecord, error)
	DeleteSession(ctx context.Context, clientID string) error
}

// Options configure the sandbox factory.
type Options struct {
	Issuer string
	// SigningKey signs id tokens. A fresh key is generated when nil.
	SigningKey ed25519.PrivateKey
	// Store is optional; without it sessions live only in memory.
	Store SessionStore
	// Latency delays every interactive call, honouring cancellation.
	Latency time.Duration
	Logger  zerolog.Logger
	Now     func() time.Time
}

// Factory builds sandbox clients.
type Factory struct {
	opts Options
}

// NewFactory validates opts and returns a Factory.
func NewFactory(opts Options) (*Factory, error) {
	if opts.Issuer == "" {
		opts.Issuer = DefaultIssuer
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.SigningKey == nil {
		_, key, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			return nil, fmt.Errorf("generate signing key: %w", err)
		}
		opts.SigningKey = key
	}
	if len(opts.SigningKey) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("signing key must be %d bytes", ed25519.PrivateKeySize)
	}
	return &Factory{opts: opts}, nil
}

// PublicKey returns the id token verification key.
func (f *Factory) PublicKey() ed25519.PublicKey {
	return f.opts.SigningKey.Public().(ed25519.PublicKey)
}

// New creates a client and restores any unexpired persisted session.
func (f *Factory) New(ctx context.Context, params sdk.InitParams) (sdk.Client, error) {
	c := &Client{
		opts:   f.opts,
		params: params,
		logger: f.opts.Logger.With().Str("clientId", params.ClientID).Str("network", params.Network).Logger(),
	}
	if f.opts.Store == nil {
		return c, nil
	}
	rec, err := f.opts.Store.LoadSession(ctx, params.ClientID)
	switch {
	case errors.Is(err, sqlite.ErrNotFound):
		return c, nil
	case err != nil:
		return nil, fmt.Errorf("load session: %w", err)
	}
	if !rec.ExpiresAt.After(f.opts.Now()) {
		c.logger.Info().Str("sessionId", rec.SessionID).Msg("persisted session expired")
		return f.drop(ctx, c)
	}
	var resp sdk.Web3AuthResponse
	if err := json.Unmarshal(rec.Response, &resp); err != nil {
		return nil, fmt.Errorf("decode persisted session: %w", err)
	}
	// Sessions minted under another signing key or for another client are stale.
	if err := f.verify(resp, params.ClientID); err != nil {
		c.logger.Warn().Err(err).Str("sessionId", rec.SessionID).Msg("persisted session rejected")
		return f.drop(ctx, c)
	}
	c.session = &resp
	c.logger.Info().Str("sessionId", rec.SessionID).Msg("session restored")
	return c, nil
}

func (f *Factory) verify(resp sdk.Web3AuthResponse, clientID string) error {
	if resp.UserInfo == nil {
		return fmt.Errorf("%w: no id token", ErrTokenInvalid)
	}
	claims, err := VerifyIDToken(resp.UserInfo.IDToken, f.PublicKey(), clientID, f.opts.Now())
	if err != nil {
		return err
	}
	if claims.JWTID != resp.SessionID {
		return fmt.Errorf("%w: session mismatch", ErrTokenInvalid)
	}
	return nil
}

func (f *Factory) drop(ctx context.Context, c *Client) (sdk.Client, error) {
	if err := f.opts.Store.DeleteSession(ctx, c.params.ClientID); err != nil && !errors.Is(err, sqlite.ErrNotFound) {
		return nil, fmt.Errorf("drop persisted session: %w", err)
	}
	return c, nil
}

// Client is one initialised sandbox SDK instance.
type Client struct {
	opts   Options
	params sdk.InitParams
	logger zerolog.Logger

	mu         sync.Mutex
	session    *sdk.Web3AuthResponse
	sign       *sdk.SignResponse
	lastLaunch string
}

var _ sdk.Client = (*Client)(nil)

func (c *Client) wait(ctx context.Context) error {
	if c.opts.Latency <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(c.opts.Latency)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (c *Client) Login(ctx context.Context, params sdk.LoginParams) (sdk.Web3AuthResponse, error) {
	if !providers[params.LoginProvider] {
		return sdk.Web3AuthResponse{}, fmt.Errorf("%w %q", ErrUnsupportedProvider, params.LoginProvider)
	}
	if err := c.wait(ctx); err != nil {
		return sdk.Web3AuthResponse{}, err
	}

	privKey, err := randomHex(32)
	if err != nil {
		return sdk.Web3AuthResponse{}, err
	}
	_, edKey, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return sdk.Web3AuthResponse{}, fmt.Errorf("generate ed25519 key: %w", err)
	}

	now := c.opts.Now()
	sessionID := ids.New()
	user := sdk.UserInfo{
		Verifier:    c.params.ClientID,
		TypeOfLogin: params.LoginProvider,
		DappShare:   params.DappShare,
	}
	if extra := params.ExtraLoginOptions; extra != nil && extra.LoginHint != "" {
		user.Email = extra.LoginHint
		user.Name = strings.SplitN(extra.LoginHint, "@", 2)[0]
	}
	user.VerifierID = user.Email
	if user.VerifierID == "" {
		user.VerifierID = sessionID
	}

	expires := now.Add(c.ttl())
	token, err := signIDToken(c.opts.SigningKey, idTokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    c.opts.Issuer,
			Subject:   user.VerifierID,
			Audience:  jwt.ClaimStrings{c.params.ClientID},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
			ID:        sessionID,
		},
		Email:    user.Email,
		Verifier: user.Verifier,
	})
	if err != nil {
		return sdk.Web3AuthResponse{}, err
	}
	user.IDToken = token

	resp := sdk.Web3AuthResponse{
		PrivKey:        privKey,
		Ed25519PrivKey: hex.EncodeToString(edKey),
		SessionID:      sessionID,
		UserInfo:       &user,
		KeyMode:        "1/1",
	}
	if err := c.persist(ctx, resp, now, expires); err != nil {
		return sdk.Web3AuthResponse{}, err
	}

	c.mu.Lock()
	c.session = &resp
	c.sign = nil
	c.mu.Unlock()
	c.logger.Info().Str("provider", params.LoginProvider).Str("sessionId", sessionID).Msg("login complete")
	return resp, nil
}

func (c *Client) Logout(ctx context.Context) error {
	c.mu.Lock()
	present := c.session != nil
	c.mu.Unlock()
	if !present {
		return sdk.ErrNoUserFound
	}
	if err := c.wait(ctx); err != nil {
		return err
	}
	if c.opts.Store != nil {
		if err := c.opts.Store.DeleteSession(ctx, c.params.ClientID); err != nil && !errors.Is(err, sqlite.ErrNotFound) {
			return fmt.Errorf("delete session: %w", err)
		}
	}
	c.mu.Lock()
	c.session = nil
	c.sign = nil
	c.mu.Unlock()
	c.logger.Info().Msg("logout complete")
	return nil
}

func (c *Client) LaunchWalletServices(ctx context.Context, _ sdk.LoginParams, chain sdk.ChainConfig, path string) error {
	if _, err := c.current(); err != nil {
		return err
	}
	if err := c.wait(ctx); err != nil {
		return err
	}
	url := c.walletURL(path, chain.ChainID)
	c.mu.Lock()
	c.lastLaunch = url
	c.mu.Unlock()
	c.logger.Info().Str("url", url).Msg("wallet services launched")
	return nil
}

func (c *Client) EnableMFA(ctx context.Context, _ sdk.LoginParams) (bool, error) {
	resp, err := c.current()
	if err != nil {
		return false, err
	}
	if resp.UserInfo != nil && resp.UserInfo.IsMFAEnabled {
		return false, ErrMFAAlreadyEnabled
	}
	if err := c.wait(ctx); err != nil {
		return false, err
	}

	updated := resp
	user := sdk.UserInfo{}
	if resp.UserInfo != nil {
		user = *resp.UserInfo
	}
	user.IsMFAEnabled = true
	updated.UserInfo = &user

	now := c.opts.Now()
	expires := now.Add(c.ttl())
	if err := c.persist(ctx, updated, now, expires); err != nil {
		return false, err
	}
	c.mu.Lock()
	c.session = &updated
	c.mu.Unlock()
	return true, nil
}

func (c *Client) Request(ctx context.Context, _ sdk.LoginParams, method string, args []json.RawMessage, path string) error {
	resp, err := c.current()
	if err != nil {
		return err
	}
	if err := c.wait(ctx); err != nil {
		return err
	}
	keyBytes, err := hex.DecodeString(resp.Ed25519PrivKey)
	if err != nil || len(keyBytes) != ed25519.PrivateKeySize {
		return fmt.Errorf("session key is corrupt")
	}
	message, err := json.Marshal(struct {
		Method string            `json:"method"`
		Params []json.RawMessage `json:"params"`
	}{method, args})
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	signature := "0x" + hex.EncodeToString(ed25519.Sign(ed25519.PrivateKey(keyBytes), message))

	c.mu.Lock()
	c.sign = &sdk.SignResponse{Success: true, Result: &signature}
	c.lastLaunch = c.walletURL(path, "")
	c.mu.Unlock()
	c.logger.Info().Str("method", method).Int("args", len(args)).Msg("request signed")
	return nil
}

func (c *Client) PrivateKey() (string, error) {
	resp, err := c.current()
	if err != nil {
		return "", err
	}
	return resp.PrivKey, nil
}

func (c *Client) Ed25519PrivateKey() (string, error) {
	resp, err := c.current()
	if err != nil {
		return "", err
	}
	return resp.Ed25519PrivKey, nil
}

func (c *Client) UserInfo() (sdk.UserInfo, error) {
	resp, err := c.current()
	if err != nil {
		return sdk.UserInfo{}, err
	}
	if resp.UserInfo == nil {
		return sdk.UserInfo{}, sdk.ErrNoUserFound
	}
	return *resp.UserInfo, nil
}

func (c *Client) AuthResponse() (sdk.Web3AuthResponse, error) {
	return c.current()
}

func (c *Client) SignResponse() (sdk.SignResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sign == nil {
		return sdk.SignResponse{}, ErrNoSignResponse
	}
	return *c.sign, nil
}

// LastLaunch returns the URL of the most recent wallet launch or request.
func (c *Client) LastLaunch() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastLaunch
}

func (c *Client) current() (sdk.Web3AuthResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return sdk.Web3AuthResponse{}, sdk.ErrNoUserFound
	}
	return *c.session, nil
}

func (c *Client) ttl() time.Duration {
	if c.params.SessionTime <= 0 {
		return sdk.DefaultSessionTime * time.Second
	}
	return time.Duration(c.params.SessionTime) * time.Second
}

func (c *Client) walletURL(path, chainID string) string {
	url := fmt.Sprintf("%s/%s?network=%s", c.opts.Issuer, strings.TrimPrefix(path, "/"), c.params.Network)
	if chainID != "" {
		url += "&chainId=" + chainID
	}
	return url
}

func (c *Client) persist(ctx context.Context, resp sdk.Web3AuthResponse, created, expires time.Time) error {
	if c.opts.Store == nil {
		return nil
	}
	raw, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	provider := ""
	if resp.UserInfo != nil {
		provider = resp.UserInfo.TypeOfLogin
	}
	return c.opts.Store.SaveSession(ctx, sqlite.SessionRecord{
		ClientID:      c.params.ClientID,
		SessionID:     resp.SessionID,
		LoginProvider: provider,
		Response:      raw,
		CreatedAt:     created,
		ExpiresAt:     expires,
	})
}

func randomHex(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("read entropy: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
