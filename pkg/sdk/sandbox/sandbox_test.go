package sandbox

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rexliu/w3abridge/pkg/sdk"
	"github.com/rexliu/w3abridge/pkg/storage/sqlite"
)

var initParams = sdk.InitParams{
	ClientID:    "client-1",
	Network:     "sapphire_devnet",
	SessionTime: 3600,
}

func openStore(t *testing.T) *sqlite.Store {
	t.Helper()
	store, err := sqlite.Open(filepath.Join(t.TempDir(), "state.db"), sqlite.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	require.NoError(t, store.Init(context.Background()))
	return store
}

func newFactory(t *testing.T, store SessionStore, now func() time.Time) *Factory {
	t.Helper()
	f, err := NewFactory(Options{Store: store, Logger: zerolog.Nop(), Now: now})
	require.NoError(t, err)
	return f
}

func googleLogin(hint string) sdk.LoginParams {
	return sdk.LoginParams{
		LoginProvider:     "google",
		Curve:             sdk.DefaultCurve,
		ExtraLoginOptions: &sdk.ExtraLoginOptions{LoginHint: hint},
	}
}

func TestReadsBeforeLoginFail(t *testing.T) {
	f := newFactory(t, nil, nil)
	c, err := f.New(context.Background(), initParams)
	require.NoError(t, err)

	_, err = c.PrivateKey()
	assert.ErrorIs(t, err, sdk.ErrNoUserFound)
	_, err = c.Ed25519PrivateKey()
	assert.ErrorIs(t, err, sdk.ErrNoUserFound)
	_, err = c.UserInfo()
	assert.ErrorIs(t, err, sdk.ErrNoUserFound)
	_, err = c.AuthResponse()
	assert.ErrorIs(t, err, sdk.ErrNoUserFound)
	_, err = c.SignResponse()
	assert.ErrorIs(t, err, ErrNoSignResponse)
	assert.ErrorIs(t, c.Logout(context.Background()), sdk.ErrNoUserFound)
}

func TestLoginIssuesKeysAndToken(t *testing.T) {
	ctx := context.Background()
	f := newFactory(t, nil, nil)
	c, err := f.New(ctx, initParams)
	require.NoError(t, err)

	resp, err := c.Login(ctx, googleLogin("alice@example.com"))
	require.NoError(t, err)

	assert.Len(t, resp.PrivKey, 64)
	edKey, err := hex.DecodeString(resp.Ed25519PrivKey)
	require.NoError(t, err)
	assert.Len(t, edKey, ed25519.PrivateKeySize)
	require.NotNil(t, resp.UserInfo)
	assert.Equal(t, "alice@example.com", resp.UserInfo.Email)
	assert.Equal(t, "alice", resp.UserInfo.Name)
	assert.Equal(t, "google", resp.UserInfo.TypeOfLogin)
	assert.False(t, resp.UserInfo.IsMFAEnabled)

	claims, err := VerifyIDToken(resp.UserInfo.IDToken, f.PublicKey(), "client-1", time.Now())
	require.NoError(t, err)
	assert.Equal(t, DefaultIssuer, claims.Issuer)
	assert.Equal(t, "alice@example.com", claims.Subject)
	assert.Equal(t, resp.SessionID, claims.JWTID)

	key, err := c.PrivateKey()
	require.NoError(t, err)
	assert.Equal(t, resp.PrivKey, key)
	info, err := c.UserInfo()
	require.NoError(t, err)
	assert.Equal(t, *resp.UserInfo, info)
}

func TestLoginRejectsUnknownProvider(t *testing.T) {
	f := newFactory(t, nil, nil)
	c, err := f.New(context.Background(), initParams)
	require.NoError(t, err)

	_, err = c.Login(context.Background(), sdk.LoginParams{LoginProvider: "myspace"})
	assert.ErrorIs(t, err, ErrUnsupportedProvider)
	_, err = c.PrivateKey()
	assert.ErrorIs(t, err, sdk.ErrNoUserFound)
}

func TestVerifyIDTokenRejects(t *testing.T) {
	ctx := context.Background()
	f := newFactory(t, nil, nil)
	c, err := f.New(ctx, initParams)
	require.NoError(t, err)
	resp, err := c.Login(ctx, googleLogin(""))
	require.NoError(t, err)
	token := resp.UserInfo.IDToken
	assert.Equal(t, resp.SessionID, resp.UserInfo.VerifierID)

	other, _, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	_, err = VerifyIDToken(token, other, "client-1", time.Now())
	assert.ErrorIs(t, err, ErrTokenInvalid)
	_, err = VerifyIDToken(token, f.PublicKey(), "client-2", time.Now())
	assert.ErrorIs(t, err, ErrTokenInvalid)
	_, err = VerifyIDToken(token, f.PublicKey(), "client-1", time.Now().Add(2*time.Hour))
	assert.ErrorIs(t, err, ErrTokenExpired)
	_, err = VerifyIDToken("", f.PublicKey(), "", time.Now())
	assert.ErrorIs(t, err, ErrTokenInvalid)
}

func TestEnableMFAOnce(t *testing.T) {
	ctx := context.Background()
	f := newFactory(t, nil, nil)
	c, err := f.New(ctx, initParams)
	require.NoError(t, err)

	_, err = c.EnableMFA(ctx, googleLogin(""))
	assert.ErrorIs(t, err, sdk.ErrNoUserFound)

	_, err = c.Login(ctx, googleLogin("bob@example.com"))
	require.NoError(t, err)
	ok, err := c.EnableMFA(ctx, googleLogin(""))
	require.NoError(t, err)
	assert.True(t, ok)

	info, err := c.UserInfo()
	require.NoError(t, err)
	assert.True(t, info.IsMFAEnabled)

	_, err = c.EnableMFA(ctx, googleLogin(""))
	assert.ErrorIs(t, err, ErrMFAAlreadyEnabled)
}

func TestRequestStoresSignResponse(t *testing.T) {
	ctx := context.Background()
	f := newFactory(t, nil, nil)
	client, err := f.New(ctx, initParams)
	require.NoError(t, err)
	c := client.(*Client)

	args := []json.RawMessage{json.RawMessage(`"0x48656c6c6f"`), json.RawMessage(`null`)}
	assert.ErrorIs(t, c.Request(ctx, googleLogin(""), "personal_sign", args, sdk.DefaultRequestPath), sdk.ErrNoUserFound)

	resp, err := c.Login(ctx, googleLogin("carol@example.com"))
	require.NoError(t, err)
	require.NoError(t, c.Request(ctx, googleLogin(""), "personal_sign", args, sdk.DefaultRequestPath))

	sign, err := c.SignResponse()
	require.NoError(t, err)
	assert.True(t, sign.Success)
	require.NotNil(t, sign.Result)
	assert.True(t, strings.HasPrefix(*sign.Result, "0x"))

	edKey, err := hex.DecodeString(resp.Ed25519PrivKey)
	require.NoError(t, err)
	sig, err := hex.DecodeString(strings.TrimPrefix(*sign.Result, "0x"))
	require.NoError(t, err)
	message := []byte(`{"method":"personal_sign","params":["0x48656c6c6f",null]}`)
	assert.True(t, ed25519.Verify(ed25519.PrivateKey(edKey).Public().(ed25519.PublicKey), message, sig))
	assert.Equal(t, DefaultIssuer+"/wallet/request?network=sapphire_devnet", c.LastLaunch())
}

func TestLaunchWalletServicesRecordsURL(t *testing.T) {
	ctx := context.Background()
	f := newFactory(t, nil, nil)
	client, err := f.New(ctx, initParams)
	require.NoError(t, err)
	c := client.(*Client)
	chain := sdk.ChainConfig{ChainID: "0x1", RPCTarget: "https://rpc.example"}

	assert.ErrorIs(t, c.LaunchWalletServices(ctx, googleLogin(""), chain, sdk.DefaultWalletPath), sdk.ErrNoUserFound)

	_, err = c.Login(ctx, googleLogin(""))
	require.NoError(t, err)
	require.NoError(t, c.LaunchWalletServices(ctx, googleLogin(""), chain, sdk.DefaultWalletPath))
	assert.Equal(t, DefaultIssuer+"/wallet?network=sapphire_devnet&chainId=0x1", c.LastLaunch())
}

func TestSessionRestoredAcrossClients(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)
	f := newFactory(t, store, nil)

	first, err := f.New(ctx, initParams)
	require.NoError(t, err)
	resp, err := first.Login(ctx, googleLogin("dave@example.com"))
	require.NoError(t, err)

	second, err := f.New(ctx, initParams)
	require.NoError(t, err)
	restored, err := second.AuthResponse()
	require.NoError(t, err)
	assert.Equal(t, resp, restored)

	other, err := f.New(ctx, sdk.InitParams{ClientID: "client-2", Network: "mainnet"})
	require.NoError(t, err)
	_, err = other.AuthResponse()
	assert.ErrorIs(t, err, sdk.ErrNoUserFound)

	require.NoError(t, second.Logout(ctx))
	_, err = store.LoadSession(ctx, "client-1")
	assert.ErrorIs(t, err, sqlite.ErrNotFound)

	third, err := f.New(ctx, initParams)
	require.NoError(t, err)
	_, err = third.AuthResponse()
	assert.ErrorIs(t, err, sdk.ErrNoUserFound)
}

func TestExpiredSessionIsDropped(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)
	now := time.Now()
	clock := func() time.Time { return now }
	f := newFactory(t, store, clock)

	c, err := f.New(ctx, initParams)
	require.NoError(t, err)
	_, err = c.Login(ctx, googleLogin(""))
	require.NoError(t, err)

	now = now.Add(2 * time.Hour)
	fresh, err := f.New(ctx, initParams)
	require.NoError(t, err)
	_, err = fresh.AuthResponse()
	assert.ErrorIs(t, err, sdk.ErrNoUserFound)
	_, err = store.LoadSession(ctx, "client-1")
	assert.ErrorIs(t, err, sqlite.ErrNotFound)
}

func TestSessionUnderRotatedKeyIsDropped(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)

	c, err := newFactory(t, store, nil).New(ctx, initParams)
	require.NoError(t, err)
	_, err = c.Login(ctx, googleLogin("erin@example.com"))
	require.NoError(t, err)

	rotated := newFactory(t, store, nil)
	fresh, err := rotated.New(ctx, initParams)
	require.NoError(t, err)
	_, err = fresh.AuthResponse()
	assert.ErrorIs(t, err, sdk.ErrNoUserFound)
	_, err = store.LoadSession(ctx, "client-1")
	assert.ErrorIs(t, err, sqlite.ErrNotFound)
}

func TestSessionForAnotherAudienceIsDropped(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)
	f := newFactory(t, store, nil)

	c, err := f.New(ctx, initParams)
	require.NoError(t, err)
	_, err = c.Login(ctx, googleLogin(""))
	require.NoError(t, err)

	// Move the row under another client id; its token audience no longer matches.
	rec, err := store.LoadSession(ctx, "client-1")
	require.NoError(t, err)
	rec.ClientID = "client-2"
	require.NoError(t, store.SaveSession(ctx, rec))

	other, err := f.New(ctx, sdk.InitParams{ClientID: "client-2", Network: "mainnet"})
	require.NoError(t, err)
	_, err = other.AuthResponse()
	assert.ErrorIs(t, err, sdk.ErrNoUserFound)
	_, err = store.LoadSession(ctx, "client-2")
	assert.ErrorIs(t, err, sqlite.ErrNotFound)
}

func TestLatencyHonoursCancellation(t *testing.T) {
	f, err := NewFactory(Options{Latency: time.Minute, Logger: zerolog.Nop()})
	require.NoError(t, err)
	c, err := f.New(context.Background(), initParams)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = c.Login(ctx, googleLogin(""))
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestNewFactoryRejectsShortKey(t *testing.T) {
	_, err := NewFactory(Options{SigningKey: ed25519.PrivateKey{1, 2, 3}})
	assert.Error(t, err)
}
