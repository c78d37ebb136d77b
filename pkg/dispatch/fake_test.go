package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/rexliu/w3abridge/pkg/sdk"
)

var errSDK = errors.New("user cancelled the login flow")

// fakeClient records every SDK call and fails the methods listed in fail.
type fakeClient struct {
	mu    sync.Mutex
	calls []string
	fail  map[string]error

	lastLogin  sdk.LoginParams
	lastChain  sdk.ChainConfig
	lastPath   string
	lastMethod string
	lastArgs   []json.RawMessage

	response sdk.Web3AuthResponse
	panicOn  string
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		fail: map[string]error{},
		response: sdk.Web3AuthResponse{
			PrivKey:        "1111",
			Ed25519PrivKey: "2222",
			SessionID:      "sess-1",
			UserInfo: &sdk.UserInfo{
				Email:       "user@example.com",
				Verifier:    "torus",
				VerifierID:  "user@example.com",
				TypeOfLogin: "google",
			},
		},
	}
}

func (f *fakeClient) record(name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, name)
	if f.panicOn == name {
		panic("sdk exploded")
	}
	return f.fail[name]
}

func (f *fakeClient) set(fn func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn()
}

func (f *fakeClient) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeClient) Login(_ context.Context, p sdk.LoginParams) (sdk.Web3AuthResponse, error) {
	if err := f.record("Login"); err != nil {
		return sdk.Web3AuthResponse{}, err
	}
	f.set(func() { f.lastLogin = p })
	return f.response, nil
}

func (f *fakeClient) Logout(context.Context) error {
	return f.record("Logout")
}

func (f *fakeClient) LaunchWalletServices(_ context.Context, p sdk.LoginParams, chain sdk.ChainConfig, path string) error {
	if err := f.record("LaunchWalletServices"); err != nil {
		return err
	}
	f.set(func() { f.lastLogin, f.lastChain, f.lastPath = p, chain, path })
	return nil
}

func (f *fakeClient) EnableMFA(_ context.Context, p sdk.LoginParams) (bool, error) {
	if err := f.record("EnableMFA"); err != nil {
		return false, err
	}
	f.set(func() { f.lastLogin = p })
	return true, nil
}

func (f *fakeClient) Request(_ context.Context, p sdk.LoginParams, method string, args []json.RawMessage, path string) error {
	if err := f.record("Request"); err != nil {
		return err
	}
	f.set(func() { f.lastLogin, f.lastMethod, f.lastArgs, f.lastPath = p, method, args, path })
	return nil
}

func (f *fakeClient) PrivateKey() (string, error) {
	return f.response.PrivKey, f.record("PrivateKey")
}

func (f *fakeClient) Ed25519PrivateKey() (string, error) {
	return f.response.Ed25519PrivKey, f.record("Ed25519PrivateKey")
}

func (f *fakeClient) UserInfo() (sdk.UserInfo, error) {
	if err := f.record("UserInfo"); err != nil {
		return sdk.UserInfo{}, err
	}
	return *f.response.UserInfo, nil
}

func (f *fakeClient) AuthResponse() (sdk.Web3AuthResponse, error) {
	return f.response, f.record("AuthResponse")
}

func (f *fakeClient) SignResponse() (sdk.SignResponse, error) {
	if err := f.record("SignResponse"); err != nil {
		return sdk.SignResponse{}, err
	}
	result := `{"signature":"0xsig"}`
	return sdk.SignResponse{Success: true, Result: &result}, nil
}

// fakeFactory hands out the same client and counts init calls.
type fakeFactory struct {
	mu     sync.Mutex
	client *fakeClient
	params []sdk.InitParams
	err    error
}

func (f *fakeFactory) New(_ context.Context, p sdk.InitParams) (sdk.Client, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.params = append(f.params, p)
	if f.err != nil {
		return nil, f.err
	}
	return f.client, nil
}
