// Package sdk defines the authentication SDK consumed by the dispatcher,
// together with the parameter and result models exchanged over the channel.
//
// Methods that take a context may block on user interaction or the network.
// The remaining methods read local session state and return immediately.
package sdk

import (
	"context"
	"encoding/json"
	"errors"
)

// ErrNoUserFound is returned by clients asked for session data before a
// successful login.
var ErrNoUserFound = errors.New("no user found, please login again")

// Client is an initialised authentication client.
type Client interface {
	Login(ctx context.Context, params LoginParams) (Web3AuthResponse, error)
	Logout(ctx context.Context) error
	LaunchWalletServices(ctx context.Context, params LoginParams, chain ChainConfig, path string) error
	EnableMFA(ctx context.Context, params LoginParams) (bool, error)
	Request(ctx context.Context, params LoginParams, method string, args []json.RawMessage, path string) error

	PrivateKey() (string, error)
	Ed25519PrivateKey() (string, error)
	UserInfo() (UserInfo, error)
	AuthResponse() (Web3AuthResponse, error)
	SignResponse() (SignResponse, error)
}

// Factory builds a Client from init parameters.
type Factory func(ctx context.Context, params InitParams) (Client, error)
