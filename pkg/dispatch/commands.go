package dispatch

import (
	"context"

	"github.com/rexliu/w3abridge/pkg/sdk"
)

// Command names as sent by the host.
const (
	CmdInit                 = "init"
	CmdLogin                = "login"
	CmdLogout               = "logout"
	CmdInitialize           = "initialize"
	CmdGetPrivKey           = "getPrivKey"
	CmdGetEd25519PrivKey    = "getEd25519PrivKey"
	CmdLaunchWalletServices = "launchWalletServices"
	CmdEnableMFA            = "enableMFA"
	CmdSignMessage          = "signMessage"
	CmdGetUserInfo          = "getUserInfo"
	CmdGetWeb3AuthResponse  = "getWeb3AuthResponse"
	CmdGetSignResponse      = "getSignResponse"
)

func (r *Router) commands() []*Descriptor {
	return []*Descriptor{
		{
			Name:           CmdInit,
			Session:        SessionNone,
			Schema:         "InitParams",
			Result:         ResultNone,
			Failure:        CodeInitFailed,
			InvalidMessage: "Invalid init params",
			FailureMessage: "Web3Auth init failed",
			decode:         decoder[sdk.InitParams](),
			suspend:        r.initClient,
		},
		{
			Name:           CmdLogin,
			Session:        SessionRequired,
			Schema:         "LoginParams",
			Result:         ResultJSON,
			Failure:        CodeLoginFailed,
			InvalidMessage: "Invalid Login Params",
			FailureMessage: "Web3Auth login flow failed",
			decode:         decoder[sdk.LoginParams](),
			suspend:        login,
		},
		{
			Name:           CmdLogout,
			Session:        SessionOptional,
			Result:         ResultNone,
			Failure:        CodeLogoutFailed,
			FailureMessage: "Web3Auth logout failed",
			suspend:        logout,
		},
		{
			Name:           CmdInitialize,
			Session:        SessionNone,
			Result:         ResultNone,
			Failure:        CodeInitializeFailed,
			FailureMessage: "Web3Auth initialize failed",
			sync:           initialize,
		},
		{
			Name:           CmdGetPrivKey,
			Session:        SessionRequired,
			Result:         ResultRaw,
			Failure:        CodeGetPrivKeyFailed,
			FailureMessage: "Web3Auth getPrivKey failed",
			sync:           privateKey,
		},
		{
			Name:           CmdGetEd25519PrivKey,
			Session:        SessionRequired,
			Result:         ResultRaw,
			Failure:        CodeGetEd25519Failed,
			FailureMessage: "Web3Auth getEd25519PrivKey failed",
			sync:           ed25519PrivateKey,
		},
		{
			Name:           CmdLaunchWalletServices,
			Session:        SessionRequired,
			Schema:         "WalletServicesParams",
			Result:         ResultNone,
			Failure:        CodeWalletServicesFailed,
			InvalidMessage: "Invalid Wallet Services Params",
			FailureMessage: "Web3Auth wallet services launch failed",
			decode:         decoder[sdk.WalletServicesParams](),
			suspend:        launchWalletServices,
		},
		{
			Name:           CmdEnableMFA,
			Session:        SessionRequired,
			Schema:         "LoginParams",
			Result:         ResultJSON,
			Failure:        CodeEnableMFAFailed,
			InvalidMessage: "Invalid Login Params",
			FailureMessage: "Web3Auth enableMFA failed",
			decode:         decoder[sdk.LoginParams](),
			suspend:        enableMFA,
		},
		{
			Name:           CmdSignMessage,
			Session:        SessionRequired,
			Schema:         "RequestParams",
			Result:         ResultNone,
			Failure:        CodeRequestFailed,
			InvalidMessage: "Invalid request Params",
			FailureMessage: "Web3Auth request launch failed",
			decode:         decoder[sdk.RequestParams](),
			suspend:        request,
		},
		{
			Name:           CmdGetUserInfo,
			Session:        SessionRequired,
			Result:         ResultJSON,
			Failure:        CodeGetUserInfoFailed,
			FailureMessage: "Web3Auth getUserInfo failed",
			sync:           userInfo,
		},
		{
			Name:           CmdGetWeb3AuthResponse,
			Session:        SessionRequired,
			Result:         ResultJSON,
			Failure:        CodeGetAuthResponseFailed,
			FailureMessage: "Web3Auth getWeb3AuthResponse failed",
			sync:           authResponse,
		},
		{
			Name:           CmdGetSignResponse,
			Session:        SessionRequired,
			Result:         ResultJSON,
			Failure:        CodeGetSignResponseFailed,
			FailureMessage: "Web3Auth getSignResponse failed",
			sync:           signResponse,
		},
	}
}

// initClient replaces the session handle. Nothing carries over from the
// previous client.
func (r *Router) initClient(ctx context.Context, _ sdk.Client, params any) (any, error) {
	client, err := r.factory(ctx, params.(sdk.InitParams))
	if err != nil {
		return nil, err
	}
	r.sessions.Set(client)
	return nil, nil
}

func login(ctx context.Context, c sdk.Client, params any) (any, error) {
	return c.Login(ctx, params.(sdk.LoginParams))
}

// logout ends the SDK session but leaves the handle in place.
func logout(ctx context.Context, c sdk.Client, _ any) (any, error) {
	return nil, c.Logout(ctx)
}

// initialize has nothing to do on this platform.
func initialize(sdk.Client, any) (any, error) {
	return nil, nil
}

func privateKey(c sdk.Client, _ any) (any, error) {
	return c.PrivateKey()
}

func ed25519PrivateKey(c sdk.Client, _ any) (any, error) {
	return c.Ed25519PrivateKey()
}

func launchWalletServices(ctx context.Context, c sdk.Client, params any) (any, error) {
	p := params.(sdk.WalletServicesParams)
	return nil, c.LaunchWalletServices(ctx, *p.LoginParams, *p.ChainConfig, *p.Path)
}

func enableMFA(ctx context.Context, c sdk.Client, params any) (any, error) {
	return c.EnableMFA(ctx, params.(sdk.LoginParams))
}

func request(ctx context.Context, c sdk.Client, params any) (any, error) {
	p := params.(sdk.RequestParams)
	return nil, c.Request(ctx, *p.LoginParams, p.Method, p.RequestArgs, *p.Path)
}

func userInfo(c sdk.Client, _ any) (any, error) {
	return c.UserInfo()
}

func authResponse(c sdk.Client, _ any) (any, error) {
	return c.AuthResponse()
}

func signResponse(c sdk.Client, _ any) (any, error) {
	return c.SignResponse()
}
