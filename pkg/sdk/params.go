package sdk

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rexliu/w3abridge/pkg/codec"
)

const (
	DefaultWalletPath     = "wallet"
	DefaultRequestPath    = "wallet/request"
	DefaultBuildEnv       = "production"
	DefaultChainNamespace = "eip155"
	DefaultCurve          = "secp256k1"
	DefaultSessionTime    = 86400
)

var networks = map[string]bool{
	"mainnet":          true,
	"testnet":          true,
	"cyan":             true,
	"aqua":             true,
	"sapphire_devnet":  true,
	"sapphire_mainnet": true,
}

// InitParams configures the SDK client created by the init command.
type InitParams struct {
	ClientID       string          `json:"clientId"`
	Network        string          `json:"network"`
	RedirectURL    string          `json:"redirectUrl,omitempty"`
	BuildEnv       string          `json:"buildEnv,omitempty"`
	SessionTime    int             `json:"sessionTime,omitempty"`
	ChainNamespace string          `json:"chainNamespace,omitempty"`
	UseCoreKitKey  *bool           `json:"useCoreKitKey,omitempty"`
	WhiteLabel     json.RawMessage `json:"whiteLabel,omitempty"`
	LoginConfig    json.RawMessage `json:"loginConfig,omitempty"`
	MFASettings    json.RawMessage `json:"mfaSettings,omitempty"`
}

func (p *InitParams) ApplyDefaults() {
	if p.BuildEnv == "" {
		p.BuildEnv = DefaultBuildEnv
	}
	if p.SessionTime <= 0 {
		p.SessionTime = DefaultSessionTime
	}
	if p.ChainNamespace == "" {
		p.ChainNamespace = DefaultChainNamespace
	}
}

func (p *InitParams) Validate() error {
	if strings.TrimSpace(p.ClientID) == "" {
		return codec.Missing("clientId")
	}
	if p.Network == "" {
		return codec.Missing("network")
	}
	if !networks[p.Network] {
		return fmt.Errorf("unknown network %q", p.Network)
	}
	return nil
}

// ExtraLoginOptions tunes the login provider.
type ExtraLoginOptions struct {
	LoginHint                 string `json:"login_hint,omitempty"`
	Domain                    string `json:"domain,omitempty"`
	ClientID                  string `json:"client_id,omitempty"`
	Connection                string `json:"connection,omitempty"`
	VerifierIDField           string `json:"verifierIdField,omitempty"`
	IDTokenHint               string `json:"id_token_hint,omitempty"`
	IsVerifierIDCaseSensitive *bool  `json:"isVerifierIdCaseSensitive,omitempty"`
}

// LoginParams select a login provider and how the login flow runs.
type LoginParams struct {
	LoginProvider     string             `json:"loginProvider"`
	DappShare         string             `json:"dappShare,omitempty"`
	ExtraLoginOptions *ExtraLoginOptions `json:"extraLoginOptions,omitempty"`
	RedirectURL       string             `json:"redirectUrl,omitempty"`
	AppState          string             `json:"appState,omitempty"`
	MFALevel          string             `json:"mfaLevel,omitempty"`
	Curve             string             `json:"curve,omitempty"`
	DappURL           string             `json:"dappUrl,omitempty"`
}

func (p *LoginParams) ApplyDefaults() {
	if p.Curve == "" {
		p.Curve = DefaultCurve
	}
}

func (p *LoginParams) Validate() error {
	if strings.TrimSpace(p.LoginProvider) == "" {
		return codec.Missing("loginProvider")
	}
	if p.Curve != "secp256k1" && p.Curve != "ed25519" {
		return fmt.Errorf("unknown curve %q", p.Curve)
	}
	return nil
}

// ChainConfig describes the chain the wallet services operate on.
type ChainConfig struct {
	ChainNamespace   string `json:"chainNamespace,omitempty"`
	ChainID          string `json:"chainId"`
	RPCTarget        string `json:"rpcTarget"`
	Ticker           string `json:"ticker,omitempty"`
	TickerName       string `json:"tickerName,omitempty"`
	DisplayName      string `json:"displayName,omitempty"`
	BlockExplorerURL string `json:"blockExplorerUrl,omitempty"`
	Decimals         *int   `json:"decimals,omitempty"`
	Logo             string `json:"logo,omitempty"`
}

func (c *ChainConfig) ApplyDefaults() {
	if c.ChainNamespace == "" {
		c.ChainNamespace = DefaultChainNamespace
	}
}

func (c *ChainConfig) Validate() error {
	if strings.TrimSpace(c.ChainID) == "" {
		return codec.Missing("chainConfig.chainId")
	}
	if strings.TrimSpace(c.RPCTarget) == "" {
		return codec.Missing("chainConfig.rpcTarget")
	}
	return nil
}

// WalletServicesParams is the launchWalletServices payload. A null or
// absent path falls back to DefaultWalletPath.
type WalletServicesParams struct {
	LoginParams *LoginParams `json:"loginParams"`
	ChainConfig *ChainConfig `json:"chainConfig"`
	Path        *string      `json:"path"`
}

func (p *WalletServicesParams) ApplyDefaults() {
	if p.LoginParams != nil {
		p.LoginParams.ApplyDefaults()
	}
	if p.ChainConfig != nil {
		p.ChainConfig.ApplyDefaults()
	}
	if p.Path == nil {
		path := DefaultWalletPath
		p.Path = &path
	}
}

func (p *WalletServicesParams) Validate() error {
	if p.LoginParams == nil {
		return codec.Missing("loginParams")
	}
	if err := p.LoginParams.Validate(); err != nil {
		return err
	}
	if p.ChainConfig == nil {
		return codec.Missing("chainConfig")
	}
	return p.ChainConfig.Validate()
}

// RequestParams is the signMessage payload. RequestArgs are opaque JSON
// values handed to the SDK in order; a null or absent path falls back to
// DefaultRequestPath.
type RequestParams struct {
	LoginParams *LoginParams      `json:"loginParams"`
	Method      string            `json:"method"`
	RequestArgs []json.RawMessage `json:"requestParams"`
	Path        *string           `json:"path"`
}

func (p *RequestParams) ApplyDefaults() {
	if p.LoginParams != nil {
		p.LoginParams.ApplyDefaults()
	}
	if p.Path == nil {
		path := DefaultRequestPath
		p.Path = &path
	}
}

func (p *RequestParams) Validate() error {
	if p.LoginParams == nil {
		return codec.Missing("loginParams")
	}
	if err := p.LoginParams.Validate(); err != nil {
		return err
	}
	if strings.TrimSpace(p.Method) == "" {
		return codec.Missing("method")
	}
	if p.RequestArgs == nil {
		return codec.Missing("requestParams")
	}
	return nil
}
