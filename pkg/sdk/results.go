package sdk

// UserInfo describes the logged-in user.
type UserInfo struct {
	Email             string `json:"email,omitempty"`
	Name              string `json:"name,omitempty"`
	ProfileImage      string `json:"profileImage,omitempty"`
	AggregateVerifier string `json:"aggregateVerifier,omitempty"`
	Verifier          string `json:"verifier"`
	VerifierID        string `json:"verifierId"`
	TypeOfLogin       string `json:"typeOfLogin"`
	DappShare         string `json:"dappShare,omitempty"`
	IDToken           string `json:"idToken,omitempty"`
	OAuthIDToken      string `json:"oAuthIdToken,omitempty"`
	OAuthAccessToken  string `json:"oAuthAccessToken,omitempty"`
	IsMFAEnabled      bool   `json:"isMfaEnabled"`
}

// Web3AuthResponse is the login result and the getWeb3AuthResponse result.
type Web3AuthResponse struct {
	PrivKey               string    `json:"privKey,omitempty"`
	Ed25519PrivKey        string    `json:"ed25519PrivKey,omitempty"`
	SessionID             string    `json:"sessionId,omitempty"`
	UserInfo              *UserInfo `json:"userInfo,omitempty"`
	Error                 string    `json:"error,omitempty"`
	CoreKitKey            string    `json:"coreKitKey,omitempty"`
	CoreKitEd25519PrivKey string    `json:"coreKitEd25519PrivKey,omitempty"`
	FactorKey             string    `json:"factorKey,omitempty"`
	Signatures            []string  `json:"signatures,omitempty"`
	TSSShareIndex         *int      `json:"tssShareIndex,omitempty"`
	TSSPubKey             string    `json:"tssPubKey,omitempty"`
	TSSNonce              *int      `json:"tssNonce,omitempty"`
	NodeIndexes           []int     `json:"nodeIndexes,omitempty"`
	KeyMode               string    `json:"keyMode,omitempty"`
}

// SignResponse is the outcome of the last wallet request.
type SignResponse struct {
	Success bool    `json:"success"`
	Result  *string `json:"result,omitempty"`
	Error   *string `json:"error,omitempty"`
}
