package server

// RequestWalletJson is the request body of POST /api/request-wallet. The
// signer address is always recovered from the signature, never taken
// from the body.
type RequestWalletJson struct {
	Message        string `json:"message"`
	Signature      string `json:"signature"`
	ExpectedAmount string `json:"expectedAmount"`
}

// WalletCreatedJson is the response body of a successful session
// creation.
type WalletCreatedJson struct {
	SessionToken string `json:"sessionToken"`
	NewAddress   string `json:"newAddress"`
}

// SessionStatusJson is the session record as exposed by GET /api/status.
// The wrapped key and the enclave key reference are never present here.
type SessionStatusJson struct {
	SessionToken      string `json:"sessionToken"`
	UserAddress       string `json:"userAddress"`
	ExpectedAmount    string `json:"expectedAmount"`
	Status            string `json:"status"`
	NewAddress        string `json:"newAddress"`
	AttestationReport string `json:"attestationReport"`
	DepositTxHash     string `json:"depositTxHash,omitempty"`
	DepositId         string `json:"depositId,omitempty"`
	WithdrawTxHash    string `json:"withdrawTxHash,omitempty"`
	CreatedAt         string `json:"createdAt"`
	UpdatedAt         string `json:"updatedAt"`
}

// ClaimWalletJson is the response body of GET /api/claim-wallet.
type ClaimWalletJson struct {
	NewAddress          string `json:"newAddress"`
	EncryptedKeyForUser string `json:"encryptedKeyForUser"`
	AttestationReport   string `json:"attestationReport"`
}

// HealthJson is the response body of GET /health.
type HealthJson struct {
	Status string `json:"status"`
}
