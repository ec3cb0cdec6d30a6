package types

// CreateKeyRequest stores a named provider key.
type CreateKeyRequest struct {
	Name     string `json:"name"`
	Provider string `json:"provider"`
	Key      string `json:"key"`
}

// KeyInfo describes a stored key. The secret itself is never returned.
type KeyInfo struct {
	Name      string `json:"name"`
	Provider  string `json:"provider"`
	Masked    string `json:"masked"`
	CreatedAt string `json:"createdAt"`
}
