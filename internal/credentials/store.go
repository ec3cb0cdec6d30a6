// Package credentials stores named provider API keys, encrypted at rest and
// only ever listed in masked form.
package credentials

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/opensandbox/codespace/internal/crypto"
	"github.com/opensandbox/codespace/pkg/types"
)

var (
	ErrExists   = errors.New("credential already exists")
	ErrNotFound = errors.New("credential not found")
	ErrInvalid  = errors.New("invalid credential")
)

var validName = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]{0,63}$`)

// Store is the credential collaborator.
type Store interface {
	Create(ctx context.Context, req types.CreateKeyRequest) (*types.KeyInfo, error)
	List(ctx context.Context) ([]types.KeyInfo, error)
	Revoke(ctx context.Context, name string) error
	// Reveal returns the plaintext key for server-side use.
	Reveal(ctx context.Context, name string) (string, error)
}

// record is the stored form of a credential.
type record struct {
	Name      string    `json:"name"`
	Provider  string    `json:"provider"`
	Sealed    string    `json:"sealed"`
	Masked    string    `json:"masked"`
	CreatedAt time.Time `json:"createdAt"`
}

func (r record) info() types.KeyInfo {
	return types.KeyInfo{
		Name:      r.Name,
		Provider:  r.Provider,
		Masked:    r.Masked,
		CreatedAt: r.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func newRecord(sealer *crypto.Sealer, req types.CreateKeyRequest, now time.Time) (record, error) {
	if !validName.MatchString(req.Name) {
		return record{}, fmt.Errorf("%w: name must be 1-64 letters, digits, '.', '_' or '-'", ErrInvalid)
	}
	if req.Key == "" {
		return record{}, fmt.Errorf("%w: key is required", ErrInvalid)
	}
	provider := req.Provider
	if provider == "" {
		provider = "generic"
	}
	sealed, err := sealer.Seal(req.Key)
	if err != nil {
		return record{}, fmt.Errorf("seal credential %s: %w", req.Name, err)
	}
	return record{
		Name:      req.Name,
		Provider:  provider,
		Sealed:    sealed,
		Masked:    Mask(req.Key),
		CreatedAt: now,
	}, nil
}

// Mask shows a key's first three and last four characters, e.g.
// "sk-...abcd". Short keys are fully hidden.
func Mask(key string) string {
	if len(key) <= 8 {
		return "****"
	}
	return key[:3] + "..." + key[len(key)-4:]
}
