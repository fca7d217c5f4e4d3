// Package syncorch implements the sync orchestrator: it pulls the vault's
// sync payload, decrypts the opt-in "expose" tag on SecureNote items, and
// reconciles the persisted identity set against what it observed.
package syncorch

import (
	"context"
	"fmt"
	"log"

	"golang.org/x/crypto/ssh"

	"github.com/teidesu/bw-ssh-agent/internal/sealing"
	"github.com/teidesu/bw-ssh-agent/internal/secret"
	"github.com/teidesu/bw-ssh-agent/internal/store"
	"github.com/teidesu/bw-ssh-agent/internal/vault"
	"github.com/teidesu/bw-ssh-agent/internal/vaultcrypto"
)

// exposeTag is the literal custom-field name a SecureNote's owner sets to
// opt the item into this agent.
const exposeTag = "desu.tei.bw-ssh-agent:expose"

// Summary reports what a Run observed.
type Summary struct {
	Found    int // exposed items observed this run
	Upserted int // identities created or changed
	Deleted  int // identities removed because no longer exposed
}

// Orchestrator reconciles persisted identities against the vault's exposed
// SecureNote items.
type Orchestrator struct {
	client  *vault.Client
	tokens  *vault.TokenManager
	sealing *sealing.Facade
	store   store.Store
	apiURL  string
}

// New builds an Orchestrator. apiURL is the vault's API base URL, as
// returned by Client.GetConfig's EnvironmentConfig.API.
func New(client *vault.Client, tokens *vault.TokenManager, sf *sealing.Facade, st store.Store, apiURL string) *Orchestrator {
	return &Orchestrator{client: client, tokens: tokens, sealing: sf, store: st, apiURL: apiURL}
}

// Run fetches the sync payload, reconciles identities, and returns a
// Summary. It returns ErrNotLoggedIn if no AuthBlob exists.
func (o *Orchestrator) Run(ctx context.Context) (Summary, error) {
	auth, err := o.store.GetAuth(ctx)
	if err != nil {
		return Summary{}, fmt.Errorf("load auth: %w", err)
	}
	if auth == nil {
		return Summary{}, ErrNotLoggedIn
	}

	accessToken, err := o.tokens.AccessToken(ctx)
	if err != nil {
		return Summary{}, fmt.Errorf("refresh access token: %w", err)
	}

	resp, err := o.client.Sync(ctx, o.apiURL, accessToken)
	if err != nil {
		return Summary{}, fmt.Errorf("fetch sync payload: %w", err)
	}

	rawSymmetric, err := o.sealing.Decrypt(auth.SealedSymmetricKey)
	if err != nil {
		return Summary{}, fmt.Errorf("unseal symmetric key: %w", err)
	}
	defer rawSymmetric.Zero()

	accountKey, err := vaultcrypto.ExpandedKeyFromBytes(rawSymmetric)
	if err != nil {
		return Summary{}, fmt.Errorf("expand symmetric key: %w", err)
	}
	defer accountKey.Zero()

	var summary Summary
	observed := make(map[string]struct{}) // keyed by public key for the trailing delete pass

	for _, cipher := range resp.Ciphers {
		if cipher.Type != vault.CipherSecureNote || cipher.SecureNote == nil || cipher.DeletedDate != nil {
			continue
		}

		identity, ok, err := o.reconcileOne(ctx, accountKey, cipher)
		if err != nil {
			log.Printf("syncorch: skipping cipher %s: %v", cipher.ID, err)
			continue
		}
		if !ok {
			continue
		}

		summary.Found++
		observed[string(identity.PublicKey)] = struct{}{}

		existing, err := o.store.GetIdentity(ctx, identity.ID)
		if err != nil {
			log.Printf("syncorch: look up identity %s: %v", identity.ID, err)
			continue
		}
		if existing != nil && existing.Name == identity.Name && bytesEqual(existing.PublicKey, identity.PublicKey) {
			continue
		}

		if err := o.store.UpsertIdentity(ctx, identity); err != nil {
			log.Printf("syncorch: upsert identity %s: %v", identity.ID, err)
			continue
		}
		summary.Upserted++
	}

	all, err := o.store.ListIdentities(ctx)
	if err != nil {
		return summary, fmt.Errorf("list identities: %w", err)
	}
	for _, id := range all {
		if _, ok := observed[string(id.PublicKey)]; ok {
			continue
		}
		if err := o.store.DeleteIdentity(ctx, id.ID); err != nil {
			log.Printf("syncorch: delete stale identity %s: %v", id.ID, err)
			continue
		}
		summary.Deleted++
	}

	return summary, nil
}

// reconcileOne decrypts and evaluates a single SecureNote cipher, returning
// the identity it represents if (and only if) it is exposed.
func (o *Orchestrator) reconcileOne(_ context.Context, accountKey vaultcrypto.ExpandedKey, cipher vault.CipherDetails) (*store.Identity, bool, error) {
	itemKey := accountKey
	var intermediate *string

	if cipher.Key != nil {
		decrypted, err := vaultcrypto.Decrypt(accountKey, *cipher.Key)
		if err != nil {
			return nil, false, fmt.Errorf("decrypt intermediate key: %w", err)
		}
		expanded, err := vaultcrypto.ExpandedKeyFromBytes(decrypted)
		secret.Bytes(decrypted).Zero()
		if err != nil {
			return nil, false, fmt.Errorf("expand intermediate key: %w", err)
		}
		itemKey = expanded
		intermediate = cipher.Key
		defer itemKey.Zero()
	}

	exposed, err := isExposed(itemKey, cipher.Fields)
	if err != nil {
		return nil, false, err
	}
	if !exposed {
		return nil, false, nil
	}

	noteBytes, err := vaultcrypto.Decrypt(itemKey, cipher.Notes)
	if err != nil {
		return nil, false, fmt.Errorf("decrypt note body: %w", err)
	}
	defer secret.Bytes(noteBytes).Zero()

	nameBytes, err := vaultcrypto.Decrypt(itemKey, cipher.Name)
	if err != nil {
		return nil, false, fmt.Errorf("decrypt item name: %w", err)
	}

	raw, err := ssh.ParseRawPrivateKey(noteBytes)
	if err != nil {
		return nil, false, fmt.Errorf("parse openssh private key: %w", err)
	}
	signer, err := ssh.NewSignerFromKey(raw)
	if err != nil {
		return nil, false, fmt.Errorf("derive public key: %w", err)
	}

	return &store.Identity{
		ID:              cipher.ID,
		Name:            string(nameBytes),
		PublicKey:       signer.PublicKey().Marshal(),
		PrivateKey:      cipher.Notes,
		IntermediateKey: intermediate,
	}, true, nil
}

// isExposed iterates the cipher's custom fields, decrypting each field name
// and, for the literal expose tag, its value.
// A field name that fails to decrypt is treated as "not this field" rather
// than aborting the whole item; a failure to decrypt the expose field's
// value is returned as an error, and the caller skips the item.
func isExposed(key vaultcrypto.ExpandedKey, fields []vault.CipherField) (bool, error) {
	for _, field := range fields {
		if field.Name == nil || field.Value == nil {
			continue
		}
		nameBytes, err := vaultcrypto.Decrypt(key, *field.Name)
		if err != nil {
			continue
		}
		if string(nameBytes) != exposeTag {
			continue
		}
		valueBytes, err := vaultcrypto.Decrypt(key, *field.Value)
		if err != nil {
			return false, fmt.Errorf("decrypt expose field value: %w", err)
		}
		v := string(valueBytes)
		return v == "1" || v == "true", nil
	}
	return false, nil
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
