// Package credentials resolves provider API credentials by
// (tenant, provider, project) with a project → global → environment
// fallback chain, backed by a pluggable key store.
package credentials

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// ProviderCredentialsID is the composite key (tenant, provider, project).
// Its canonical string is "tenant_provider_project" with an empty project
// segment for the global (project-less) tier.
type ProviderCredentialsID struct {
	Tenant   string
	Provider string
	Project  string
}

// NewProviderCredentialsID builds an id the same way construct_key_id did
// in the source implementation: tenant_provider_project.
func NewProviderCredentialsID(tenant, provider, project string) ProviderCredentialsID {
	return ProviderCredentialsID{Tenant: tenant, Provider: provider, Project: project}
}

// Value is the canonical string key used by the underlying store.
func (id ProviderCredentialsID) Value() string {
	return fmt.Sprintf("%s_%s_%s", id.Tenant, id.Provider, id.Project)
}

// Global returns the project-less variant of this id, used for the
// second tier of the resolution chain.
func (id ProviderCredentialsID) Global() ProviderCredentialsID {
	g := id
	g.Project = ""
	return g
}

// KeyStorage is the external key-store contract consumed by the
// resolver (spec §6).
type KeyStorage interface {
	Insert(ctx context.Context, id ProviderCredentialsID, blob *string) error
	Get(ctx context.Context, id ProviderCredentialsID) (*string, error)
	GetBatch(ctx context.Context, ids []ProviderCredentialsID) ([]BatchResult, error)
	Update(ctx context.Context, id ProviderCredentialsID, blob *string) error
	Delete(ctx context.Context, id ProviderCredentialsID) error
}

// BatchResult is one entry of GetBatch's result.
type BatchResult struct {
	ID   ProviderCredentialsID
	Blob *string
}

// ErrKeyNotFound is returned by a KeyStorage implementation when the row
// for an id does not exist. The resolver treats it the same as a nil,nil
// return: fall through to the next tier.
var ErrKeyNotFound = fmt.Errorf("credential key not found")

// InMemoryKeyStore is a map-backed KeyStorage guarded by a RWMutex,
// grounded on the read/write discipline of llm/apikey_pool.go's
// in-memory key cache.
type InMemoryKeyStore struct {
	mu   sync.RWMutex
	rows map[string]string
}

func NewInMemoryKeyStore() *InMemoryKeyStore {
	return &InMemoryKeyStore{rows: make(map[string]string)}
}

func (s *InMemoryKeyStore) Insert(_ context.Context, id ProviderCredentialsID, blob *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if blob == nil {
		delete(s.rows, id.Value())
		return nil
	}
	s.rows[id.Value()] = *blob
	return nil
}

func (s *InMemoryKeyStore) Get(_ context.Context, id ProviderCredentialsID) (*string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.rows[id.Value()]
	if !ok {
		return nil, nil
	}
	return &v, nil
}

func (s *InMemoryKeyStore) GetBatch(ctx context.Context, ids []ProviderCredentialsID) ([]BatchResult, error) {
	// No atomicity guarantee (spec §9 open question c): N independent reads.
	out := make([]BatchResult, 0, len(ids))
	for _, id := range ids {
		v, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, BatchResult{ID: id, Blob: v})
	}
	return out, nil
}

func (s *InMemoryKeyStore) Update(_ context.Context, id ProviderCredentialsID, blob *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if blob == nil {
		delete(s.rows, id.Value())
		return nil
	}
	s.rows[id.Value()] = *blob
	return nil
}

func (s *InMemoryKeyStore) Delete(_ context.Context, id ProviderCredentialsID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rows, id.Value())
	return nil
}

// Resolver resolves credentials through the project → global → env
// chain (spec §4.1).
type Resolver struct {
	store  KeyStorage
	logger *zap.Logger
}

func NewResolver(store KeyStorage, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{store: store, logger: logger}
}

// Insert writes a credential blob at the given id.
func (r *Resolver) Insert(ctx context.Context, id ProviderCredentialsID, blob *string) error {
	return r.store.Insert(ctx, id, blob)
}

// Update overwrites a credential blob at the given id.
func (r *Resolver) Update(ctx context.Context, id ProviderCredentialsID, blob *string) error {
	return r.store.Update(ctx, id, blob)
}

// Delete removes a credential row.
func (r *Resolver) Delete(ctx context.Context, id ProviderCredentialsID) error {
	return r.store.Delete(ctx, id)
}

// GetBatch maps Get across ids with no atomicity guarantee.
func (r *Resolver) GetBatch(ctx context.Context, ids []ProviderCredentialsID) ([]BatchResult, error) {
	out := make([]BatchResult, 0, len(ids))
	for _, id := range ids {
		v, err := r.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, BatchResult{ID: id, Blob: v})
	}
	return out, nil
}

// Get resolves a credential blob for id, trying project-scoped, then
// global, then the environment. Lookup-layer errors are logged and
// treated as a miss (fall through); only deserialisation failures of a
// value the caller later parses via ExtractInto propagate.
func (r *Resolver) Get(ctx context.Context, id ProviderCredentialsID) (*string, error) {
	if id.Project != "" {
		v, err := r.store.Get(ctx, id)
		if err != nil && err != ErrKeyNotFound {
			r.logger.Warn("credential lookup failed, falling through", zap.String("tier", "project"), zap.Error(err))
		} else if v != nil {
			return v, nil
		}
	}

	v, err := r.store.Get(ctx, id.Global())
	if err != nil && err != ErrKeyNotFound {
		r.logger.Warn("credential lookup failed, falling through", zap.String("tier", "global"), zap.Error(err))
	} else if v != nil {
		return v, nil
	}

	if env := r.envCredential(id.Provider); env != nil {
		return env, nil
	}

	return nil, nil
}

// envCredential checks {PROVIDER}_API_KEY then LANGDB_{PROVIDER}_API_KEY,
// provider name uppercased with '-' replaced by '_' (spec §4.1, §6).
func (r *Resolver) envCredential(provider string) *string {
	norm := strings.ToUpper(strings.ReplaceAll(provider, "-", "_"))
	for _, name := range []string{norm + "_API_KEY", "LANGDB_" + norm + "_API_KEY"} {
		if v, ok := os.LookupEnv(name); ok && v != "" {
			blob, err := json.Marshal(map[string]string{"api_key": v})
			if err != nil {
				continue
			}
			s := string(blob)
			return &s
		}
	}
	return nil
}

// ExtractInto resolves id's credential and deserialises it into dest.
// A deserialisation failure of a found value propagates; a miss (no
// credential found anywhere) returns (false, nil).
func ExtractInto(ctx context.Context, r *Resolver, id ProviderCredentialsID, dest any) (bool, error) {
	blob, err := r.Get(ctx, id)
	if err != nil {
		return false, err
	}
	if blob == nil {
		return false, nil
	}
	if err := json.Unmarshal([]byte(*blob), dest); err != nil {
		return false, fmt.Errorf("storage error: deserialising credential for %s: %w", id.Provider, err)
	}
	return true, nil
}

// ExtractFromModelProvider composes a model's inference-provider name
// with the resolver, mirroring extract_key_from_model.
func ExtractFromModelProvider(ctx context.Context, r *Resolver, tenant, providerName, project string, dest any) (bool, error) {
	id := NewProviderCredentialsID(tenant, strings.Trim(providerName, "\"\\"), project)
	return ExtractInto(ctx, r, id, dest)
}
