package credentials

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
)

// GatewayCredentialRow is the GORM row backing a ProviderCredentialsID's
// stored blob, following the exported-struct + TableName() convention of
// llm/types.go's LLMProviderAPIKey.
type GatewayCredentialRow struct {
	ID         uint   `gorm:"primaryKey"`
	Tenant     string `gorm:"size:200;not null;uniqueIndex:idx_gateway_cred_key"`
	Provider   string `gorm:"size:100;not null;uniqueIndex:idx_gateway_cred_key"`
	Project    string `gorm:"size:200;uniqueIndex:idx_gateway_cred_key"`
	Blob       string `gorm:"type:text"`
	IsActive   bool   `gorm:"default:true"`
	UpdatedAt  time.Time
}

func (GatewayCredentialRow) TableName() string {
	return "gateway_credentials"
}

// GormKeyStore is a gorm.io/gorm backed KeyStorage, grounded on
// llm/apikey_pool.go's query-then-mutate pattern over GORM models.
type GormKeyStore struct {
	db *gorm.DB
}

func NewGormKeyStore(db *gorm.DB) *GormKeyStore {
	return &GormKeyStore{db: db}
}

func (s *GormKeyStore) Insert(ctx context.Context, id ProviderCredentialsID, blob *string) error {
	row := GatewayCredentialRow{
		Tenant:    id.Tenant,
		Provider:  id.Provider,
		Project:   id.Project,
		IsActive:  true,
		UpdatedAt: time.Now(),
	}
	if blob != nil {
		row.Blob = *blob
	}
	return s.db.WithContext(ctx).Create(&row).Error
}

func (s *GormKeyStore) Get(ctx context.Context, id ProviderCredentialsID) (*string, error) {
	var row GatewayCredentialRow
	err := s.db.WithContext(ctx).
		Where("tenant = ? AND provider = ? AND project = ? AND is_active = ?", id.Tenant, id.Provider, id.Project, true).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row.Blob, nil
}

func (s *GormKeyStore) GetBatch(ctx context.Context, ids []ProviderCredentialsID) ([]BatchResult, error) {
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

func (s *GormKeyStore) Update(ctx context.Context, id ProviderCredentialsID, blob *string) error {
	updates := map[string]any{"updated_at": time.Now()}
	if blob != nil {
		updates["blob"] = *blob
	}
	return s.db.WithContext(ctx).Model(&GatewayCredentialRow{}).
		Where("tenant = ? AND provider = ? AND project = ?", id.Tenant, id.Provider, id.Project).
		Updates(updates).Error
}

func (s *GormKeyStore) Delete(ctx context.Context, id ProviderCredentialsID) error {
	return s.db.WithContext(ctx).
		Where("tenant = ? AND provider = ? AND project = ?", id.Tenant, id.Provider, id.Project).
		Delete(&GatewayCredentialRow{}).Error
}
