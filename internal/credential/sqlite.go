package credential

import (
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"github.com/sicyuan404/proxycast/internal/domain"
	"github.com/sicyuan404/proxycast/internal/jsonutil"
)

// credentialModel is the GORM row shape for a domain.Credential. Variant
// fields (Payload, CachedToken) round-trip through JSON columns rather than
// a wide sparse table, mirroring the config/supported_client_types columns
// in the teacher's own provider table.
type credentialModel struct {
	UUID            string `gorm:"primaryKey"`
	Kind            string `gorm:"index"`
	Name            string `gorm:"index"`
	PayloadJSON     string
	IsHealthy       bool
	IsDisabled      bool
	ErrorCount      int
	LastHealthCheck *time.Time
	LastError       string
	UsageCount      int
	LastUsedAt      *time.Time
	CachedTokenJSON string
	NotSupportedJSON string
	CheckPolicyJSON string
	SubscriptionTier string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (credentialModel) TableName() string { return "credentials" }

// SQLiteStore is the gorm.io/gorm + glebarez/sqlite-backed Persister,
// grounded on the teacher's repository/sqlite gorm table style (BaseModel,
// AutoMigrate) but with JSON-blob variant columns instead of a second join
// table, since CredentialPayload/CachedToken are small and always read as a
// unit.
type SQLiteStore struct {
	db *gorm.DB
}

// OpenSQLiteStore opens (creating if absent) the sqlite file at path and
// ensures the credentials table exists.
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&credentialModel{}); err != nil {
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

func toModel(c *domain.Credential) (*credentialModel, error) {
	payloadJSON, err := jsonutil.Marshal(c.Payload)
	if err != nil {
		return nil, err
	}
	tokenJSON, err := jsonutil.Marshal(c.CachedToken)
	if err != nil {
		return nil, err
	}
	notSupported, err := jsonutil.Marshal(c.NotSupportedModels)
	if err != nil {
		return nil, err
	}
	policyJSON, err := jsonutil.Marshal(c.CheckPolicy)
	if err != nil {
		return nil, err
	}
	return &credentialModel{
		UUID:             c.UUID,
		Kind:             string(c.Kind),
		Name:             c.Name,
		PayloadJSON:      string(payloadJSON),
		IsHealthy:        c.IsHealthy,
		IsDisabled:       c.IsDisabled,
		ErrorCount:       c.ErrorCount,
		LastHealthCheck:  c.LastHealthCheck,
		LastError:        c.LastError,
		UsageCount:       c.UsageCount,
		LastUsedAt:       c.LastUsedAt,
		CachedTokenJSON:  string(tokenJSON),
		NotSupportedJSON: string(notSupported),
		CheckPolicyJSON:  string(policyJSON),
		SubscriptionTier: c.SubscriptionTier,
		CreatedAt:        c.CreatedAt,
		UpdatedAt:        c.UpdatedAt,
	}, nil
}

func fromModel(m *credentialModel) (*domain.Credential, error) {
	c := &domain.Credential{
		UUID:             m.UUID,
		Kind:             domain.CredentialKind(m.Kind),
		Name:             m.Name,
		IsHealthy:        m.IsHealthy,
		IsDisabled:       m.IsDisabled,
		ErrorCount:       m.ErrorCount,
		LastHealthCheck:  m.LastHealthCheck,
		LastError:        m.LastError,
		UsageCount:       m.UsageCount,
		LastUsedAt:       m.LastUsedAt,
		SubscriptionTier: m.SubscriptionTier,
		CreatedAt:        m.CreatedAt,
		UpdatedAt:        m.UpdatedAt,
	}
	if m.PayloadJSON != "" {
		if err := jsonutil.Unmarshal([]byte(m.PayloadJSON), &c.Payload); err != nil {
			return nil, err
		}
	}
	if m.CachedTokenJSON != "" && m.CachedTokenJSON != "null" {
		var tok domain.CachedToken
		if err := jsonutil.Unmarshal([]byte(m.CachedTokenJSON), &tok); err != nil {
			return nil, err
		}
		c.CachedToken = &tok
	}
	if m.NotSupportedJSON != "" {
		if err := jsonutil.Unmarshal([]byte(m.NotSupportedJSON), &c.NotSupportedModels); err != nil {
			return nil, err
		}
	}
	if m.CheckPolicyJSON != "" {
		if err := jsonutil.Unmarshal([]byte(m.CheckPolicyJSON), &c.CheckPolicy); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Save upserts by primary key (UUID), matching the teacher's OnConflict
// upsert idiom in cooldown_repository.go.
func (s *SQLiteStore) Save(c *domain.Credential) error {
	m, err := toModel(c)
	if err != nil {
		return err
	}
	return s.db.Save(m).Error
}

func (s *SQLiteStore) Delete(uuid string) error {
	return s.db.Delete(&credentialModel{}, "uuid = ?", uuid).Error
}

func (s *SQLiteStore) List() ([]*domain.Credential, error) {
	var rows []credentialModel
	if err := s.db.Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]*domain.Credential, 0, len(rows))
	for i := range rows {
		c, err := fromModel(&rows[i])
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}
