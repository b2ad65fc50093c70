package persistence

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/erp/bcsync/internal/domain/customersync"
)

// CustomerSyncRecordModel is the GORM model for sync ledger entries
type CustomerSyncRecordModel struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey"`
	RunID       uuid.UUID `gorm:"type:uuid;index;not null"`
	ItemIndex   int       `gorm:"not null"`
	RecordIndex int       `gorm:"not null"`
	SourceID    string    `gorm:"type:varchar(255)"`
	MessageID   string    `gorm:"type:varchar(100)"`
	TargetID    string    `gorm:"type:varchar(100)"`
	Reference   string    `gorm:"type:varchar(100)"`
	Email       string    `gorm:"type:varchar(320);index"`
	StatusID    int       `gorm:"not null"`
	Success     bool      `gorm:"not null"`
	Message     string    `gorm:"type:text"`
	SyncedAt    time.Time `gorm:"not null"`
	CreatedAt   time.Time `gorm:"autoCreateTime"`
}

// TableName returns the table name for the model
func (CustomerSyncRecordModel) TableName() string {
	return "customer_sync_records"
}

// ToEntity converts the model to a domain entity
func (m *CustomerSyncRecordModel) ToEntity() customersync.SyncRecord {
	return customersync.SyncRecord{
		ID:          m.ID,
		RunID:       m.RunID,
		ItemIndex:   m.ItemIndex,
		RecordIndex: m.RecordIndex,
		SourceID:    m.SourceID,
		MessageID:   m.MessageID,
		TargetID:    m.TargetID,
		Reference:   m.Reference,
		Email:       m.Email,
		StatusID:    m.StatusID,
		Success:     m.Success,
		Message:     m.Message,
		SyncedAt:    m.SyncedAt,
		CreatedAt:   m.CreatedAt,
	}
}

// CustomerSyncRecordModelFromEntity creates a model from a domain entity
func CustomerSyncRecordModelFromEntity(e customersync.SyncRecord) *CustomerSyncRecordModel {
	id := e.ID
	if id == uuid.Nil {
		id = uuid.New()
	}
	return &CustomerSyncRecordModel{
		ID:          id,
		RunID:       e.RunID,
		ItemIndex:   e.ItemIndex,
		RecordIndex: e.RecordIndex,
		SourceID:    e.SourceID,
		MessageID:   e.MessageID,
		TargetID:    e.TargetID,
		Reference:   e.Reference,
		Email:       e.Email,
		StatusID:    e.StatusID,
		Success:     e.Success,
		Message:     e.Message,
		SyncedAt:    e.SyncedAt,
		CreatedAt:   e.CreatedAt,
	}
}

// GormSyncRecordRepository implements customersync.SyncRecordRepository
type GormSyncRecordRepository struct {
	db *gorm.DB
}

var _ customersync.SyncRecordRepository = (*GormSyncRecordRepository)(nil)

// NewGormSyncRecordRepository creates a new sync ledger repository
func NewGormSyncRecordRepository(db *gorm.DB) *GormSyncRecordRepository {
	return &GormSyncRecordRepository{db: db}
}

// SaveBatch persists ledger entries in batches of 100
func (r *GormSyncRecordRepository) SaveBatch(ctx context.Context, records []customersync.SyncRecord) error {
	if len(records) == 0 {
		return nil
	}

	models := make([]*CustomerSyncRecordModel, len(records))
	for i, record := range records {
		models[i] = CustomerSyncRecordModelFromEntity(record)
	}

	return r.db.WithContext(ctx).CreateInBatches(models, 100).Error
}

// FindByRun returns the entries of one run in item, then record, order
func (r *GormSyncRecordRepository) FindByRun(ctx context.Context, runID uuid.UUID) ([]customersync.SyncRecord, error) {
	var models []CustomerSyncRecordModel
	err := r.db.WithContext(ctx).
		Where("run_id = ?", runID).
		Order("item_index ASC, record_index ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	return toSyncRecords(models), nil
}

// FindAll returns one page of entries matching the filter, newest first, and
// the total number of matches
func (r *GormSyncRecordRepository) FindAll(ctx context.Context, filter customersync.SyncRecordFilter) ([]customersync.SyncRecord, int64, error) {
	query := r.applyFilter(r.db.WithContext(ctx).Model(&CustomerSyncRecordModel{}), filter)

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	page, pageSize := normalizePage(filter.Page, filter.PageSize)

	var models []CustomerSyncRecordModel
	err := query.
		Order("synced_at DESC, item_index ASC, record_index ASC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&models).Error
	if err != nil {
		return nil, 0, err
	}
	return toSyncRecords(models), total, nil
}

func (r *GormSyncRecordRepository) applyFilter(query *gorm.DB, filter customersync.SyncRecordFilter) *gorm.DB {
	if filter.RunID != nil {
		query = query.Where("run_id = ?", *filter.RunID)
	}
	if filter.Email != "" {
		query = query.Where("email = ?", filter.Email)
	}
	if filter.StatusID != nil {
		query = query.Where("status_id = ?", *filter.StatusID)
	}
	return query
}

func normalizePage(page, pageSize int) (int, int) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}
	return page, pageSize
}

func toSyncRecords(models []CustomerSyncRecordModel) []customersync.SyncRecord {
	records := make([]customersync.SyncRecord, len(models))
	for i := range models {
		records[i] = models[i].ToEntity()
	}
	return records
}
