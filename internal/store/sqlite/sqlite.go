// Package sqlite implements the sharing store using SQLite via GORM.
package sqlite

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/podshare/podshare-go/internal/store"
)

func init() {
	store.Register("sqlite", NewDriver)
}

// Driver implements store.Store using SQLite via GORM.
type Driver struct {
	dataDir string
	db      *gorm.DB
}

// NewDriver creates a new SQLite driver instance.
func NewDriver(cfg *store.DriverConfig) (store.Store, error) {
	if cfg.DataDir == "" {
		return nil, fmt.Errorf("data_dir is required for sqlite driver")
	}

	return &Driver{
		dataDir: cfg.DataDir,
	}, nil
}

// Name returns the driver name.
func (d *Driver) Name() string {
	return "sqlite"
}

// Init initializes the SQLite database and runs AutoMigrate.
func (d *Driver) Init(ctx context.Context) error {
	dbPath := filepath.Join(d.dataDir, "podshare.db")

	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	d.db = db

	if err := db.AutoMigrate(
		&store.Home{},
		&store.Resource{},
		&store.BindRecord{},
		&store.ResourceRevision{},
		&store.Notification{},
		&store.ResourceProperty{},
	); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}

	return nil
}

// Close closes the database connection.
func (d *Driver) Close() error {
	if d.db == nil {
		return nil
	}
	sqlDB, err := d.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// stores implements store.Stores over one *gorm.DB handle, which is either
// the root auto-committing handle or a transaction-scoped one.
type stores struct {
	db *gorm.DB
}

func (s stores) Homes() store.HomeStore                 { return homeStore{s.db} }
func (s stores) Resources() store.ResourceStore         { return resourceStore{s.db} }
func (s stores) Binds() store.BindStore                 { return bindStore{s.db} }
func (s stores) Revisions() store.RevisionStore         { return revisionStore{s.db} }
func (s stores) Notifications() store.NotificationStore { return notificationStore{s.db} }
func (s stores) Properties() store.PropertyStore        { return propertyStore{s.db} }

// Auto-committing accessors on the driver itself.
func (d *Driver) Homes() store.HomeStore                 { return homeStore{d.db} }
func (d *Driver) Resources() store.ResourceStore         { return resourceStore{d.db} }
func (d *Driver) Binds() store.BindStore                 { return bindStore{d.db} }
func (d *Driver) Revisions() store.RevisionStore         { return revisionStore{d.db} }
func (d *Driver) Notifications() store.NotificationStore { return notificationStore{d.db} }
func (d *Driver) Properties() store.PropertyStore        { return propertyStore{d.db} }

// tx implements store.Tx.
type tx struct {
	stores
	afterCommit   []func()
	afterRollback []func()
}

// AfterCommit registers fn to run after a successful commit.
func (t *tx) AfterCommit(fn func()) {
	t.afterCommit = append(t.afterCommit, fn)
}

// AfterRollback registers fn to run after the transaction rolls back.
func (t *tx) AfterRollback(fn func()) {
	t.afterRollback = append(t.afterRollback, fn)
}

// SubTransaction runs fn in a savepoint scope that can fail and retry
// without aborting the enclosing transaction. SQLite allows one writer at a
// time, so an independent connection would deadlock against the enclosing
// write lock; a savepoint gives the same abort isolation. Only a uniqueness
// race is retried; exhausting the attempts yields an error wrapping
// store.ErrRetriesExhausted.
func (t *tx) SubTransaction(ctx context.Context, attempts int, fn func(ctx context.Context, sub store.Stores) error) error {
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for i := 0; i < attempts; i++ {
		err = t.db.WithContext(ctx).Transaction(func(gtx *gorm.DB) error {
			return fn(ctx, stores{gtx})
		})
		if err == nil {
			return nil
		}
		if !errors.Is(err, store.ErrAlreadyExists) {
			return err
		}
	}
	return fmt.Errorf("%w: %v", store.ErrRetriesExhausted, err)
}

// InTransaction runs fn inside a transaction and fires AfterCommit callbacks
// once the commit succeeds.
func (d *Driver) InTransaction(ctx context.Context, fn func(ctx context.Context, txh store.Tx) error) error {
	t := &tx{}
	err := d.db.WithContext(ctx).Transaction(func(gtx *gorm.DB) error {
		t.stores = stores{gtx}
		return fn(ctx, t)
	})
	if err != nil {
		for _, fn := range t.afterRollback {
			fn()
		}
		return err
	}
	for _, fn := range t.afterCommit {
		fn()
	}
	return nil
}

// translate maps gorm errors onto store sentinels.
func translate(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return store.ErrNotFound
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) ||
		strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return store.ErrAlreadyExists
	}
	return err
}

// homeStore implements store.HomeStore.
type homeStore struct{ db *gorm.DB }

func (s homeStore) Insert(ctx context.Context, home *store.Home) error {
	now := time.Now().Unix()
	home.CreatedAt = now
	home.UpdatedAt = now
	return translate(s.db.WithContext(ctx).Create(home).Error)
}

func (s homeStore) ByUID(ctx context.Context, homeType, uid string) (*store.Home, error) {
	var home store.Home
	err := s.db.WithContext(ctx).First(&home, "home_type = ? AND uid = ?", homeType, uid).Error
	if err != nil {
		return nil, translate(err)
	}
	return &home, nil
}

func (s homeStore) ByID(ctx context.Context, id int64) (*store.Home, error) {
	var home store.Home
	err := s.db.WithContext(ctx).First(&home, "id = ?", id).Error
	if err != nil {
		return nil, translate(err)
	}
	return &home, nil
}

// resourceStore implements store.ResourceStore.
type resourceStore struct{ db *gorm.DB }

func (s resourceStore) Insert(ctx context.Context, res *store.Resource) error {
	now := time.Now().Unix()
	res.CreatedAt = now
	res.UpdatedAt = now
	return translate(s.db.WithContext(ctx).Create(res).Error)
}

func (s resourceStore) ByID(ctx context.Context, id int64) (*store.Resource, error) {
	var res store.Resource
	err := s.db.WithContext(ctx).First(&res, "id = ?", id).Error
	if err != nil {
		return nil, translate(err)
	}
	return &res, nil
}

func (s resourceStore) Update(ctx context.Context, res *store.Resource) error {
	res.UpdatedAt = time.Now().Unix()
	return translate(s.db.WithContext(ctx).Save(res).Error)
}

func (s resourceStore) Delete(ctx context.Context, id int64) error {
	result := s.db.WithContext(ctx).Delete(&store.Resource{}, "id = ?", id)
	if result.Error != nil {
		return translate(result.Error)
	}
	if result.RowsAffected == 0 {
		return store.ErrNotFound
	}
	return nil
}

// bindStore implements store.BindStore.
type bindStore struct{ db *gorm.DB }

func (s bindStore) Insert(ctx context.Context, bind *store.BindRecord) error {
	now := time.Now().Unix()
	bind.CreatedAt = now
	bind.UpdatedAt = now
	return translate(s.db.WithContext(ctx).Create(bind).Error)
}

func (s bindStore) Update(ctx context.Context, resourceID, homeID int64, columns map[string]any) error {
	if len(columns) == 0 {
		return nil
	}
	columns["updated_at"] = time.Now().Unix()
	result := s.db.WithContext(ctx).
		Model(&store.BindRecord{}).
		Where("resource_id = ? AND home_resource_id = ?", resourceID, homeID).
		Updates(columns)
	if result.Error != nil {
		return translate(result.Error)
	}
	if result.RowsAffected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s bindStore) Delete(ctx context.Context, resourceID, homeID int64) error {
	result := s.db.WithContext(ctx).
		Delete(&store.BindRecord{}, "resource_id = ? AND home_resource_id = ?", resourceID, homeID)
	if result.Error != nil {
		return translate(result.Error)
	}
	if result.RowsAffected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s bindStore) ByResourceAndHome(ctx context.Context, resourceID, homeID int64) (*store.BindRecord, error) {
	var bind store.BindRecord
	err := s.db.WithContext(ctx).
		First(&bind, "resource_id = ? AND home_resource_id = ?", resourceID, homeID).Error
	if err != nil {
		return nil, translate(err)
	}
	return &bind, nil
}

func (s bindStore) ByExternalIDAndHome(ctx context.Context, externalID, homeID int64) (*store.BindRecord, error) {
	var bind store.BindRecord
	err := s.db.WithContext(ctx).
		First(&bind, "external_id = ? AND home_resource_id = ?", externalID, homeID).Error
	if err != nil {
		return nil, translate(err)
	}
	return &bind, nil
}

func (s bindStore) ByNameAndHome(ctx context.Context, name string, homeID int64) (*store.BindRecord, error) {
	var bind store.BindRecord
	err := s.db.WithContext(ctx).
		First(&bind, "name = ? AND home_resource_id = ?", name, homeID).Error
	if err != nil {
		return nil, translate(err)
	}
	return &bind, nil
}

func (s bindStore) OwnBindForResource(ctx context.Context, resourceID int64) (*store.BindRecord, error) {
	var bind store.BindRecord
	err := s.db.WithContext(ctx).
		First(&bind, "resource_id = ? AND mode = ?", resourceID, store.BindModeOwn).Error
	if err != nil {
		return nil, translate(err)
	}
	return &bind, nil
}

func (s bindStore) InvitationsForResource(ctx context.Context, resourceID int64) ([]*store.InvitationRow, error) {
	var rows []*store.InvitationRow
	err := s.db.WithContext(ctx).
		Model(&store.BindRecord{}).
		Select("homes.uid AS sharee_uid, bind_records.home_resource_id, bind_records.resource_id, bind_records.name, bind_records.mode, bind_records.status, bind_records.message").
		Joins("JOIN homes ON homes.id = bind_records.home_resource_id").
		Where("bind_records.resource_id = ? AND bind_records.mode != ?", resourceID, store.BindModeOwn).
		Scan(&rows).Error
	if err != nil {
		return nil, translate(err)
	}
	return rows, nil
}

func (s bindStore) AcceptedForHome(ctx context.Context, homeID int64) ([]*store.BindRecord, error) {
	var binds []*store.BindRecord
	err := s.db.WithContext(ctx).
		Where("home_resource_id = ? AND (mode = ? OR status = ?)",
			homeID, store.BindModeOwn, store.BindStatusAccepted).
		Find(&binds).Error
	if err != nil {
		return nil, translate(err)
	}
	return binds, nil
}

func (s bindStore) AcceptedCountForResource(ctx context.Context, resourceID int64) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Model(&store.BindRecord{}).
		Where("resource_id = ? AND mode != ? AND status = ?",
			resourceID, store.BindModeOwn, store.BindStatusAccepted).
		Count(&count).Error
	if err != nil {
		return 0, translate(err)
	}
	return count, nil
}

// revisionStore implements store.RevisionStore.
type revisionStore struct{ db *gorm.DB }

// nextRevision allocates the next revision in the resource's sequence.
func (s revisionStore) nextRevision(ctx context.Context, resourceID int64) (int64, error) {
	var current int64
	err := s.db.WithContext(ctx).
		Model(&store.ResourceRevision{}).
		Where("resource_id = ?", resourceID).
		Select("COALESCE(MAX(revision), 0)").
		Scan(&current).Error
	if err != nil {
		return 0, translate(err)
	}
	return current + 1, nil
}

func (s revisionStore) InitSyncToken(ctx context.Context, resourceID, homeID int64) (int64, error) {
	rev, err := s.nextRevision(ctx, resourceID)
	if err != nil {
		return 0, err
	}

	var row store.ResourceRevision
	err = s.db.WithContext(ctx).
		First(&row, "resource_id = ? AND home_id = ?", resourceID, homeID).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		row = store.ResourceRevision{
			ResourceID: resourceID,
			HomeID:     homeID,
			Revision:   rev,
			UpdatedAt:  time.Now().Unix(),
		}
		if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
			return 0, translate(err)
		}
	case err != nil:
		return 0, translate(err)
	default:
		row.Revision = rev
		row.Deleted = false
		row.UpdatedAt = time.Now().Unix()
		if err := s.db.WithContext(ctx).Save(&row).Error; err != nil {
			return 0, translate(err)
		}
	}
	return rev, nil
}

func (s revisionStore) MarkDeleted(ctx context.Context, resourceID, homeID int64) error {
	rev, err := s.nextRevision(ctx, resourceID)
	if err != nil {
		return err
	}
	result := s.db.WithContext(ctx).
		Model(&store.ResourceRevision{}).
		Where("resource_id = ? AND home_id = ?", resourceID, homeID).
		Updates(map[string]any{
			"revision":   rev,
			"deleted":    true,
			"updated_at": time.Now().Unix(),
		})
	if result.Error != nil {
		return translate(result.Error)
	}
	// No prior sync state is fine; nothing for a sync client to forget.
	return nil
}

func (s revisionStore) Revision(ctx context.Context, resourceID, homeID int64) (int64, error) {
	var row store.ResourceRevision
	err := s.db.WithContext(ctx).
		First(&row, "resource_id = ? AND home_id = ?", resourceID, homeID).Error
	if err != nil {
		return 0, translate(err)
	}
	return row.Revision, nil
}

func (s revisionStore) DeleteForResource(ctx context.Context, resourceID int64) error {
	return translate(s.db.WithContext(ctx).
		Delete(&store.ResourceRevision{}, "resource_id = ?", resourceID).Error)
}

// notificationStore implements store.NotificationStore.
type notificationStore struct{ db *gorm.DB }

func (s notificationStore) Write(ctx context.Context, principalUID, notificationUID, typeTag string, payload []byte) error {
	now := time.Now().Unix()

	var existing store.Notification
	err := s.db.WithContext(ctx).
		First(&existing, "principal_uid = ? AND uid = ?", principalUID, notificationUID).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return translate(s.db.WithContext(ctx).Create(&store.Notification{
			PrincipalUID: principalUID,
			UID:          notificationUID,
			TypeTag:      typeTag,
			Payload:      payload,
			CreatedAt:    now,
			UpdatedAt:    now,
		}).Error)
	case err != nil:
		return translate(err)
	}

	existing.TypeTag = typeTag
	existing.Payload = payload
	existing.UpdatedAt = now
	return translate(s.db.WithContext(ctx).Save(&existing).Error)
}

func (s notificationStore) Remove(ctx context.Context, principalUID, notificationUID string) error {
	result := s.db.WithContext(ctx).
		Delete(&store.Notification{}, "principal_uid = ? AND uid = ?", principalUID, notificationUID)
	if result.Error != nil {
		return translate(result.Error)
	}
	if result.RowsAffected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s notificationStore) ByPrincipal(ctx context.Context, principalUID string) ([]*store.Notification, error) {
	var rows []*store.Notification
	err := s.db.WithContext(ctx).
		Where("principal_uid = ?", principalUID).
		Order("created_at, id").
		Find(&rows).Error
	if err != nil {
		return nil, translate(err)
	}
	return rows, nil
}

func (s notificationStore) ByUID(ctx context.Context, principalUID, notificationUID string) (*store.Notification, error) {
	var row store.Notification
	err := s.db.WithContext(ctx).
		First(&row, "principal_uid = ? AND uid = ?", principalUID, notificationUID).Error
	if err != nil {
		return nil, translate(err)
	}
	return &row, nil
}

// propertyStore implements store.PropertyStore.
type propertyStore struct{ db *gorm.DB }

func (s propertyStore) Set(ctx context.Context, resourceID, homeID int64, name, value string) error {
	var existing store.ResourceProperty
	err := s.db.WithContext(ctx).
		First(&existing, "resource_id = ? AND home_id = ? AND name = ?", resourceID, homeID, name).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return translate(s.db.WithContext(ctx).Create(&store.ResourceProperty{
			ResourceID: resourceID,
			HomeID:     homeID,
			Name:       name,
			Value:      value,
		}).Error)
	case err != nil:
		return translate(err)
	}
	existing.Value = value
	return translate(s.db.WithContext(ctx).Save(&existing).Error)
}

func (s propertyStore) Get(ctx context.Context, resourceID, homeID int64, name string) (string, error) {
	var row store.ResourceProperty
	err := s.db.WithContext(ctx).
		First(&row, "resource_id = ? AND home_id = ? AND name = ?", resourceID, homeID, name).Error
	if err != nil {
		return "", translate(err)
	}
	return row.Value, nil
}

func (s propertyStore) ForResourceAndHome(ctx context.Context, resourceID, homeID int64) (map[string]string, error) {
	var rows []*store.ResourceProperty
	err := s.db.WithContext(ctx).
		Where("resource_id = ? AND home_id = ?", resourceID, homeID).
		Find(&rows).Error
	if err != nil {
		return nil, translate(err)
	}
	props := make(map[string]string, len(rows))
	for _, r := range rows {
		props[r.Name] = r.Value
	}
	return props, nil
}

func (s propertyStore) DeleteForResource(ctx context.Context, resourceID int64) error {
	return translate(s.db.WithContext(ctx).
		Delete(&store.ResourceProperty{}, "resource_id = ?", resourceID).Error)
}

// Compile-time interface checks
var _ store.Store = (*Driver)(nil)
var _ store.Tx = (*tx)(nil)
