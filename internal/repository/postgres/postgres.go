package postgres

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"attendance_bot/internal/domain"
)

// KVEntry строка локального хранилища
type KVEntry struct {
	Key       string `gorm:"column:kv_key;type:varchar(512);primaryKey"`
	Value     []byte `gorm:"column:kv_value;type:bytea"`
	UpdatedAt time.Time
}

func (KVEntry) TableName() string { return "kv_entries" }

type KVRepository struct {
	DB *gorm.DB
}

func NewKVRepository(db *gorm.DB) *KVRepository {
	return &KVRepository{DB: db}
}

// Создание таблицы
func (r *KVRepository) Migrate() error {
	return r.DB.AutoMigrate(&KVEntry{})
}

func (r *KVRepository) Get(ctx context.Context, key string) ([]byte, bool, error) {
	return get(r.DB.WithContext(ctx), key)
}

func (r *KVRepository) Set(ctx context.Context, key string, value []byte) error {
	return upsert(r.DB.WithContext(ctx), key, value)
}

// Получение ключей по префиксу
func (r *KVRepository) Keys(ctx context.Context, prefix string) ([]string, error) {
	keys := make([]string, 0)
	err := r.DB.WithContext(ctx).Model(&KVEntry{}).
		Where("kv_key LIKE ?", escapeLike(prefix)+"%").
		Order("kv_key").
		Pluck("kv_key", &keys).Error
	return keys, err
}

// Update берет advisory-лок на ключ до конца транзакции, поэтому работает
// и для еще не существующих строк
func (r *KVRepository) Update(ctx context.Context, key string, fn domain.UpdateFunc) error {
	return r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec("SELECT pg_advisory_xact_lock(hashtext(?))", key).Error; err != nil {
			return err
		}
		old, ok, err := get(tx, key)
		if err != nil {
			return err
		}
		next, err := fn(old, ok)
		if err != nil {
			return err
		}
		if next == nil {
			return tx.Where("kv_key = ?", key).Delete(&KVEntry{}).Error
		}
		return upsert(tx, key, next)
	})
}

func get(db *gorm.DB, key string) ([]byte, bool, error) {
	var e KVEntry
	err := db.Where("kv_key = ?", key).First(&e).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return e.Value, true, nil
}

func upsert(db *gorm.DB, key string, value []byte) error {
	e := KVEntry{Key: key, Value: value, UpdatedAt: time.Now()}
	return db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "kv_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"kv_value", "updated_at"}),
	}).Create(&e).Error
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
