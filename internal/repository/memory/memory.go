package memory

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"strings"
	"sync"

	gocache "github.com/patrickmn/go-cache"

	"attendance_bot/internal/domain"
)

// KVRepository хранилище в памяти процесса. Если задан snapshotPath,
// содержимое сохраняется в файл после каждой записи и читается при старте.
type KVRepository struct {
	mu           sync.Mutex
	cache        *gocache.Cache
	snapshotPath string
}

func NewKVRepository(snapshotPath string) (*KVRepository, error) {
	r := &KVRepository{
		cache:        gocache.New(gocache.NoExpiration, 0),
		snapshotPath: snapshotPath,
	}
	if snapshotPath != "" {
		if err := r.cache.LoadFile(snapshotPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
		// каталог снимка должен быть доступен на запись уже при старте
		if err := r.persist(); err != nil {
			return nil, fmt.Errorf("snapshot %s is not writable: %w", snapshotPath, err)
		}
	}
	return r, nil
}

func (r *KVRepository) Get(_ context.Context, key string) ([]byte, bool, error) {
	x, found := r.cache.Get(key)
	if !found {
		return nil, false, nil
	}
	b, ok := x.([]byte)
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), b...), true, nil
}

func (r *KVRepository) Set(ctx context.Context, key string, value []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	old, ok, _ := r.Get(ctx, key)
	return r.apply(key, value, old, ok)
}

func (r *KVRepository) Keys(_ context.Context, prefix string) ([]string, error) {
	keys := make([]string, 0)
	for k := range r.cache.Items() {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (r *KVRepository) Update(ctx context.Context, key string, fn domain.UpdateFunc) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	old, ok, _ := r.Get(ctx, key)
	next, err := fn(old, ok)
	if err != nil {
		return err
	}
	return r.apply(key, next, old, ok)
}

// apply записывает значение (nil удаляет ключ) и сохраняет снимок.
// Если снимок не записался, возвращает прежнее значение. Вызывается под r.mu
func (r *KVRepository) apply(key string, next, old []byte, existed bool) error {
	r.put(key, next)
	if err := r.persist(); err != nil {
		if existed {
			r.put(key, old)
		} else {
			r.cache.Delete(key)
		}
		return err
	}
	return nil
}

func (r *KVRepository) put(key string, value []byte) {
	if value == nil {
		r.cache.Delete(key)
		return
	}
	r.cache.Set(key, append([]byte(nil), value...), gocache.NoExpiration)
}

// persist вызывается под r.mu
func (r *KVRepository) persist() error {
	if r.snapshotPath == "" {
		return nil
	}
	tmp := r.snapshotPath + ".tmp"
	if err := r.cache.SaveFile(tmp); err != nil {
		return err
	}
	return os.Rename(tmp, r.snapshotPath)
}
