package domain

import "context"

// UpdateFunc получает текущее значение (ok=false, если ключа нет) и возвращает новое.
// Возврат nil означает удаление ключа.
type UpdateFunc func(old []byte, ok bool) ([]byte, error)

// KV постоянное хранилище ключ-значение на устройстве.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error

	// Ключи с заданным префиксом
	Keys(ctx context.Context, prefix string) ([]string, error)

	// Атомарное чтение-изменение-запись одного ключа
	Update(ctx context.Context, key string, fn UpdateFunc) error
}
