// Package kvtest общий набор проверок для реализаций domain.KV.
package kvtest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"attendance_bot/internal/domain"
)

// Run прогоняет проверки. Ключи создаются с префиксом prefix, чтобы
// не пересекаться с данными в общих базах.
func Run(t *testing.T, kv domain.KV, prefix string) {
	t.Helper()
	ctx := context.Background()

	t.Run("missing key", func(t *testing.T) {
		_, ok, err := kv.Get(ctx, prefix+"missing")
		if err != nil || ok {
			t.Fatalf("Get(missing) = ok %v, err %v", ok, err)
		}
	})

	t.Run("set and get", func(t *testing.T) {
		if err := kv.Set(ctx, prefix+"a", []byte("1")); err != nil {
			t.Fatal(err)
		}
		if err := kv.Set(ctx, prefix+"a", []byte("2")); err != nil {
			t.Fatal(err)
		}
		v, ok, err := kv.Get(ctx, prefix+"a")
		if err != nil || !ok || string(v) != "2" {
			t.Fatalf("Get = %q, %v, %v", v, ok, err)
		}
	})

	t.Run("keys by prefix", func(t *testing.T) {
		_ = kv.Set(ctx, prefix+"q:e1:queue", []byte("[]"))
		_ = kv.Set(ctx, prefix+"q:e2:queue", []byte("[]"))
		_ = kv.Set(ctx, prefix+"other", []byte("x"))
		keys, err := kv.Keys(ctx, prefix+"q:")
		if err != nil {
			t.Fatal(err)
		}
		if len(keys) != 2 {
			t.Fatalf("Keys = %v, want 2 keys", keys)
		}
	})

	t.Run("update delete", func(t *testing.T) {
		_ = kv.Set(ctx, prefix+"del", []byte("x"))
		err := kv.Update(ctx, prefix+"del", func(old []byte, ok bool) ([]byte, error) {
			if !ok || string(old) != "x" {
				return nil, fmt.Errorf("unexpected old value %q", old)
			}
			return nil, nil
		})
		if err != nil {
			t.Fatal(err)
		}
		if _, ok, _ := kv.Get(ctx, prefix+"del"); ok {
			t.Fatal("key must be deleted")
		}
	})

	t.Run("update error keeps value", func(t *testing.T) {
		_ = kv.Set(ctx, prefix+"keep", []byte("x"))
		boom := errors.New("boom")
		err := kv.Update(ctx, prefix+"keep", func([]byte, bool) ([]byte, error) { return nil, boom })
		if !errors.Is(err, boom) {
			t.Fatalf("Update err = %v, want boom", err)
		}
		if v, ok, _ := kv.Get(ctx, prefix+"keep"); !ok || string(v) != "x" {
			t.Fatal("value must survive a failed update")
		}
	})

	t.Run("concurrent updates are atomic", func(t *testing.T) {
		key := prefix + "counter"
		const n = 20
		var wg sync.WaitGroup
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				err := kv.Update(ctx, key, func(old []byte, ok bool) ([]byte, error) {
					return append(old, '+'), nil
				})
				if err != nil {
					t.Error(err)
				}
			}()
		}
		wg.Wait()
		v, _, _ := kv.Get(ctx, key)
		if len(v) != n {
			t.Fatalf("got %d increments, want %d", len(v), n)
		}
	})
}
