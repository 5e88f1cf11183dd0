package store_test

import (
	"testing"

	"github.com/starford/gpahub/internal/store"
	"github.com/starford/gpahub/internal/store/storetest"
)

func TestMemory(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store {
		m := store.NewMemory("memory")
		t.Cleanup(func() { _ = m.Close() })
		return m
	})
}
