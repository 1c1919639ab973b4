package cachestore

import (
	"testing"

	"github.com/Overland-East-Bay/trip-planner-offline/internal/adapters/contracttest"
	cachestoreport "github.com/Overland-East-Bay/trip-planner-offline/internal/ports/out/cachestore"
)

func TestContract_MemoryStorage(t *testing.T) {
	contracttest.RunStorage(t, func(t *testing.T) (cachestoreport.Storage, func()) {
		t.Helper()
		return NewStorage(), nil
	})
}
