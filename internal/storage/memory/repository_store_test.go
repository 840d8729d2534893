package memory

import (
	"testing"

	"github.com/JakeFAU/prodscout/internal/discovery"
	"github.com/JakeFAU/prodscout/internal/storage/storetest"
)

func TestRepositoryStore(t *testing.T) {
	t.Parallel()

	storetest.Run(t, func(*testing.T) discovery.RepositoryStore {
		return NewRepositoryStore()
	})
}
