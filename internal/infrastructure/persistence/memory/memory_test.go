package memory

import (
	"testing"

	"github.com/garyjia/printshop-workflow/internal/application/port"
	"github.com/garyjia/printshop-workflow/internal/infrastructure/persistence/storetest"
)

func TestTaskStore(t *testing.T) {
	storetest.RunTaskStoreTests(t, func(t *testing.T) port.TaskStore {
		return NewTaskStore()
	})
}

func TestAuditStore(t *testing.T) {
	storetest.RunAuditStoreTests(t, func(t *testing.T) port.AuditStore {
		return NewAuditStore()
	})
}

func TestEntityRepository(t *testing.T) {
	storetest.RunEntityRepositoryTests(t, func(t *testing.T) port.EntityRepository {
		return NewEntityRepository()
	})
}
