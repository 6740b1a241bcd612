package memory

import (
	"testing"

	"github.com/viant/deferq/service/store"
	"github.com/viant/deferq/service/store/storetest"
)

func TestStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store { return New() })
}
