package testing

import (
	"context"
	"testing"

	"github.com/marmos91/dittofs-exports/pkg/store"
)

// StoreTestSuite is a conformance test suite for store.Store implementations.
// It tests the interface contract, not implementation details, making it
// reusable across the memory and badger stores.
//
// Usage:
//
//	func TestMyStore(t *testing.T) {
//	    suite := &storetesting.StoreTestSuite{
//	        NewStore: func(t *testing.T) store.Store {
//	            return mystore.New()
//	        },
//	    }
//	    suite.Run(t)
//	}
type StoreTestSuite struct {
	// NewStore creates a fresh, empty store for each test. The root directory
	// must be owned by root with mode 0755.
	NewStore func(t *testing.T) store.Store
}

// Run executes all tests in the suite.
func (suite *StoreTestSuite) Run(t *testing.T) {
	t.Run("Directory", suite.RunDirectoryTests)
	t.Run("File", suite.RunFileTests)
	t.Run("Rename", suite.RunRenameTests)
	t.Run("IO", suite.RunIOTests)
}

func testContext() context.Context {
	return context.Background()
}
