//go:build !wasm
// +build !wasm

package gae

import (
	"context"
	"os"
	"testing"

	"cloud.google.com/go/datastore"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	lms "github.com/lmsapp/lmsauth"
	"github.com/lmsapp/lmsauth/stores/storetest"
)

// newClient connects to the Datastore emulator. Tests are skipped unless
// DATASTORE_EMULATOR_HOST is set.
func newClient(t *testing.T) *datastore.Client {
	t.Helper()
	if os.Getenv("DATASTORE_EMULATOR_HOST") == "" {
		t.Skip("DATASTORE_EMULATOR_HOST not set")
	}
	client, err := datastore.NewClient(context.Background(), "lmsauth-test")
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	return client
}

// namespace isolates each subtest
func namespace() string {
	return "t" + uuid.NewString()[:8]
}

func TestUserStore(t *testing.T) {
	storetest.RunUserStore(t, func(t *testing.T) lms.UserStore {
		return NewUserStore(newClient(t), namespace())
	})
}

func TestRefreshTokenStore(t *testing.T) {
	storetest.RunRefreshTokenStore(t, func(t *testing.T) lms.RefreshTokenStore {
		return NewRefreshTokenStore(newClient(t), namespace()).WithContext(context.Background())
	})
}

func TestResetCodeStore(t *testing.T) {
	storetest.RunResetCodeStore(t, func(t *testing.T) lms.ResetCodeStore {
		return NewResetCodeStore(newClient(t), namespace())
	})
}
