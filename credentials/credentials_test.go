package credentials_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hextrackr/advisory-sync/credentials"
	"github.com/hextrackr/advisory-sync/db"
	"github.com/hextrackr/advisory-sync/types"
)

func TestProvider_Credentials(t *testing.T) {
	ctx := context.Background()
	d, err := db.Open(ctx, db.DriverSQLite, filepath.Join(t.TempDir(), "sync.db"))
	require.NoError(t, err)
	defer d.Close()

	require.NoError(t, d.SetPreference(ctx, "alice", credentials.PreferenceKey, "client-a:s3cr:et"))
	require.NoError(t, d.SetPreference(ctx, "bob", credentials.PreferenceKey, "client-only"))

	tests := []struct {
		name     string
		provider *credentials.Provider
		user     string
		want     types.Credentials
		wantErr  bool
	}{
		{
			name:     "stored key, secret may contain colons",
			provider: credentials.NewProvider(d),
			user:     "alice",
			want:     types.Credentials{ClientID: "client-a", ClientSecret: "s3cr:et"},
		},
		{
			name:     "malformed key",
			provider: credentials.NewProvider(d, credentials.WithFallback(types.Credentials{ClientID: "x", ClientSecret: "y"})),
			user:     "bob",
			wantErr:  true,
		},
		{
			name:     "fallback",
			provider: credentials.NewProvider(d, credentials.WithFallback(types.Credentials{ClientID: "x", ClientSecret: "y"})),
			user:     "carol",
			want:     types.Credentials{ClientID: "x", ClientSecret: "y"},
		},
		{
			name:     "nothing configured",
			provider: credentials.NewProvider(d),
			user:     "carol",
			wantErr:  true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.provider.Credentials(ctx, tt.user)
			if tt.wantErr {
				assert.ErrorIs(t, err, types.ErrAuthentication)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
