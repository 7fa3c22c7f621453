package credential

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type fakeExchanger struct {
	calls      int
	gotRefresh string
	pair       *TokenPair
	err        error
}

func (f *fakeExchanger) ExchangeRefreshToken(_ context.Context, refreshToken string) (*TokenPair, error) {
	f.calls++
	f.gotRefresh = refreshToken
	if f.err != nil {
		return nil, f.err
	}
	return f.pair, nil
}

func newTestRefresher(t *testing.T, now time.Time, accessExp int64, exchanger *fakeExchanger) (*Refresher, *Store) {
	t.Helper()

	store, access, refresh := newTestStore(t)
	writeFile(t, access, mintToken(t, now.Unix()-3600, accessExp))
	writeFile(t, refresh, "refresh-1")
	_, err := store.Load(KindAccess)
	require.NoError(t, err)
	_, err = store.Load(KindRefresh)
	require.NoError(t, err)

	r := NewRefresher(store, exchanger, zaptest.NewLogger(t))
	r.now = func() time.Time { return now }
	return r, store
}

func TestEnsureFresh_Threshold(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)

	tests := []struct {
		name        string
		expiresIn   int64
		wantRefresh bool
	}{
		{name: "just under two hours", expiresIn: 7199, wantRefresh: true},
		{name: "just over two hours", expiresIn: 7201, wantRefresh: false},
		{name: "already expired", expiresIn: -10, wantRefresh: true},
		{name: "eight hours left", expiresIn: 8 * 3600, wantRefresh: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			newAccess := mintToken(t, now.Unix(), now.Unix()+8*3600)
			exchanger := &fakeExchanger{pair: &TokenPair{AccessToken: newAccess}}
			r, store := newTestRefresher(t, now, now.Unix()+tt.expiresIn, exchanger)

			require.NoError(t, r.EnsureFresh(context.Background()))

			if tt.wantRefresh {
				assert.Equal(t, 1, exchanger.calls)
				assert.Equal(t, "refresh-1", exchanger.gotRefresh)
				assert.Equal(t, newAccess, store.AccessToken())
				assert.Equal(t, newAccess, readFile(t, store.paths[KindAccess]))
			} else {
				assert.Equal(t, 0, exchanger.calls)
			}
		})
	}
}

func TestEnsureFresh_StoresRotatedRefreshToken(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	exchanger := &fakeExchanger{pair: &TokenPair{
		AccessToken:  mintToken(t, now.Unix(), now.Unix()+8*3600),
		RefreshToken: "refresh-2",
	}}
	r, store := newTestRefresher(t, now, now.Unix()+60, exchanger)

	require.NoError(t, r.EnsureFresh(context.Background()))
	assert.Equal(t, "refresh-2", store.RefreshToken())
	assert.Equal(t, "refresh-2", readFile(t, store.paths[KindRefresh]))
}

func TestEnsureFresh_ExchangeFailureIsFatal(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	exchanger := &fakeExchanger{err: errors.New("status=401")}
	r, store := newTestRefresher(t, now, now.Unix()+60, exchanger)
	before := store.AccessToken()

	err := r.EnsureFresh(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status=401")
	assert.Equal(t, before, store.AccessToken())
}

func TestEnsureFresh_UndecodableAccessTokenRefreshes(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	exchanger := &fakeExchanger{pair: &TokenPair{AccessToken: mintToken(t, now.Unix(), now.Unix()+8*3600)}}
	r, store := newTestRefresher(t, now, now.Unix()+8*3600, exchanger)
	require.NoError(t, store.Set(KindAccess, "opaque"))

	require.NoError(t, r.EnsureFresh(context.Background()))
	assert.Equal(t, 1, exchanger.calls)
}
