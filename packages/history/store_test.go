package history

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abdul-hamid-achik/hitwire/packages/transport"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "history.db"), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpen_Prefixes(t *testing.T) {
	dir := t.TempDir()
	for _, dsn := range []string{
		"sqlite://" + filepath.Join(dir, "a.db"),
		"sqlite:" + filepath.Join(dir, "b.db"),
	} {
		s, err := Open(dsn, zerolog.Nop())
		require.NoError(t, err, dsn)
		require.NoError(t, s.Close())
	}
}

func TestOpen_EmptyPath(t *testing.T) {
	_, err := Open("sqlite:", zerolog.Nop())
	assert.Error(t, err)
}

func TestStore_SaveAndGet(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	e := &Entry{
		RequestID:    "req-1",
		Method:       "GET",
		URL:          "http://example.test/",
		Status:       200,
		StatusText:   "OK",
		LoadingTime:  12.5,
		RequestSize:  40,
		ResponseSize: 5,
		Redirects:    1,
	}

	require.NoError(t, s.Save(ctx, e))
	require.NotEmpty(t, e.ID)
	assert.False(t, e.CreatedAt.IsZero())

	got, err := s.Get(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, e.RequestID, got.RequestID)
	assert.Equal(t, 200, got.Status)
	assert.Equal(t, "OK", got.StatusText)
	assert.InDelta(t, 12.5, got.LoadingTime, 0.001)
	assert.Equal(t, 1, got.Redirects)
	assert.False(t, got.Failed())
}

func TestStore_GetMissing(t *testing.T) {
	s := openStore(t)

	_, err := s.Get(context.Background(), "nope")

	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestStore_ListNewestFirst(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, url := range []string{"/a", "/b", "/c"} {
		require.NoError(t, s.Save(ctx, &Entry{
			RequestID: url,
			Method:    "GET",
			URL:       url,
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}

	all, err := s.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "/c", all[0].URL)
	assert.Equal(t, "/a", all[2].URL)

	two, err := s.List(ctx, 2)
	require.NoError(t, err)
	require.Len(t, two, 2)
	assert.Equal(t, "/b", two[1].URL)
}

func TestStore_Listener(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	l := s.Listener("POST", "http://example.test/items")
	l.Load("id-1", &transport.Response{
		Status:      201,
		StatusText:  "Created",
		LoadingTime: 3,
		Size:        transport.Size{Request: 90, Response: 7},
		Redirects:   []*transport.Redirect{{URL: "http://example.test/next"}},
	}, &transport.Snapshot{Method: "GET", URL: "http://example.test/next"})
	l.LoadEnd("id-1")

	l = s.Listener("GET", "http://example.test/down")
	l.Error("id-2", transport.NewTimeoutError(), nil, &transport.PartialResponse{Status: 200, Payload: []byte("par")})
	l.LoadEnd("id-2")

	entries, err := s.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	byID := map[string]*Entry{}
	for _, e := range entries {
		byID[e.RequestID] = e
	}
	loaded := byID["id-1"]
	require.NotNil(t, loaded)
	assert.Equal(t, "GET", loaded.Method)
	assert.Equal(t, "http://example.test/next", loaded.URL)
	assert.Equal(t, 201, loaded.Status)
	assert.Equal(t, 90, loaded.RequestSize)
	assert.Equal(t, 7, loaded.ResponseSize)
	assert.Equal(t, 1, loaded.Redirects)

	failed := byID["id-2"]
	require.NotNil(t, failed)
	assert.True(t, failed.Failed())
	assert.Equal(t, "http://example.test/down", failed.URL)
	assert.Equal(t, 200, failed.Status)
	assert.Equal(t, 3, failed.ResponseSize)
	assert.Contains(t, failed.Error, "timeout")
}
