package favorites

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ppiankov/boorupan/internal/source"
)

type remoteCall struct {
	op  string
	key string
	// savedBefore is whether the persister already held the change.
	savedBefore bool
}

type fakeRemote struct {
	mu      sync.Mutex
	calls   []remoteCall
	persist *Memory
	err     error
}

func (f *fakeRemote) UpsertFavorite(ctx context.Context, e Entry) error {
	saved, _ := f.persist.LoadFavorites(ctx)
	f.record("upsert", e.Key, containsKey(saved, e.Key))
	return f.err
}

func (f *fakeRemote) DeleteFavorite(ctx context.Context, key string) error {
	saved, _ := f.persist.LoadFavorites(ctx)
	f.record("delete", key, !containsKey(saved, key))
	return f.err
}

func (f *fakeRemote) record(op, key string, saved bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, remoteCall{op: op, key: key, savedBefore: saved})
}

func containsKey(entries []Entry, key string) bool {
	for _, e := range entries {
		if e.Key == key {
			return true
		}
	}
	return false
}

func testPost(id string) source.Post {
	return source.Post{
		ID:      id,
		Site:    source.SiteRef{Name: "Danbooru", Type: source.Danbooru, BaseURL: "https://danbooru.test"},
		FileURL: "https://cdn.test/" + id + ".jpg",
		Tags:    []string{"cat"},
	}
}

func newTestStore(t *testing.T) (*Store, *Memory, *fakeRemote) {
	t.Helper()
	mem := &Memory{}
	clock := time.UnixMilli(1_700_000_000_000)
	s, err := NewStore(mem, WithClock(func() time.Time {
		clock = clock.Add(time.Millisecond)
		return clock
	}))
	require.NoError(t, err)
	remote := &fakeRemote{persist: mem}
	s.SetRemote(remote)
	return s, mem, remote
}

func TestToggle_Symmetry(t *testing.T) {
	s, mem, remote := newTestStore(t)
	ctx := context.Background()
	p := testPost("1")

	on, err := s.Toggle(ctx, p)
	require.NoError(t, err)
	assert.True(t, on)
	assert.True(t, s.Has(p.Key()))
	s.Wait()

	on, err = s.Toggle(ctx, p)
	require.NoError(t, err)
	assert.False(t, on)
	assert.False(t, s.Has(p.Key()))
	s.Wait()

	assert.Equal(t, 0, s.Len())
	saved, _ := mem.LoadFavorites(ctx)
	assert.Empty(t, saved)

	require.Len(t, remote.calls, 2)
	assert.Equal(t, remoteCall{op: "upsert", key: p.Key(), savedBefore: true}, remote.calls[0])
	assert.Equal(t, remoteCall{op: "delete", key: p.Key(), savedBefore: true}, remote.calls[1])
}

func TestToggle_RemoteFailureKeepsLocal(t *testing.T) {
	s, mem, remote := newTestStore(t)
	remote.err = errors.New("server down")
	ctx := context.Background()

	_, err := s.Toggle(ctx, testPost("1"))
	require.NoError(t, err)
	s.Wait()

	assert.True(t, s.Has(testPost("1").Key()))
	saved, _ := mem.LoadFavorites(ctx)
	assert.Len(t, saved, 1)
}

func TestToggle_InvalidPost(t *testing.T) {
	s, _, remote := newTestStore(t)
	_, err := s.Toggle(context.Background(), source.Post{ID: "1"})
	assert.ErrorIs(t, err, ErrInvalidPost)
	s.Wait()
	assert.Empty(t, remote.calls)
}

func TestToggle_NoRemote(t *testing.T) {
	s, _, remote := newTestStore(t)
	s.SetRemote(nil)
	_, err := s.Toggle(context.Background(), testPost("1"))
	require.NoError(t, err)
	s.Wait()
	assert.Empty(t, remote.calls)
}

func TestReplace_DiscardsInvalidAndIsIdempotent(t *testing.T) {
	s, _, remote := newTestStore(t)
	ctx := context.Background()
	_, err := s.Toggle(ctx, testPost("local-only"))
	require.NoError(t, err)
	s.Wait()

	incoming := []Entry{
		{Key: testPost("1").Key(), AddedAt: 10, Post: testPost("1")},
		{Key: "", AddedAt: 11, Post: testPost("2")},
		{Key: "https://danbooru.test#3", AddedAt: 12},
	}
	n, err := s.Replace(ctx, incoming)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	first := s.List()
	_, err = s.Replace(ctx, incoming)
	require.NoError(t, err)
	assert.Equal(t, first, s.List())
	assert.False(t, s.Has(testPost("local-only").Key()), "replace is not a union")
	assert.Len(t, remote.calls, 1, "replace never calls the remote")
}

func TestRemove_LocalOnly(t *testing.T) {
	s, _, remote := newTestStore(t)
	ctx := context.Background()
	_, err := s.Toggle(ctx, testPost("1"))
	require.NoError(t, err)
	s.Wait()

	removed, err := s.Remove(ctx, testPost("1").Key())
	require.NoError(t, err)
	assert.True(t, removed)

	removed, err = s.Remove(ctx, testPost("1").Key())
	require.NoError(t, err)
	assert.False(t, removed)
	assert.Len(t, remote.calls, 1)
}

func TestMerge_KeepsExisting(t *testing.T) {
	s, _, _ := newTestStore(t)
	ctx := context.Background()
	_, err := s.Toggle(ctx, testPost("1"))
	require.NoError(t, err)
	s.Wait()
	before := s.List()[0].AddedAt

	n, err := s.Merge(ctx, []Entry{
		{Key: testPost("1").Key(), AddedAt: 1, Post: testPost("1")},
		{Key: testPost("2").Key(), Post: testPost("2")},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	for _, e := range s.List() {
		if e.Key == testPost("1").Key() {
			assert.Equal(t, before, e.AddedAt)
		} else {
			assert.NotZero(t, e.AddedAt)
		}
	}
}

func TestLoad_RestoresPersisted(t *testing.T) {
	mem := &Memory{}
	require.NoError(t, mem.SaveFavorites(context.Background(), []Entry{{Key: "k", AddedAt: 5, Post: testPost("9")}}))
	s, err := NewStore(mem)
	require.NoError(t, err)
	require.NoError(t, s.Load(context.Background()))
	assert.True(t, s.Has("k"))
}

func TestSnapshot_Clamps(t *testing.T) {
	p := testPost("1")
	p.FileURL = "https://cdn.test/" + strings.Repeat("a", 5000)
	p.Tags = make([]string, 400)
	for i := range p.Tags {
		p.Tags[i] = strings.Repeat("t", 200)
	}
	snap, err := Snapshot(p)
	require.NoError(t, err)
	assert.Len(t, snap.FileURL, maxURLLen)
	assert.Len(t, snap.Tags, maxTags)
	assert.Len(t, snap.Tags[0], maxTagLen)
	assert.Len(t, p.Tags, 400, "input untouched")
}

func TestList_NewestFirst(t *testing.T) {
	s, _, _ := newTestStore(t)
	ctx := context.Background()
	for _, id := range []string{"1", "2", "3"} {
		_, err := s.Toggle(ctx, testPost(id))
		require.NoError(t, err)
	}
	s.Wait()
	list := s.List()
	require.Len(t, list, 3)
	assert.Equal(t, testPost("3").Key(), list[0].Key)
	assert.Equal(t, testPost("1").Key(), list[2].Key)
}
