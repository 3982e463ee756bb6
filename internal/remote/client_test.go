package remote

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ppiankov/boorupan/internal/favorites"
	"github.com/ppiankov/boorupan/internal/source"
	"github.com/ppiankov/boorupan/internal/transport"
)

type recorded struct {
	method string
	path   string
	auth   string
	body   string
}

func newServer(t *testing.T, handler http.HandlerFunc) (*httptest.Server, *[]recorded) {
	t.Helper()
	var mu sync.Mutex
	var calls []recorded
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		mu.Lock()
		calls = append(calls, recorded{method: r.Method, path: r.URL.EscapedPath(), auth: r.Header.Get("Authorization"), body: string(data)})
		mu.Unlock()
		handler(w, r)
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func newClient(t *testing.T, base string) *Client {
	t.Helper()
	c, err := New(base+"/", transport.New(transport.WithBearer(func() string { return "tok" })))
	require.NoError(t, err)
	return c
}

func TestListFavorites_DropsIncomplete(t *testing.T) {
	srv, calls := newServer(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `{"items":[
			{"key":"https://e621.net#1","added_at":10,"post":{"id":"1","site":{"name":"e621","type":"e621","baseUrl":"https://e621.net"},"file_url":"https://static1.e621.net/1.png"}},
			{"key":"","added_at":11,"post":{"id":"2"}},
			{"key":"https://e621.net#3","added_at":12}
		]}`)
	})
	c := newClient(t, srv.URL)

	got, err := c.ListFavorites(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "https://e621.net#1", got[0].Key)
	assert.Equal(t, int64(10), got[0].AddedAt)
	assert.Equal(t, "1", got[0].Post.ID)

	require.Len(t, *calls, 1)
	assert.Equal(t, "/api/favourites", (*calls)[0].path)
	assert.Equal(t, "Bearer tok", (*calls)[0].auth)
}

func TestUpsertAndDelete_EscapeKey(t *testing.T) {
	srv, calls := newServer(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	c := newClient(t, srv.URL)
	e := favorites.Entry{
		Key:     "https://yande.re#42",
		AddedAt: 99,
		Post:    source.Post{ID: "42", FileURL: "https://files.yande.re/42.jpg"},
	}

	require.NoError(t, c.UpsertFavorite(context.Background(), e))
	require.NoError(t, c.DeleteFavorite(context.Background(), e.Key))

	require.Len(t, *calls, 2)
	put := (*calls)[0]
	assert.Equal(t, http.MethodPut, put.method)
	assert.Equal(t, "/api/favourites/https:%2F%2Fyande.re%2342", put.path)

	var body map[string]json.RawMessage
	require.NoError(t, json.Unmarshal([]byte(put.body), &body))
	assert.JSONEq(t, "99", string(body["added_at"]))
	assert.Contains(t, string(body["post"]), `"id":"42"`)

	assert.Equal(t, http.MethodDelete, (*calls)[1].method)
	assert.Equal(t, put.path, (*calls)[1].path)
}

func TestBulkUpsert(t *testing.T) {
	srv, calls := newServer(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `{"ok":true}`)
	})
	c := newClient(t, srv.URL)
	entries := []favorites.Entry{
		{Key: "a#1", AddedAt: 1, Post: source.Post{ID: "1"}},
		{Key: "a#2", AddedAt: 2, Post: source.Post{ID: "2"}},
	}
	require.NoError(t, c.BulkUpsert(context.Background(), entries))

	require.Len(t, *calls, 1)
	assert.Equal(t, "/api/favourites/bulk_upsert", (*calls)[0].path)
	var body itemsBody
	require.NoError(t, json.Unmarshal([]byte((*calls)[0].body), &body))
	require.Len(t, body.Items, 2)
	assert.Equal(t, "2", body.Items[1].Post.ID)
}

func TestSites_RoundTrip(t *testing.T) {
	srv, calls := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPut {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		_, _ = io.WriteString(w, `{"sites":[{"name":"Danbooru","type":"danbooru","baseUrl":"https://danbooru.donmai.us","order_index":0}]}`)
	})
	c := newClient(t, srv.URL)

	list, err := c.ListSites(context.Background())
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, source.Danbooru, list[0].Type)
	assert.Equal(t, "https://danbooru.donmai.us", list[0].BaseURL)

	require.NoError(t, c.PutSites(context.Background(), nil))
	require.Len(t, *calls, 2)
	assert.JSONEq(t, `{"sites":[]}`, (*calls)[1].body)
}

func TestStatusErrorPropagates(t *testing.T) {
	srv, _ := newServer(t, func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "nope", http.StatusUnauthorized)
	})
	c := newClient(t, srv.URL)

	_, err := c.ListFavorites(context.Background())
	require.Error(t, err)
	assert.True(t, transport.IsStatus(err, http.StatusUnauthorized))
}

func TestNew_Validates(t *testing.T) {
	_, err := New("  ", transport.New())
	assert.Error(t, err)
	_, err = New("http://x", nil)
	assert.Error(t, err)
}
