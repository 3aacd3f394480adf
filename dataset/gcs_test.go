package dataset

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"speech-commands/speech"

	"github.com/stretchr/testify/require"
)

// fakeGCS serves the subset of the Cloud Storage JSON API used by GCSStore.
type fakeGCS struct {
	mu       sync.Mutex
	buckets  map[string]string
	objects  map[string][]byte
	lists    int
	inserts  int
	projects []string
}

func newFakeGCS(t *testing.T) (*fakeGCS, *httptest.Server) {
	t.Helper()
	f := &fakeGCS{buckets: map[string]string{}, objects: map[string][]byte{}}
	srv := httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(srv.Close)
	return f, srv
}

func (f *fakeGCS) serve(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	const base = "/storage/v1/b"
	path := r.URL.Path
	switch {
	case path == base && r.Method == http.MethodGet:
		f.lists++
		f.projects = append(f.projects, r.URL.Query().Get("project"))
		prefix := r.URL.Query().Get("prefix")
		items := []map[string]string{}
		for name := range f.buckets {
			if strings.HasPrefix(name, prefix) {
				items = append(items, map[string]string{"name": name})
			}
		}
		writeGCSJSON(w, http.StatusOK, map[string]any{"kind": "storage#buckets", "items": items})

	case path == base && r.Method == http.MethodPost:
		f.inserts++
		var bucket struct {
			Name     string `json:"name"`
			Location string `json:"location"`
		}
		if err := json.NewDecoder(r.Body).Decode(&bucket); err != nil {
			writeGCSJSON(w, http.StatusBadRequest, gcsError(http.StatusBadRequest, err.Error()))
			return
		}
		f.buckets[bucket.Name] = bucket.Location
		writeGCSJSON(w, http.StatusOK, map[string]string{"name": bucket.Name, "location": bucket.Location})

	case strings.HasPrefix(path, base+"/") && r.Method == http.MethodGet:
		rest := strings.TrimPrefix(path, base+"/")
		bucket, object, ok := strings.Cut(rest, "/o/")
		if !ok {
			writeGCSJSON(w, http.StatusNotFound, gcsError(http.StatusNotFound, "not found"))
			return
		}
		data, found := f.objects[bucket+"|"+object]
		if !found {
			writeGCSJSON(w, http.StatusNotFound, gcsError(http.StatusNotFound, "No such object"))
			return
		}
		w.Header().Set("Content-Type", "application/octet-stream")
		_, _ = w.Write(data)

	default:
		writeGCSJSON(w, http.StatusNotFound, gcsError(http.StatusNotFound, "unsupported"))
	}
}

func gcsError(code int, msg string) map[string]any {
	return map[string]any{"error": map[string]any{"code": code, "message": msg}}
}

func writeGCSJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func newTestGCS(t *testing.T, srv *httptest.Server) *GCSStore {
	t.Helper()
	svc, err := NewGCSService(context.Background(), GCSConfig{Endpoint: srv.URL + "/storage/v1/"})
	require.NoError(t, err)
	return NewGCS(svc, "speech", "proj-1", "")
}

func TestGCSEnsureBucketListsThenCreates(t *testing.T) {
	fake, srv := newFakeGCS(t)
	store := newTestGCS(t, srv)
	ctx := context.Background()

	require.NoError(t, store.EnsureBucket(ctx))
	require.Equal(t, 1, fake.lists)
	require.Equal(t, 1, fake.inserts)
	require.Equal(t, "US", fake.buckets["speech"])
	require.Equal(t, []string{"proj-1"}, fake.projects)

	// Existing bucket: listed, not created again.
	require.NoError(t, store.EnsureBucket(ctx))
	require.Equal(t, 2, fake.lists)
	require.Equal(t, 1, fake.inserts)
}

func TestGCSRead(t *testing.T) {
	fake, srv := newFakeGCS(t)
	store := newTestGCS(t, srv)
	fake.objects["speech|data/yes/a.wav"] = []byte("A")

	rc, err := store.Read(context.Background(), "data/yes/a.wav")
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.Equal(t, "A", string(data))

	_, err = store.Read(context.Background(), "data/no/x.wav")
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestDownloadFromGCS(t *testing.T) {
	root := filepath.ToSlash(filepath.Join(t.TempDir(), "data"))
	catalog := seedCatalog(t, root)

	fake, srv := newFakeGCS(t)
	fake.objects["speech|"+root+"/yes/a.wav"] = []byte("A")
	fake.objects["speech|"+root+"/yes/b.wav"] = []byte("B")
	fake.objects["speech|"+root+"/no/c.wav"] = []byte("C")

	d := &Downloader{Catalog: catalog, Store: newTestGCS(t, srv)}
	res, err := d.Download(context.Background(), root, "clips", false)
	require.NoError(t, err)
	require.Equal(t, Result{Types: 2, Downloaded: 3}, res)

	data, err := os.ReadFile(filepath.Join(root, "no", "c.wav"))
	require.NoError(t, err)
	require.Equal(t, "C", string(data))

	delete(fake.objects, "speech|"+root+"/no/c.wav")
	_, err = d.Download(context.Background(), root, "clips", true)
	require.ErrorIs(t, err, speech.ErrTransport)
	require.ErrorIs(t, err, os.ErrNotExist)
}
