package adlsblob

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeCredential returns a fixed token, standing in for an azidentity
// credential the way fakeDriver stands in for a real SQL driver
// elsewhere in this module.
type fakeCredential struct{}

func (fakeCredential) Token(ctx context.Context) (string, error) { return "test-token", nil }

// fakeFS is a minimal in-memory ADLS Gen2 data-plane server, just enough
// of the REST surface (create/append/flush, GET, HEAD, DELETE, rename via
// x-ms-rename-source, List Paths) for Backend's methods to exercise.
type fakeFS struct {
	objects map[string][]byte
}

func newFakeFS() *fakeFS { return &fakeFS{objects: make(map[string][]byte)} }

func (f *fakeFS) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		path := r.URL.Path

		switch {
		case q.Get("resource") == "filesystem":
			f.listPaths(w, q.Get("directory"))
			return
		}

		if rename := r.Header.Get("x-ms-rename-source"); rename != "" {
			src := rename
			for len(src) > 0 && src[0] == '/' {
				src = src[1:]
			}
			// src is "<filesystem>/<path>"; strip the filesystem segment.
			for i, c := range src {
				if c == '/' {
					src = src[i+1:]
					break
				}
			}
			data, ok := f.objects[src]
			if !ok {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			f.objects[path[1:]] = data
			delete(f.objects, src)
			w.WriteHeader(http.StatusCreated)
			return
		}

		switch r.Method {
		case http.MethodPut:
			if q.Get("resource") == "file" {
				f.objects[path[1:]] = []byte{}
			}
			w.WriteHeader(http.StatusCreated)
		case http.MethodPatch:
			switch q.Get("action") {
			case "append":
				data, _ := io.ReadAll(r.Body)
				f.objects[path[1:]] = append(f.objects[path[1:]], data...)
				w.WriteHeader(http.StatusAccepted)
			case "flush":
				w.WriteHeader(http.StatusOK)
			default:
				w.WriteHeader(http.StatusBadRequest)
			}
		case http.MethodGet:
			data, ok := f.objects[path[1:]]
			if !ok {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			w.Write(data)
		case http.MethodHead:
			if _, ok := f.objects[path[1:]]; !ok {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			w.WriteHeader(http.StatusOK)
		case http.MethodDelete:
			if q.Get("recursive") != "" {
				prefix := path[1:]
				for k := range f.objects {
					if len(k) >= len(prefix) && k[:len(prefix)] == prefix {
						delete(f.objects, k)
					}
				}
				w.WriteHeader(http.StatusOK)
				return
			}
			delete(f.objects, path[1:])
			w.WriteHeader(http.StatusOK)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	}
}

func (f *fakeFS) listPaths(w http.ResponseWriter, prefix string) {
	type entry struct {
		Name        string `json:"name"`
		IsDirectory string `json:"isDirectory"`
	}
	var out struct {
		Paths []entry `json:"paths"`
	}
	for k := range f.objects {
		if prefix == "" || (len(k) >= len(prefix) && k[:len(prefix)] == prefix) {
			out.Paths = append(out.Paths, entry{Name: k, IsDirectory: "false"})
		}
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(out)
}

// newTestBackend wires a Backend at a real *Backend whose base URL points
// at an httptest server backed by fs. Since Backend.base is built from
// Config.Account in production, tests construct it directly rather than
// going through New (which would require a live Azure credential).
func newTestBackend(t *testing.T, fs *fakeFS) *Backend {
	srv := httptest.NewServer(fs.handler())
	t.Cleanup(srv.Close)
	b := NewWithCredential(Config{Filesystem: "fs"}, fakeCredential{})
	b.base = srv.URL
	return b
}

func TestBackend_UploadThenRead(t *testing.T) {
	b := newTestBackend(t, newFakeFS())
	ctx := context.Background()

	require.NoError(t, b.Upload(ctx, "orders/001.json", []byte("hello")))

	data, ok, err := b.Read(ctx, "orders/001.json")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "hello", string(data))
}

func TestBackend_Read_MissingFileReportsNotFound(t *testing.T) {
	b := newTestBackend(t, newFakeFS())
	_, ok, err := b.Read(context.Background(), "missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestBackend_Move_RenamesViaHeader(t *testing.T) {
	b := newTestBackend(t, newFakeFS())
	ctx := context.Background()
	require.NoError(t, b.Upload(ctx, "staging/001.json", []byte("data")))

	require.NoError(t, b.Move(ctx, "staging/001.json", "final/001.json"))

	_, ok, err := b.Read(ctx, "staging/001.json")
	require.NoError(t, err)
	assert.False(t, ok)

	data, ok, err := b.Read(ctx, "final/001.json")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "data", string(data))
}

func TestBackend_Exists(t *testing.T) {
	b := newTestBackend(t, newFakeFS())
	ctx := context.Background()
	require.NoError(t, b.Upload(ctx, "orders/001.json", []byte("a")))

	ok, err := b.Exists(ctx, "orders/001.json")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = b.Exists(ctx, "orders/002.json")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestBackend_DeleteDirectory_RemovesEveryObjectUnderPrefix(t *testing.T) {
	b := newTestBackend(t, newFakeFS())
	ctx := context.Background()
	require.NoError(t, b.Upload(ctx, "orders/001.json", []byte("a")))
	require.NoError(t, b.Upload(ctx, "orders/002.json", []byte("b")))
	require.NoError(t, b.Upload(ctx, "other/001.json", []byte("c")))

	require.NoError(t, b.DeleteDirectory(ctx, "orders/", true))

	paths, err := b.List(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"other/001.json"}, paths)
}

func TestResourcePath_OneLakeLayoutRendersWorkspaceShape(t *testing.T) {
	b := &Backend{cfg: Config{OneLakeLayout: true, Workspace: "ws", Lakehouse: "lh"}}
	assert.Equal(t, "ws.Workspace/lh.Lakehouse/Files/orders/001.json", b.resourcePath("orders/001.json"))
}

func TestResolveCredential_RejectsUnknownMode(t *testing.T) {
	_, err := resolveCredential(Config{Mode: "oauth2"})
	assert.Error(t, err)
}
