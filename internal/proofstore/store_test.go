package proofstore

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yangwenmai/oracle-avs/internal/model"
)

func TestCanonical_KeyOrderIndependent(t *testing.T) {
	a, err := Canonical(map[string]any{"result": "no", "inputString": "Condition: c"})
	require.NoError(t, err)
	b, err := Canonical(map[string]any{"inputString": "Condition: c", "result": "no"})
	require.NoError(t, err)

	assert.Equal(t, string(a), string(b))
	assert.Equal(t, `{"inputString":"Condition: c","result":"no"}`, string(a))
	assert.Equal(t, Digest(a), Digest(b))
}

func TestPublishFetch_Memory(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	proof := model.ProofArtifact{InputString: "Condition: c", Result: "yes", Timestamp: "2026-01-01T00:00:00Z"}

	cid, err := Publish(ctx, s, proof)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(cid, "sha256:"))

	again, err := Publish(ctx, s, proof)
	require.NoError(t, err)
	assert.Equal(t, cid, again, "same content must produce the same id")
	assert.Equal(t, 1, s.Len())

	var got model.ProofArtifact
	require.NoError(t, Fetch(ctx, s, cid, &got))
	assert.Equal(t, proof, got)
}

func TestFetch_NotFound(t *testing.T) {
	var out model.ProofArtifact
	err := Fetch(context.Background(), NewMemoryStore(), "sha256:00", &out)
	assert.ErrorIs(t, err, model.ErrProofNotFound)
}

func TestFetch_Malformed(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	cid, err := s.Put(ctx, []byte("not json"))
	require.NoError(t, err)

	var out model.ProofArtifact
	err = Fetch(ctx, s, cid, &out)
	assert.ErrorIs(t, err, model.ErrMalformedProof)
}

type failingStore struct{}

func (failingStore) Put(context.Context, []byte) (string, error) { return "", errors.New("boom") }
func (failingStore) Get(context.Context, string) ([]byte, error) { return nil, errors.New("boom") }

func TestPublish_BackendFailure(t *testing.T) {
	_, err := Publish(context.Background(), failingStore{}, map[string]string{"a": "b"})
	assert.ErrorIs(t, err, model.ErrStoreUnavailable)

	var out map[string]string
	err = Fetch(context.Background(), failingStore{}, "sha256:00", &out)
	assert.ErrorIs(t, err, model.ErrStoreUnavailable)
}

func TestFileStore(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	s, err := NewFileStore(dir)
	require.NoError(t, err)

	data := []byte(`{"result":"no"}`)
	cid, err := s.Put(ctx, data)
	require.NoError(t, err)
	assert.Equal(t, Digest(data), cid)

	_, err = os.Stat(filepath.Join(dir, strings.TrimPrefix(cid, "sha256:")+".blob"))
	require.NoError(t, err)

	got, err := s.Get(ctx, cid)
	require.NoError(t, err)
	assert.Equal(t, data, got)

	_, err = s.Get(ctx, Digest([]byte("other")))
	assert.ErrorIs(t, err, model.ErrProofNotFound)

	_, err = s.Get(ctx, "../../etc/passwd")
	assert.ErrorIs(t, err, model.ErrProofNotFound)
}

func TestIPFSStore(t *testing.T) {
	stored := map[string][]byte{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/api/v0/add":
			assert.Equal(t, "true", r.URL.Query().Get("pin"))
			f, _, err := r.FormFile("file")
			require.NoError(t, err)
			data, _ := io.ReadAll(f)
			stored["bafytest"] = data
			_ = json.NewEncoder(w).Encode(map[string]string{"Name": "data.json", "Hash": "bafytest", "Size": "10"})
		case r.Method == http.MethodGet && strings.HasPrefix(r.URL.Path, "/ipfs/"):
			data, ok := stored[strings.TrimPrefix(r.URL.Path, "/ipfs/")]
			if !ok {
				http.NotFound(w, r)
				return
			}
			_, _ = w.Write(data)
		default:
			http.Error(w, "unexpected", http.StatusTeapot)
		}
	}))
	defer srv.Close()

	s := NewIPFSStore(srv.URL, srv.URL+"/ipfs")
	ctx := context.Background()

	cid, err := Publish(ctx, s, model.ProofArtifact{InputString: "Condition: c", Result: "yes"})
	require.NoError(t, err)
	assert.Equal(t, "bafytest", cid)

	var got model.ProofArtifact
	require.NoError(t, Fetch(ctx, s, cid, &got))
	assert.Equal(t, "yes", got.Result)

	err = Fetch(ctx, s, "bafymissing", &got)
	assert.ErrorIs(t, err, model.ErrProofNotFound)
}

func TestIPFSStore_AddError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "node offline", http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := Publish(context.Background(), NewIPFSStore(srv.URL, srv.URL), map[string]string{"a": "b"})
	assert.ErrorIs(t, err, model.ErrStoreUnavailable)
}
