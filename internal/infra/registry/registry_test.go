package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vigilis/sentinel/pkg/domain/client"
	"github.com/vigilis/sentinel/pkg/logger"
)

const registryDoc = `{
  "clients": [
    {"id": 1, "name": "Shop Bot", "url": "https://shop.example.org/chat", "status": "SECURE", "plan": "pro"},
    {"id": "c-2", "name": "Help Bot", "url": "https://help.example.org/chat", "telegram_id": 5551234}
  ],
  "licenses": [{"key": "LIC-1", "active": true}]
}`

// =============================================================================
// JSONBin
// =============================================================================

func TestJSONBinStore_Load(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/v3/b/bin-1/latest", r.URL.Path)
		assert.Equal(t, "master", r.Header.Get("X-Master-Key"))
		_, _ = w.Write([]byte(`{"record": ` + registryDoc + `, "metadata": {"id": "bin-1"}}`))
	}))
	defer server.Close()

	store, err := NewJSONBinStore(JSONBinConfig{BaseURL: server.URL + "/v3/", BinID: "bin-1", MasterKey: "master"}, logger.NewNop())
	require.NoError(t, err)

	reg, err := store.Load(context.Background())
	require.NoError(t, err)
	require.Len(t, reg.Clients, 2)
	assert.Equal(t, "1", reg.Clients[0].ID.String())
	assert.Equal(t, client.StatusSecure, reg.Clients[0].CurrentStatus())
	assert.Equal(t, client.FlexString("5551234"), reg.Clients[1].TelegramID)
	assert.JSONEq(t, `[{"key": "LIC-1", "active": true}]`, string(reg.Licenses))
}

func TestJSONBinStore_LoadNestedEnvelope(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"record": {"record": ` + registryDoc + `}}`))
	}))
	defer server.Close()

	store, err := NewJSONBinStore(JSONBinConfig{BaseURL: server.URL, BinID: "b", MasterKey: "k"}, logger.NewNop())
	require.NoError(t, err)

	reg, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Len(t, reg.Clients, 2)
}

func TestJSONBinStore_LoadFailures(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{name: "unauthorized", status: http.StatusUnauthorized, body: `{"message":"Invalid X-Master-Key"}`},
		{name: "server error", status: http.StatusInternalServerError, body: ``},
		{name: "garbage", status: http.StatusOK, body: `<html>`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			store, err := NewJSONBinStore(JSONBinConfig{BaseURL: server.URL, BinID: "b", MasterKey: "k"}, logger.NewNop())
			require.NoError(t, err)

			_, err = store.Load(context.Background())
			assert.ErrorIs(t, err, client.ErrRegistryUnavailable)
		})
	}
}

func TestJSONBinStore_Replace(t *testing.T) {
	var body []byte
	status := http.StatusOK
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "/b/bin-1", r.URL.Path)
		assert.Equal(t, "master", r.Header.Get("X-Master-Key"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		body, _ = io.ReadAll(r.Body)
		w.WriteHeader(status)
	}))
	defer server.Close()

	store, err := NewJSONBinStore(JSONBinConfig{BaseURL: server.URL, BinID: "bin-1", MasterKey: "master"}, logger.NewNop())
	require.NoError(t, err)

	var reg client.Registry
	require.NoError(t, json.Unmarshal([]byte(registryDoc), &reg))
	reg.Clients[0].Status = client.StatusCompromised

	require.NoError(t, store.Replace(context.Background(), &reg))

	var written map[string]any
	require.NoError(t, json.Unmarshal(body, &written))
	clients := written["clients"].([]any)
	first := clients[0].(map[string]any)
	assert.Equal(t, "COMPROMISED", first["status"])
	assert.Equal(t, "pro", first["plan"])
	assert.Equal(t, float64(1), first["id"])
	assert.NotNil(t, written["licenses"])

	status = http.StatusForbidden
	err = store.Replace(context.Background(), &reg)
	assert.ErrorIs(t, err, client.ErrRegistryPersist)
}

func TestNewJSONBinStore_RequiresCredentials(t *testing.T) {
	_, err := NewJSONBinStore(JSONBinConfig{BinID: "b"}, logger.NewNop())
	assert.Error(t, err)
}

// =============================================================================
// File
// =============================================================================

func TestFileStore_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "registry.json")
	require.NoError(t, os.WriteFile(path, []byte(registryDoc), 0o600))

	store, err := NewFileStore(path, logger.NewNop())
	require.NoError(t, err)

	reg, err := store.Load(context.Background())
	require.NoError(t, err)
	reg.Clients[1].Status = client.StatusOffline
	reg.Clients[1].Detail = "Neural Analysis: Unreachable"

	require.NoError(t, store.Replace(context.Background(), reg))

	reloaded, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, reg.IDs(), reloaded.IDs())
	assert.Equal(t, client.StatusOffline, reloaded.Clients[1].Status)
	assert.JSONEq(t, string(reg.Licenses), string(reloaded.Licenses))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"plan": "pro"`)

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp files must not be left behind")
}

func TestFileStore_Missing(t *testing.T) {
	store, err := NewFileStore(filepath.Join(t.TempDir(), "missing.json"), logger.NewNop())
	require.NoError(t, err)

	_, err = store.Load(context.Background())
	assert.ErrorIs(t, err, client.ErrRegistryUnavailable)
}

func TestFileStore_ReplaceIntoMissingDir(t *testing.T) {
	store, err := NewFileStore(filepath.Join(t.TempDir(), "nope", "registry.json"), logger.NewNop())
	require.NoError(t, err)

	err = store.Replace(context.Background(), &client.Registry{})
	assert.ErrorIs(t, err, client.ErrRegistryPersist)
}

// =============================================================================
// S3
// =============================================================================

type fakeObjects struct {
	objects map[string][]byte
	getErr  error
	putErr  error
}

func newFakeObjects() *fakeObjects {
	return &fakeObjects{objects: make(map[string][]byte)}
}

func (f *fakeObjects) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	data, ok := f.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)]
	if !ok {
		return nil, errors.New("NoSuchKey")
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (f *fakeObjects) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.putErr != nil {
		return nil, f.putErr
	}
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)] = data
	return &s3.PutObjectOutput{}, nil
}

func TestS3Store_RoundTrip(t *testing.T) {
	objects := newFakeObjects()
	objects.objects["vigilis/registry.json"] = []byte(registryDoc)

	store, err := NewS3Store(objects, "vigilis", "registry.json", logger.NewNop())
	require.NoError(t, err)

	reg, err := store.Load(context.Background())
	require.NoError(t, err)
	require.Len(t, reg.Clients, 2)

	reg.Clients[0].Detail = "Neural Analysis: Verified"
	require.NoError(t, store.Replace(context.Background(), reg))
	assert.Contains(t, string(objects.objects["vigilis/registry.json"]), "Neural Analysis: Verified")
}

func TestS3Store_Failures(t *testing.T) {
	objects := newFakeObjects()
	store, err := NewS3Store(objects, "vigilis", "registry.json", logger.NewNop())
	require.NoError(t, err)

	_, err = store.Load(context.Background())
	assert.ErrorIs(t, err, client.ErrRegistryUnavailable)

	objects.putErr = errors.New("AccessDenied")
	err = store.Replace(context.Background(), &client.Registry{})
	assert.ErrorIs(t, err, client.ErrRegistryPersist)

	_, err = NewS3Store(objects, "", "k", logger.NewNop())
	assert.Error(t, err)
}

// =============================================================================
// Public view publishers
// =============================================================================

func TestFilePublisher(t *testing.T) {
	path := filepath.Join(t.TempDir(), "status_public.json")
	view := client.PublicView{
		{ID: client.NewNumericID(7421), Name: "NEURAL-AGENT-7421", Status: client.StatusSecure, Detail: "Neural Analysis: Verified", LastCheck: "2025-01-01T00:00:00Z"},
	}

	require.NoError(t, NewFilePublisher(path).Publish(context.Background(), view))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.JSONEq(t, `[{"id":7421,"name":"NEURAL-AGENT-7421","status":"SECURE","detail":"Neural Analysis: Verified","last_check":"2025-01-01T00:00:00Z"}]`, string(raw))

	require.NoError(t, NewFilePublisher(path).Publish(context.Background(), nil))
	raw, err = os.ReadFile(path)
	require.NoError(t, err)
	assert.JSONEq(t, `[]`, string(raw))
}

func TestFileViewReader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "status_public.json")
	reader := NewFileViewReader(path)

	_, err := reader.View(context.Background())
	assert.ErrorIs(t, err, ErrViewNotPublished)

	view := client.PublicView{{ID: client.NewID("a"), Name: "A", Status: client.StatusOffline}}
	require.NoError(t, NewFilePublisher(path).Publish(context.Background(), view))

	got, err := reader.View(context.Background())
	require.NoError(t, err)
	assert.Equal(t, view, got)

	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))
	_, err = reader.View(context.Background())
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrViewNotPublished)
}

func TestMultiPublisher_JoinsErrors(t *testing.T) {
	objects := newFakeObjects()
	objects.putErr = errors.New("AccessDenied")
	path := filepath.Join(t.TempDir(), "status.json")

	multi := MultiPublisher{
		NewS3Publisher(objects, "vigilis", "public/status.json"),
		NewFilePublisher(path),
	}

	err := multi.Publish(context.Background(), client.PublicView{})
	assert.ErrorIs(t, err, client.ErrPublishFailed)

	// The file writer still ran after the S3 failure.
	_, statErr := os.Stat(path)
	assert.NoError(t, statErr)
}

// =============================================================================
// Postgres
// =============================================================================

func TestNewPostgresStore_TableName(t *testing.T) {
	tests := []struct {
		table   string
		wantErr bool
	}{
		{table: "vigilis_registry"},
		{table: "_r2"},
		{table: "registry; DROP TABLE users", wantErr: true},
		{table: "1registry", wantErr: true},
		{table: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.table, func(t *testing.T) {
			store, err := NewPostgresStore(nil, tt.table, "", logger.NewNop())
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, `"`+tt.table+`"`, store.table)
			assert.Equal(t, "default", store.documentID)
		})
	}
}

func TestPostgresStore_Integration(t *testing.T) {
	dsn := os.Getenv("VIGILIS_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("VIGILIS_TEST_DATABASE_URL not set")
	}
	ctx := context.Background()

	db, err := OpenPostgres(ctx, dsn)
	require.NoError(t, err)
	defer db.Close()

	store, err := NewPostgresStore(db, "vigilis_registry_test", "it", logger.NewNop())
	require.NoError(t, err)
	require.NoError(t, store.EnsureSchema(ctx))

	var reg client.Registry
	require.NoError(t, json.Unmarshal([]byte(registryDoc), &reg))
	require.NoError(t, store.Replace(ctx, &reg))

	loaded, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, reg.IDs(), loaded.IDs())
}
