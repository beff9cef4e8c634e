package storage

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	derrors "github.com/wehubfusion/Daedalus/pkg/errors"
	"github.com/wehubfusion/Daedalus/pkg/nest"
	"github.com/wehubfusion/Daedalus/pkg/rows"
	"github.com/wehubfusion/Daedalus/pkg/stream"
)

type upload struct {
	data        []byte
	contentType string
	metadata    map[string]string
}

type memoryBlobs struct {
	blobs     map[string]upload
	uploadErr error
}

func newMemoryBlobs() *memoryBlobs { return &memoryBlobs{blobs: map[string]upload{}} }

func (m *memoryBlobs) Upload(_ context.Context, blobPath string, data []byte, contentType string, metadata map[string]string) (string, error) {
	if m.uploadErr != nil {
		return "", m.uploadErr
	}
	m.blobs[blobPath] = upload{append([]byte(nil), data...), contentType, metadata}
	return "https://acct.blob.core.windows.net/results/" + blobPath, nil
}

func (m *memoryBlobs) Download(_ context.Context, reference string) ([]byte, error) {
	p, err := blobPathOf(reference, "https://acct.blob.core.windows.net", "results")
	if err != nil {
		return nil, err
	}
	u, ok := m.blobs[p]
	if !ok {
		return nil, errors.New("blob not found")
	}
	return u.data, nil
}

func TestNewAzureBlobClient(t *testing.T) {
	tests := []struct {
		name             string
		connectionString string
		containerName    string
		errContains      string
	}{
		{
			name:          "empty connection string",
			containerName: "c",
			errContains:   "connection string is required",
		},
		{
			name:             "empty container name",
			connectionString: "AccountName=test;AccountKey=dGVzdA==",
			errContains:      "container name is required",
		},
		{
			name:             "missing key",
			connectionString: "AccountName=test",
			containerName:    "c",
			errContains:      "account name and key",
		},
		{
			name:             "shared key",
			connectionString: "DefaultEndpointsProtocol=https;AccountName=test;AccountKey=dGVzdA==;EndpointSuffix=core.windows.net",
			containerName:    "c",
		},
		{
			name:             "development storage",
			connectionString: "UseDevelopmentStorage=true",
			containerName:    "c",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, err := NewAzureBlobClient(tt.connectionString, tt.containerName, nil)
			if tt.errContains != "" {
				require.Error(t, err)
				assert.Nil(t, client)
				assert.Contains(t, err.Error(), tt.errContains)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, client)
		})
	}
}

func TestParseConnectionString(t *testing.T) {
	account, key, endpoint, err := parseConnectionString("DefaultEndpointsProtocol=http;AccountName=a;AccountKey=k==;EndpointSuffix=example.net")
	require.NoError(t, err)
	assert.Equal(t, "a", account)
	assert.Equal(t, "k==", key)
	assert.Equal(t, "http://a.blob.example.net", endpoint)

	_, _, endpoint, err = parseConnectionString("AccountName=a;AccountKey=k;BlobEndpoint=http://127.0.0.1:10000/a")
	require.NoError(t, err)
	assert.Equal(t, "http://127.0.0.1:10000/a", endpoint)

	account, _, endpoint, err = parseConnectionString("UseDevelopmentStorage=true")
	require.NoError(t, err)
	assert.Equal(t, devAccountName, account)
	assert.Equal(t, devBlobURL, endpoint)
}

func TestBlobPathOf(t *testing.T) {
	const svc = "https://acct.blob.core.windows.net"
	tests := []struct {
		ref  string
		want string
	}{
		{"results/s1/objects.jsonl", "s1/objects.jsonl"},
		{"/results/s1/objects.jsonl", "s1/objects.jsonl"},
		{svc + "/results/s1/objects.jsonl", "s1/objects.jsonl"},
		{svc + "/results/s1/objects.jsonl?sv=2023&sig=x", "s1/objects.jsonl"},
		{"https://other.example/results/a%20b.jsonl", "a b.jsonl"},
		{"s1/objects.jsonl", "s1/objects.jsonl"},
	}
	for _, tt := range tests {
		t.Run(tt.ref, func(t *testing.T) {
			got, err := blobPathOf(tt.ref, svc, "results")
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := blobPathOf("  ", svc, "results")
	assert.Error(t, err)
	_, err = blobPathOf(svc+"/results/", svc, "results")
	assert.Error(t, err)
}

func TestResultWriter_CompleteUploads(t *testing.T) {
	blobs := newMemoryBlobs()
	w, err := NewResultWriter(blobs, ResultConfig{Session: "s1", Metadata: map[string]string{"source": "authors"}}, nil)
	require.NoError(t, err)

	assert.True(t, w.Offer(map[string]any{"id": 1}))
	assert.True(t, w.Offer(map[string]any{"id": 2}))
	require.NoError(t, w.Complete(context.Background()))

	up, ok := blobs.blobs["results/s1/objects.jsonl"]
	require.True(t, ok)
	assert.Equal(t, "{\"id\":1}\n{\"id\":2}\n", string(up.data))
	assert.Equal(t, contentTypeJSONLines, up.contentType)
	assert.Equal(t, map[string]string{"source": "authors", "session": "s1", "objects": "2"}, up.metadata)
	assert.True(t, strings.HasSuffix(w.URL(), "results/s1/objects.jsonl"))
	assert.Equal(t, int64(2), w.Count())
}

func TestResultWriter_UploadError(t *testing.T) {
	blobs := newMemoryBlobs()
	blobs.uploadErr = errors.New("403")
	w, err := NewResultWriter(blobs, ResultConfig{}, nil)
	require.NoError(t, err)

	err = w.Complete(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "403")
	assert.Empty(t, w.URL())
}

func TestResultWriter_Unencodable(t *testing.T) {
	w, err := NewResultWriter(newMemoryBlobs(), ResultConfig{}, nil)
	require.NoError(t, err)

	assert.True(t, w.Offer(map[string]any{"f": func() {}}))
	assert.ErrorIs(t, w.Complete(context.Background()), derrors.ErrPublishFailed)
	assert.Equal(t, int64(0), w.Count())
}

func TestResultWriter_RoundTrip(t *testing.T) {
	blobs := newMemoryBlobs()
	w, err := NewResultWriter(blobs, ResultConfig{Session: "rt"}, nil)
	require.NoError(t, err)

	parser := nest.Must(nest.Positional(0, nest.Fields{"id": 0, "name": 1}))
	out := make(chan any, 8)
	_, err = stream.Pipe(context.Background(), rows.NewSliceSource(
		rows.Values{1, "a"}, rows.Values{1, "a"}, rows.Values{2, "b"},
	), parser, out)
	require.NoError(t, err)

	a := stream.NewAdapter(nest.Must(nest.Named("id", "id", "name")), w)
	for obj := range out {
		require.NoError(t, a.Write(rows.Record(obj.(map[string]any))))
	}
	require.NoError(t, a.End(context.Background()))
	require.True(t, a.Done())

	src, err := OpenResults(context.Background(), blobs, w.URL())
	require.NoError(t, err)
	got, err := rows.Collect(context.Background(), src)
	require.NoError(t, err)
	require.Len(t, got, 2)
	name, _ := got[1].Field("name")
	assert.Equal(t, "b", name)
}

func TestNewResultWriter_NilClient(t *testing.T) {
	_, err := NewResultWriter(nil, ResultConfig{}, nil)
	assert.Error(t, err)
}
