package s3blob

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockClient is a minimal in-memory Client, the same shape as the
// teacher's storage.MockS3Client but narrowed to the operations this
// package's Backend actually drives.
type mockClient struct {
	objects map[string][]byte
}

func newMockClient() *mockClient { return &mockClient{objects: make(map[string][]byte)} }

func (m *mockClient) HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error) {
	return &s3.HeadBucketOutput{}, nil
}

func (m *mockClient) PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(params.Body)
	if err != nil {
		return nil, err
	}
	m.objects[*params.Key] = data
	return &s3.PutObjectOutput{}, nil
}

func (m *mockClient) GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	data, ok := m.objects[*params.Key]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (m *mockClient) HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	if _, ok := m.objects[*params.Key]; !ok {
		return nil, &types.NotFound{}
	}
	return &s3.HeadObjectOutput{}, nil
}

func (m *mockClient) ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	prefix := aws.ToString(params.Prefix)
	var contents []types.Object
	for k := range m.objects {
		if len(k) >= len(prefix) && k[:len(prefix)] == prefix {
			key := k
			contents = append(contents, types.Object{Key: &key})
		}
	}
	return &s3.ListObjectsV2Output{Contents: contents}, nil
}

func (m *mockClient) CopyObject(ctx context.Context, params *s3.CopyObjectInput, optFns ...func(*s3.Options)) (*s3.CopyObjectOutput, error) {
	src := *params.CopySource
	slash := len("bucket/")
	data, ok := m.objects[src[slash:]]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	m.objects[*params.Key] = data
	return &s3.CopyObjectOutput{}, nil
}

func (m *mockClient) DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	delete(m.objects, *params.Key)
	return &s3.DeleteObjectOutput{}, nil
}

func (m *mockClient) DeleteObjects(ctx context.Context, params *s3.DeleteObjectsInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error) {
	for _, obj := range params.Delete.Objects {
		delete(m.objects, *obj.Key)
	}
	return &s3.DeleteObjectsOutput{}, nil
}

func TestBackend_UploadThenRead(t *testing.T) {
	b := NewWithClient(newMockClient(), "bucket")
	ctx := context.Background()

	require.NoError(t, b.Upload(ctx, "orders/001.json", []byte("hello")))

	data, ok, err := b.Read(ctx, "orders/001.json")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "hello", string(data))
}

func TestBackend_Read_MissingObjectReportsNotFound(t *testing.T) {
	b := NewWithClient(newMockClient(), "bucket")
	_, ok, err := b.Read(context.Background(), "missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestBackend_Move_CopiesThenDeletesSource(t *testing.T) {
	b := NewWithClient(newMockClient(), "bucket")
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

func TestBackend_DeleteDirectory_RemovesEveryObjectUnderPrefix(t *testing.T) {
	b := NewWithClient(newMockClient(), "bucket")
	ctx := context.Background()
	require.NoError(t, b.Upload(ctx, "orders/001.json", []byte("a")))
	require.NoError(t, b.Upload(ctx, "orders/002.json", []byte("b")))
	require.NoError(t, b.Upload(ctx, "other/001.json", []byte("c")))

	require.NoError(t, b.DeleteDirectory(ctx, "orders/", true))

	keys, err := b.List(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"other/001.json"}, keys)
}

func TestBackend_Exists(t *testing.T) {
	b := NewWithClient(newMockClient(), "bucket")
	ctx := context.Background()
	require.NoError(t, b.Upload(ctx, "orders/001.json", []byte("a")))

	ok, err := b.Exists(ctx, "orders/001.json")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = b.Exists(ctx, "orders/002.json")
	require.NoError(t, err)
	assert.False(t, ok)
}
