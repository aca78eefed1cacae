package archive

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/onaplatform/ona-api/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixed = time.Date(2025, 3, 9, 10, 0, 0, 0, time.UTC)

func TestObjectKey(t *testing.T) {
	key := objectKey("acme corp", "../../etc/passwd", fixed)
	parts := strings.Split(key, "/")
	require.Len(t, parts, 5)
	assert.Equal(t, []string{"acme_corp", "2025", "03", "09"}, parts[:4])
	assert.True(t, strings.HasSuffix(parts[4], "-passwd"))

	assert.True(t, strings.HasSuffix(objectKey("t", "", fixed), "-upload"))
}

func TestLocalPut(t *testing.T) {
	dir := t.TempDir()
	a, err := NewLocal(dir)
	require.NoError(t, err)
	a.now = func() time.Time { return fixed }

	key, err := a.Put(context.Background(), "acme", "edges.csv", "text/csv", []byte("a,b\n"))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(key, "acme/2025/03/09/"))

	data, err := os.ReadFile(filepath.Join(dir, filepath.FromSlash(key)))
	require.NoError(t, err)
	assert.Equal(t, "a,b\n", string(data))
}

type fakeS3 struct {
	input *s3.PutObjectInput
	body  string
	err   error
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.input = in
	b, _ := io.ReadAll(in.Body)
	f.body = string(b)
	return &s3.PutObjectOutput{}, f.err
}

func TestS3Put(t *testing.T) {
	fake := &fakeS3{}
	a := newS3WithClient(fake, "ona-uploads", "raw")
	a.now = func() time.Time { return fixed }

	key, err := a.Put(context.Background(), "acme", "edges.json", "application/json", []byte(`[]`))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(key, "raw/acme/2025/03/09/"))
	assert.Equal(t, "ona-uploads", aws.ToString(fake.input.Bucket))
	assert.Equal(t, key, aws.ToString(fake.input.Key))
	assert.Equal(t, "application/json", aws.ToString(fake.input.ContentType))
	assert.Equal(t, "acme", fake.input.Metadata["tenant-id"])
	assert.Equal(t, "[]", fake.body)

	fake.err = errors.New("AccessDenied")
	_, err = a.Put(context.Background(), "acme", "edges.json", "", nil)
	assert.ErrorContains(t, err, "AccessDenied")
}

func TestOpen(t *testing.T) {
	a, err := Open(context.Background(), config.ArchiveConfig{Backend: "none"})
	require.NoError(t, err)
	key, err := a.Put(context.Background(), "acme", "x.csv", "", []byte("x"))
	require.NoError(t, err)
	assert.Empty(t, key)

	a, err = Open(context.Background(), config.ArchiveConfig{Backend: "local", Dir: t.TempDir()})
	require.NoError(t, err)
	assert.IsType(t, &Local{}, a)

	_, err = Open(context.Background(), config.ArchiveConfig{Backend: "gcs"})
	assert.Error(t, err)
}
