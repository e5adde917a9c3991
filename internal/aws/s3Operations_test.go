package aws

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	resizertypes "github.com/mahirjain10/go-resizer/internal/types"
)

type fakeObject struct {
	data        []byte
	contentType string
}

type fakeS3 struct {
	mu       sync.Mutex
	objects  map[string]fakeObject
	getErr   error
	putErr   error
	buckets  map[string]bool
	deleted  []string
	lastPuts []*s3.PutObjectInput
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: map[string]fakeObject{}, buckets: map[string]bool{}}
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	obj, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(obj.data)), ContentType: aws.String(obj.contentType)}, nil
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.putErr != nil {
		return nil, f.putErr
	}
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.objects[aws.ToString(in.Key)] = fakeObject{data: data, contentType: aws.ToString(in.ContentType)}
	f.lastPuts = append(f.lastPuts, in)
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) HeadObject(_ context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	if _, ok := f.objects[aws.ToString(in.Key)]; !ok {
		return nil, &types.NotFound{}
	}
	return &s3.HeadObjectOutput{}, nil
}

func (f *fakeS3) DeleteObject(_ context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, aws.ToString(in.Key))
	f.deleted = append(f.deleted, aws.ToString(in.Key))
	return &s3.DeleteObjectOutput{}, nil
}

func (f *fakeS3) CreateBucket(_ context.Context, in *s3.CreateBucketInput, _ ...func(*s3.Options)) (*s3.CreateBucketOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	name := aws.ToString(in.Bucket)
	if f.buckets[name] {
		return nil, &types.BucketAlreadyOwnedByYou{}
	}
	f.buckets[name] = true
	return &s3.CreateBucketOutput{}, nil
}

func TestS3ServicePutGet(t *testing.T) {
	fake := newFakeS3()
	svc := NewS3Service(fake, "bucket", DefaultPrefix, 0, nil, nil)
	ctx := context.Background()

	loc, err := svc.Put(ctx, "k1", []byte("payload"), "image/png")
	require.NoError(t, err)
	assert.Equal(t, "s3://bucket/resized-images/k1", loc)
	assert.Equal(t, "image/png", fake.objects["resized-images/k1"].contentType)
	assert.Equal(t, types.ChecksumAlgorithmSha256, fake.lastPuts[0].ChecksumAlgorithm)

	data, ok, err := svc.Get(ctx, "k1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("payload"), data)

	exists, err := svc.Exists(ctx, "k1")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestS3ServiceNotFoundIsNotAnError(t *testing.T) {
	svc := NewS3Service(newFakeS3(), "bucket", DefaultPrefix, 0, nil, nil)
	ctx := context.Background()

	data, ok, err := svc.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, data)

	exists, err := svc.Exists(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestS3ServiceReadFailureIsDistinct(t *testing.T) {
	fake := newFakeS3()
	fake.getErr = errors.New("connection reset by peer")
	svc := NewS3Service(fake, "bucket", DefaultPrefix, 0, nil, nil)

	_, ok, err := svc.Get(context.Background(), "k")
	assert.False(t, ok)
	require.Error(t, err)
	assert.ErrorIs(t, err, resizertypes.ErrStoreRead)
}

func TestS3ServicePutFailure(t *testing.T) {
	fake := newFakeS3()
	fake.putErr = errors.New("access denied")
	svc := NewS3Service(fake, "bucket", DefaultPrefix, 0, nil, nil)

	_, err := svc.Put(context.Background(), "k", []byte("x"), "image/jpeg")
	require.Error(t, err)
}

func TestS3ServiceDownloadAndDelete(t *testing.T) {
	fake := newFakeS3()
	fake.objects["raw/cat.png"] = fakeObject{data: []byte("raw")}
	svc := NewS3Service(fake, "bucket", DefaultPrefix, 0, nil, nil)
	ctx := context.Background()

	data, err := svc.Download(ctx, "raw/cat.png")
	require.NoError(t, err)
	assert.Equal(t, []byte("raw"), data)

	ok, err := svc.DeleteS3Object(ctx, "raw/cat.png")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []string{"raw/cat.png"}, fake.deleted)

	_, err = svc.DeleteS3Object(ctx, "")
	assert.Error(t, err)
}

func TestS3ServiceEnsureBucketIdempotent(t *testing.T) {
	fake := newFakeS3()
	svc := NewS3Service(fake, "bucket", DefaultPrefix, 0, nil, nil)
	require.NoError(t, svc.EnsureBucket(context.Background(), "ap-southeast-2"))
	require.NoError(t, svc.EnsureBucket(context.Background(), "ap-southeast-2"))
}

func TestS3ServicePresignUnavailableForFakes(t *testing.T) {
	svc := NewS3Service(newFakeS3(), "bucket", DefaultPrefix, 0, nil, nil)
	_, err := svc.Presign(context.Background(), "k")
	assert.Error(t, err)
}
