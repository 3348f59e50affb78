package repository

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/lakhoreJanvi/product-importer-project/models"
)

const (
	totalChunksMetaKey = "total-chunks"
	s3DeleteBatchSize  = 1000
)

var uploadIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,128}$`)

// ValidUploadID reports whether id can be used as a storage key segment.
func ValidUploadID(id string) bool {
	return uploadIDPattern.MatchString(id)
}

// S3API is the subset of the S3 client the chunk store needs.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	DeleteObjects(ctx context.Context, params *s3.DeleteObjectsInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error)
}

// S3ChunkStore keeps each chunk as an object under <prefix><uploadID>/.
type S3ChunkStore struct {
	client S3API
	bucket string
	prefix string
}

func NewS3ChunkStore(client S3API, bucket, prefix string) *S3ChunkStore {
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return &S3ChunkStore{client: client, bucket: bucket, prefix: prefix}
}

func (s *S3ChunkStore) uploadPrefix(uploadID string) string {
	return s.prefix + uploadID + "/"
}

func (s *S3ChunkStore) key(uploadID string, index int) string {
	return fmt.Sprintf("%s%08d", s.uploadPrefix(uploadID), index)
}

func (s *S3ChunkStore) Put(ctx context.Context, uploadID string, index, total int, payload []byte) error {
	if !ValidUploadID(uploadID) {
		return fmt.Errorf("invalid upload id %q", uploadID)
	}
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.key(uploadID, index)),
		Body:        bytes.NewReader(payload),
		ContentType: aws.String("application/octet-stream"),
		Metadata:    map[string]string{totalChunksMetaKey: strconv.Itoa(total)},
	})
	if err != nil {
		return fmt.Errorf("failed to put chunk %d of upload %s: %w", index, uploadID, err)
	}
	return nil
}

func (s *S3ChunkStore) listKeys(ctx context.Context, prefix string, fn func(types.Object)) error {
	p := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return err
		}
		for _, obj := range page.Contents {
			fn(obj)
		}
	}
	return nil
}

func (s *S3ChunkStore) Manifest(ctx context.Context, uploadID string) (models.ChunkManifest, error) {
	m := models.ChunkManifest{UploadID: uploadID}
	if !ValidUploadID(uploadID) {
		return m, nil
	}

	prefix := s.uploadPrefix(uploadID)
	err := s.listKeys(ctx, prefix, func(obj types.Object) {
		idx, err := strconv.Atoi(strings.TrimPrefix(aws.ToString(obj.Key), prefix))
		if err == nil {
			m.Indices = append(m.Indices, idx)
		}
	})
	if err != nil {
		return m, fmt.Errorf("failed to list chunks of upload %s: %w", uploadID, err)
	}
	if len(m.Indices) == 0 {
		return m, nil
	}

	m.Indices = m.Sorted()
	head, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(uploadID, m.Indices[0])),
	})
	if err != nil {
		return m, fmt.Errorf("failed to read chunk metadata of upload %s: %w", uploadID, err)
	}
	if v, ok := head.Metadata[totalChunksMetaKey]; ok {
		if total, err := strconv.Atoi(v); err == nil {
			m.DeclaredTotal = total
		}
	}
	return m, nil
}

func (s *S3ChunkStore) Open(ctx context.Context, uploadID string, index int) (io.ReadCloser, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(uploadID, index)),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, fmt.Errorf("chunk %d of upload %s: %w", index, uploadID, models.ErrIncompleteUpload)
		}
		return nil, fmt.Errorf("failed to get chunk %d of upload %s: %w", index, uploadID, err)
	}
	return out.Body, nil
}

func (s *S3ChunkStore) DeleteUpload(ctx context.Context, uploadID string) error {
	var keys []string
	if err := s.listKeys(ctx, s.uploadPrefix(uploadID), func(obj types.Object) {
		keys = append(keys, aws.ToString(obj.Key))
	}); err != nil {
		return fmt.Errorf("failed to list chunks of upload %s: %w", uploadID, err)
	}
	return s.deleteKeys(ctx, keys)
}

func (s *S3ChunkStore) deleteKeys(ctx context.Context, keys []string) error {
	for start := 0; start < len(keys); start += s3DeleteBatchSize {
		end := min(start+s3DeleteBatchSize, len(keys))
		ids := make([]types.ObjectIdentifier, 0, end-start)
		for _, k := range keys[start:end] {
			ids = append(ids, types.ObjectIdentifier{Key: aws.String(k)})
		}
		out, err := s.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(s.bucket),
			Delete: &types.Delete{Objects: ids, Quiet: aws.Bool(true)},
		})
		if err != nil {
			return fmt.Errorf("failed to delete chunks: %w", err)
		}
		if len(out.Errors) > 0 {
			return fmt.Errorf("failed to delete %d chunks: %s", len(out.Errors), aws.ToString(out.Errors[0].Message))
		}
	}
	return nil
}

type s3Upload struct {
	keys   []string
	newest time.Time
}

func (s *S3ChunkStore) PurgeStale(ctx context.Context, before time.Time) (int64, error) {
	uploads := make(map[string]*s3Upload)
	err := s.listKeys(ctx, s.prefix, func(obj types.Object) {
		rest := strings.TrimPrefix(aws.ToString(obj.Key), s.prefix)
		id, _, ok := strings.Cut(rest, "/")
		if !ok {
			return
		}
		u := uploads[id]
		if u == nil {
			u = &s3Upload{}
			uploads[id] = u
		}
		u.keys = append(u.keys, aws.ToString(obj.Key))
		if obj.LastModified != nil && obj.LastModified.After(u.newest) {
			u.newest = *obj.LastModified
		}
	})
	if err != nil {
		return 0, fmt.Errorf("failed to list chunks: %w", err)
	}

	var stale []string
	for _, u := range uploads {
		if u.newest.Before(before) {
			stale = append(stale, u.keys...)
		}
	}
	if err := s.deleteKeys(ctx, stale); err != nil {
		return 0, err
	}
	return int64(len(stale)), nil
}
