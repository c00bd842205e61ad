// Package objectstore implements gc.VersionFileSource, gc.ListFilesSource,
// and gc.FileDeleter against S3-compatible object storage using
// aws-sdk-go-v2, already present transitively elsewhere in this module's
// dependency graph and promoted to a direct dependency here because it is
// the natural client for the object store collaborator.
package objectstore

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/chroma-core/collectiongc/internal/gc"
)

// Store is an S3-backed blob store: version/lineage file reads plus batch
// blob deletion.
type Store struct {
	client *s3.Client
	bucket string
}

// Open configures an S3 client from the default AWS credential chain via
// aws-sdk-go-v2/config.LoadDefaultConfig.
func Open(ctx context.Context, bucket string, opts ...func(*s3.Options)) (*Store, error) {
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading aws config: %w", err)
	}
	return &Store{client: s3.NewFromConfig(cfg, opts...), bucket: bucket}, nil
}

// GetVersionFile implements gc.VersionFileSource.
func (s *Store) GetVersionFile(ctx context.Context, path string) (*gc.VersionFile, error) {
	data, err := s.getObject(ctx, path)
	if err != nil {
		return nil, err
	}
	return decodeVersionFile(data)
}

// GetLineageFile implements gc.VersionFileSource.
func (s *Store) GetLineageFile(ctx context.Context, path string) (*gc.LineageFile, error) {
	data, err := s.getObject(ctx, path)
	if err != nil {
		return nil, err
	}
	return decodeLineageFile(data)
}

// ListFiles implements gc.ListFilesSource, flattening the stored file
// references for version across all of its segments.
func (s *Store) ListFiles(ctx context.Context, vf *gc.VersionFile, version gc.Version) ([]string, error) {
	vi, ok := vf.VersionAt(version)
	if !ok {
		return nil, fmt.Errorf("version %d not present in version file for %s", version, vf.CollectionID)
	}
	return vi.FileReferences, nil
}

// DeleteFiles implements gc.FileDeleter, batch-deleting up to 1000 keys per
// S3 DeleteObjects call (the API's own limit), and returns the keys that
// were actually acknowledged as deleted.
func (s *Store) DeleteFiles(ctx context.Context, paths []string) ([]string, error) {
	if len(paths) == 0 {
		return nil, nil
	}
	var deleted []string
	for _, batch := range chunk(paths, 1000) {
		objs := make([]s3types.ObjectIdentifier, len(batch))
		for i, p := range batch {
			objs[i] = s3types.ObjectIdentifier{Key: aws.String(p)}
		}
		out, err := s.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(s.bucket),
			Delete: &s3types.Delete{Objects: objs},
		})
		if err != nil {
			return nil, fmt.Errorf("deleting objects: %w", err)
		}
		for _, d := range out.Deleted {
			if d.Key != nil {
				deleted = append(deleted, *d.Key)
			}
		}
		if len(out.Errors) > 0 {
			return deleted, fmt.Errorf("%d objects failed to delete, first error: %s", len(out.Errors), aws.ToString(out.Errors[0].Message))
		}
	}
	return deleted, nil
}

func (s *Store) getObject(ctx context.Context, key string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("getting object %s: %w", key, err)
	}
	defer out.Body.Close()
	buf := new(bytes.Buffer)
	if _, err := io.Copy(buf, out.Body); err != nil {
		return nil, fmt.Errorf("reading object %s: %w", key, err)
	}
	return buf.Bytes(), nil
}

func chunk(in []string, size int) [][]string {
	var out [][]string
	for size < len(in) {
		in, out = in[size:], append(out, in[:size:size])
	}
	return append(out, in)
}
