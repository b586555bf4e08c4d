// Package s3fs implements storage.Store on an S3 bucket, mapping folders to
// key prefixes. A folder is materialized as a zero-byte object whose key is
// the prefix itself, so empty folders survive listing.
package s3fs

import (
	"bytes"
	"context"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/SamoylikV/vaffel-disk-bot/internal/storage"
)

// API is the subset of the S3 client the store needs.
type API interface {
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Store adapts an S3 bucket to the storage.Store interface. Node IDs are
// key prefixes ending in "/"; the root node's ID is the empty prefix.
type Store struct {
	Client API
	Bucket string
}

// New returns a store over the given bucket.
func New(client API, bucket string) *Store {
	return &Store{Client: client, Bucket: bucket}
}

// Root implements storage.Store.
func (s *Store) Root() storage.Node { return storage.Node{} }

// ListChildren implements storage.Store. Child folders surface as common
// prefixes under a "/" delimiter; plain objects become file entries.
func (s *Store) ListChildren(ctx context.Context, parent storage.Node) ([]storage.Entry, error) {
	var entries []storage.Entry
	var token *string
	for {
		out, err := s.Client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(s.Bucket),
			Prefix:            aws.String(parent.ID),
			Delimiter:         aws.String("/"),
			ContinuationToken: token,
		})
		if err != nil {
			return nil, err
		}
		for _, cp := range out.CommonPrefixes {
			prefix := aws.ToString(cp.Prefix)
			entries = append(entries, storage.Entry{
				ID:     prefix,
				Name:   folderName(parent.ID, prefix),
				Folder: true,
			})
		}
		for _, obj := range out.Contents {
			key := aws.ToString(obj.Key)
			if key == parent.ID { // the folder marker itself
				continue
			}
			entries = append(entries, storage.Entry{
				ID:   key,
				Name: strings.TrimPrefix(key, parent.ID),
			})
		}
		if out.NextContinuationToken == nil {
			return entries, nil
		}
		token = out.NextContinuationToken
	}
}

// CreateFolder implements storage.Store by writing the prefix marker object.
// S3 PUTs are last-writer-wins, so re-creating an existing folder is
// harmless and never reports storage.ErrFolderExists.
func (s *Store) CreateFolder(ctx context.Context, parent storage.Node, name string) (storage.Node, error) {
	prefix := parent.ID + name + "/"
	_, err := s.Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.Bucket),
		Key:    aws.String(prefix),
		Body:   bytes.NewReader(nil),
	})
	if err != nil {
		return storage.Node{}, err
	}
	return storage.Node{ID: prefix, Name: name}, nil
}

// UploadFile implements storage.Store.
func (s *Store) UploadFile(ctx context.Context, dest storage.Node, filename string, body io.Reader) error {
	_, err := s.Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.Bucket),
		Key:         aws.String(dest.ID + filename),
		Body:        body,
		ContentType: aws.String("image/jpeg"),
	})
	return err
}

// folderName extracts the bare folder name from a common prefix.
func folderName(parent, prefix string) string {
	return strings.TrimSuffix(strings.TrimPrefix(prefix, parent), "/")
}
