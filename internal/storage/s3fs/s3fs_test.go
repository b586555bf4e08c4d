package s3fs

import (
	"context"
	"io"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SamoylikV/vaffel-disk-bot/internal/storage"
)

// fakeS3 implements the API subset over an in-memory key space.
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newFakeS3() *fakeS3 { return &fakeS3{objects: map[string][]byte{}} }

func (f *fakeS3) ListObjectsV2(_ context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	prefix := aws.ToString(in.Prefix)
	delim := aws.ToString(in.Delimiter)
	out := &s3.ListObjectsV2Output{}
	seen := map[string]bool{}

	keys := make([]string, 0, len(f.objects))
	for k := range f.objects {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		if !strings.HasPrefix(k, prefix) {
			continue
		}
		rest := strings.TrimPrefix(k, prefix)
		if delim != "" {
			if i := strings.Index(rest, delim); i >= 0 {
				cp := prefix + rest[:i+1]
				if !seen[cp] {
					seen[cp] = true
					out.CommonPrefixes = append(out.CommonPrefixes, types.CommonPrefix{Prefix: aws.String(cp)})
				}
				continue
			}
		}
		out.Contents = append(out.Contents, types.Object{Key: aws.String(k)})
	}
	return out, nil
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	var body []byte
	if in.Body != nil {
		b, err := io.ReadAll(in.Body)
		if err != nil {
			return nil, err
		}
		body = b
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[aws.ToString(in.Key)] = body
	return &s3.PutObjectOutput{}, nil
}

func TestRootIsEmptyPrefix(t *testing.T) {
	s := New(newFakeS3(), "bucket")
	assert.Equal(t, storage.Node{}, s.Root())
}

func TestCreateFolderWritesMarker(t *testing.T) {
	api := newFakeS3()
	s := New(api, "bucket")

	node, err := s.CreateFolder(context.Background(), s.Root(), "Вологда")
	require.NoError(t, err)
	assert.Equal(t, "Вологда/", node.ID)
	assert.Contains(t, api.objects, "Вологда/")
}

func TestListChildrenSeparatesFoldersAndFiles(t *testing.T) {
	api := newFakeS3()
	api.objects["Вологда/"] = nil
	api.objects["Вологда/01.05.2024/"] = nil
	api.objects["Вологда/readme.txt"] = []byte("x")

	s := New(api, "bucket")
	entries, err := s.ListChildren(context.Background(), storage.Node{ID: "Вологда/", Name: "Вологда"})
	require.NoError(t, err)

	var folders, files []string
	for _, e := range entries {
		if e.Folder {
			folders = append(folders, e.Name)
		} else {
			files = append(files, e.Name)
		}
	}
	assert.Equal(t, []string{"01.05.2024"}, folders)
	assert.Equal(t, []string{"readme.txt"}, files)
}

func TestUploadFileWritesUnderPrefix(t *testing.T) {
	api := newFakeS3()
	s := New(api, "bucket")

	dest := storage.Node{ID: "Вологда/Вологда/01.05.2024/"}
	err := s.UploadFile(context.Background(), dest, "Acme_42_1.jpg", strings.NewReader("jpeg"))
	require.NoError(t, err)
	assert.Equal(t, []byte("jpeg"), api.objects["Вологда/Вологда/01.05.2024/Acme_42_1.jpg"])
}

func TestResolveAgainstS3(t *testing.T) {
	api := newFakeS3()
	s := New(api, "bucket")
	r := storage.NewResolver(s)
	ctx := context.Background()
	segments := []string{"Вологда", "Вологда", "01.05.2024"}

	first, err := r.Resolve(ctx, s.Root(), segments)
	require.NoError(t, err)
	assert.Equal(t, "Вологда/Вологда/01.05.2024/", first.ID)

	second, err := r.Resolve(ctx, s.Root(), segments)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Len(t, api.objects, 3, "re-resolution must not write more markers")
}
