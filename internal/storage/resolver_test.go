package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeStore is an in-memory Store counting every remote call.
type fakeStore struct {
	mu       sync.Mutex
	children map[string][]Entry // parent ID → children
	creates  int
	lists    int

	failOn string // folder name whose creation fails
}

func newFakeStore() *fakeStore {
	return &fakeStore{children: map[string][]Entry{}}
}

func (f *fakeStore) Root() Node { return Node{ID: "root"} }

func (f *fakeStore) ListChildren(_ context.Context, parent Node) ([]Entry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lists++
	return append([]Entry(nil), f.children[parent.ID]...), nil
}

func (f *fakeStore) CreateFolder(_ context.Context, parent Node, name string) (Node, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.creates++
	if name == f.failOn {
		return Node{}, errors.New("remote store unavailable")
	}
	id := parent.ID + "/" + name
	f.children[parent.ID] = append(f.children[parent.ID], Entry{ID: id, Name: name, Folder: true})
	return Node{ID: id, Name: name}, nil
}

func (f *fakeStore) UploadFile(context.Context, Node, string, io.Reader) error { return nil }

func (f *fakeStore) countChildren(parentID, name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, e := range f.children[parentID] {
		if e.Name == name {
			n++
		}
	}
	return n
}

func TestResolveCreatesMissingSegments(t *testing.T) {
	fs := newFakeStore()
	r := NewResolver(fs)

	leaf, err := r.Resolve(context.Background(), fs.Root(), []string{"Вологда", "Вологда", "01.05.2024"})
	require.NoError(t, err)
	assert.Equal(t, "root/Вологда/Вологда/01.05.2024", leaf.ID)
	assert.Equal(t, 3, fs.creates)
}

func TestResolveIsIdempotent(t *testing.T) {
	fs := newFakeStore()
	r := NewResolver(fs)
	ctx := context.Background()
	segments := []string{"city", "point", "date"}

	first, err := r.Resolve(ctx, fs.Root(), segments)
	require.NoError(t, err)
	second, err := r.Resolve(ctx, fs.Root(), segments)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 3, fs.creates, "second resolution must create nothing")
	assert.Equal(t, 1, fs.countChildren("root", "city"))
}

func TestResolveSharedPrefix(t *testing.T) {
	fs := newFakeStore()
	r := NewResolver(fs)
	ctx := context.Background()

	_, err := r.Resolve(ctx, fs.Root(), []string{"city", "point", "d1"})
	require.NoError(t, err)
	_, err = r.Resolve(ctx, fs.Root(), []string{"city", "point", "d2"})
	require.NoError(t, err)

	assert.Equal(t, 4, fs.creates)
	assert.Equal(t, 1, fs.countChildren("root", "city"))
	assert.Equal(t, 2, len(fs.children["root/city/point"]))
}

func TestConcurrentResolveCreatesOnce(t *testing.T) {
	fs := newFakeStore()
	r := NewResolver(fs)
	segments := []string{"city", "point", "date"}

	var wg sync.WaitGroup
	errs := make([]error, 8)
	leaves := make([]Node, 8)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			leaves[i], errs[i] = r.Resolve(context.Background(), fs.Root(), segments)
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		require.NoError(t, err, "resolver %d", i)
		assert.Equal(t, leaves[0].ID, leaves[i].ID)
	}
	assert.Equal(t, 1, fs.countChildren("root", "city"))
	assert.Equal(t, 1, fs.countChildren("root/city", "point"))
	assert.Equal(t, 1, fs.countChildren("root/city/point", "date"))
}

func TestResolveRecoversFromCreateConflict(t *testing.T) {
	fs := newFakeStore()
	// Simulate losing a cross-process race: the folder appears between the
	// lookup miss and the create call.
	raced := &racingStore{fakeStore: fs}
	r := NewResolver(raced)

	leaf, err := r.Resolve(context.Background(), fs.Root(), []string{"city"})
	require.NoError(t, err)
	assert.Equal(t, "root/city", leaf.ID)
}

// racingStore makes the first CreateFolder report ErrFolderExists after
// sneaking the folder in behind the resolver's back.
type racingStore struct {
	*fakeStore
	raced bool
}

func (r *racingStore) CreateFolder(ctx context.Context, parent Node, name string) (Node, error) {
	if !r.raced {
		r.raced = true
		_, _ = r.fakeStore.CreateFolder(ctx, parent, name)
		return Node{}, fmt.Errorf("mkdir: %w", ErrFolderExists)
	}
	return r.fakeStore.CreateFolder(ctx, parent, name)
}

func TestResolveFailureNamesPath(t *testing.T) {
	fs := newFakeStore()
	fs.failOn = "point"
	r := NewResolver(fs)

	_, err := r.Resolve(context.Background(), fs.Root(), []string{"city", "point", "date"})
	require.Error(t, err)

	var perr *PathError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "city/point", perr.Path)
	assert.Contains(t, perr.Error(), "resolve city/point")

	// The first segment was created and is not rolled back.
	assert.Equal(t, 1, fs.countChildren("root", "city"))
}

func TestPathErrorUnwrap(t *testing.T) {
	inner := errors.New("boom")
	perr := &PathError{Path: "a/b", Err: inner}
	assert.ErrorIs(t, perr, inner)
	assert.True(t, strings.Contains(perr.Error(), "boom"))
}
