package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/sync/singleflight"
)

// Resolver maps an ordered list of folder names to a leaf node, creating
// missing segments along the way. Repeated resolution of the same segments
// yields the same leaf and creates each folder at most once.
//
// Concurrent resolutions within this process are collapsed per (parent,
// name) pair through a singleflight group; a create that still conflicts
// (another process won the race) falls back to re-listing. Races between
// separate processes can leave duplicate same-named siblings, since the store
// offers no cross-process create-if-absent primitive.
type Resolver struct {
	store Store
	group singleflight.Group
}

// NewResolver returns a resolver over the given store.
func NewResolver(store Store) *Resolver {
	return &Resolver{store: store}
}

// Resolve walks segments from root, looking up or creating each one, and
// returns the final node. On failure the returned *PathError names the
// segment chain walked so far; already-created segments are not rolled back.
func (r *Resolver) Resolve(ctx context.Context, root Node, segments []string) (Node, error) {
	cur := root
	for i, name := range segments {
		node, err := r.child(ctx, cur, name)
		if err != nil {
			return Node{}, &PathError{Path: strings.Join(segments[:i+1], "/"), Err: err}
		}
		cur = node
	}
	return cur, nil
}

// child returns the folder called name under parent, creating it if absent.
func (r *Resolver) child(ctx context.Context, parent Node, name string) (Node, error) {
	key := parent.ID + "\x00" + name
	v, err, _ := r.group.Do(key, func() (any, error) {
		return r.lookupOrCreate(ctx, parent, name)
	})
	if err != nil {
		return Node{}, err
	}
	return v.(Node), nil
}

func (r *Resolver) lookupOrCreate(ctx context.Context, parent Node, name string) (Node, error) {
	if node, ok, err := r.lookup(ctx, parent, name); err != nil || ok {
		return node, err
	}

	node, err := r.store.CreateFolder(ctx, parent, name)
	if err == nil {
		return node, nil
	}
	if !errors.Is(err, ErrFolderExists) {
		return Node{}, err
	}

	// Lost a race against another writer; the folder is there now.
	node, ok, err := r.lookup(ctx, parent, name)
	if err != nil {
		return Node{}, err
	}
	if !ok {
		return Node{}, fmt.Errorf("folder %q reported existing but not listed", name)
	}
	return node, nil
}

func (r *Resolver) lookup(ctx context.Context, parent Node, name string) (Node, bool, error) {
	entries, err := r.store.ListChildren(ctx, parent)
	if err != nil {
		return Node{}, false, err
	}
	for _, e := range entries {
		if e.Folder && e.Name == name {
			return Node{ID: e.ID, Name: e.Name}, true, nil
		}
	}
	return Node{}, false, nil
}
