// Package storage defines the backend-neutral view of the remote
// hierarchical file store and the idempotent path resolver built on it.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
)

// Node identifies a folder in the remote store. ID is backend-specific:
// a disk path for Yandex Disk, a key prefix for S3.
type Node struct {
	ID   string
	Name string
}

// Entry is one child of a folder as returned by ListChildren.
type Entry struct {
	ID     string
	Name   string
	Folder bool
}

// ErrFolderExists is returned by CreateFolder when a folder with that name
// already exists under the parent. The resolver treats it as success and
// re-lists to obtain the existing node.
var ErrFolderExists = errors.New("folder already exists")

// Store is the remote storage collaborator. Implementations must be safe
// for concurrent use; none of the operations is required to be atomic or
// idempotent on its own; that is the resolver's job.
type Store interface {
	// Root returns the configured root folder.
	Root() Node
	// ListChildren returns the direct children of parent.
	ListChildren(ctx context.Context, parent Node) ([]Entry, error)
	// CreateFolder creates a child folder under parent and returns it.
	CreateFolder(ctx context.Context, parent Node, name string) (Node, error)
	// UploadFile writes body to a file named filename inside dest.
	UploadFile(ctx context.Context, dest Node, filename string, body io.Reader) error
}

// PathError reports a failed lookup or creation during path resolution.
// Path names the segment chain up to and including the offending segment.
type PathError struct {
	Path string
	Err  error
}

func (e *PathError) Error() string {
	return fmt.Sprintf("resolve %s: %v", e.Path, e.Err)
}

func (e *PathError) Unwrap() error { return e.Err }
