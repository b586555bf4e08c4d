// Package finalize drains a completed submission into the remote store:
// it resolves the destination folder, names each photo, transfers the bytes,
// and cleans up local staging files.
package finalize

import (
	"context"
	"fmt"
	"os"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"github.com/SamoylikV/vaffel-disk-bot/internal/engine"
	"github.com/SamoylikV/vaffel-disk-bot/internal/journal"
	"github.com/SamoylikV/vaffel-disk-bot/internal/session"
	"github.com/SamoylikV/vaffel-disk-bot/internal/storage"
	"github.com/SamoylikV/vaffel-disk-bot/internal/validate"
)

// Fetcher downloads an artifact's bytes from the chat platform into a local
// staging file and returns its path. The finalizer removes the file when
// done with it, whether or not the transfer succeeded.
type Fetcher interface {
	Fetch(ctx context.Context, a session.Artifact) (string, error)
}

// Outcome summarizes one finalization run.
type Outcome struct {
	Uploaded int
	Failed   int
}

// Finalizer transfers accumulated artifacts into the resolved leaf folder.
type Finalizer struct {
	store    storage.Store
	resolver *storage.Resolver
	fetch    Fetcher
	journal  *journal.Repo // nil disables journaling
	log      zerolog.Logger
}

// New returns a finalizer. repo may be nil.
func New(store storage.Store, resolver *storage.Resolver, fetch Fetcher, repo *journal.Repo, log zerolog.Logger) *Finalizer {
	return &Finalizer{store: store, resolver: resolver, fetch: fetch, journal: repo, log: log}
}

// Filename derives the remote name for the i-th photo (1-based) of a
// submission. Uniqueness within one submission comes from the running index
// alone; two submissions with identical supplier and invoice overwrite each
// other remotely.
func Filename(supplier, invoice string, i int) string {
	return fmt.Sprintf("%s_%s_%d.jpg", validate.SafeName(supplier), validate.SafeName(invoice), i)
}

// Submit resolves root/city/point/date and transfers every artifact in
// accumulation order. A single artifact's failure is logged and skipped;
// the remaining transfers proceed. A resolution failure aborts the whole
// run and is returned to the caller.
func (f *Finalizer) Submit(ctx context.Context, sub engine.Submission) (Outcome, error) {
	subID := ulid.Make().String()
	f.journalPending(ctx, sub, subID)

	leaf, err := f.resolver.Resolve(ctx, f.store.Root(), sub.Segments())
	if err != nil {
		f.journalFinish(ctx, sub, subID, 0, len(sub.Artifacts))
		return Outcome{}, err
	}

	var out Outcome
	for i, a := range sub.Artifacts {
		name := Filename(sub.Supplier, sub.Invoice, i+1)
		if err := f.transferOne(ctx, leaf, a, name); err != nil {
			f.log.Error().Err(err).
				Str("user", sub.UserID).
				Str("file", name).
				Msg("photo transfer failed, skipping")
			out.Failed++
			continue
		}
		out.Uploaded++
	}

	f.journalFinish(ctx, sub, subID, out.Uploaded, out.Failed)
	f.log.Info().
		Str("user", sub.UserID).
		Str("dest", leaf.ID).
		Int("uploaded", out.Uploaded).
		Int("failed", out.Failed).
		Msg("submission finalized")
	return out, nil
}

// transferOne stages the artifact locally, uploads it, and removes the
// staging file regardless of the upload's outcome.
func (f *Finalizer) transferOne(ctx context.Context, leaf storage.Node, a session.Artifact, name string) error {
	path, err := f.fetch.Fetch(ctx, a)
	if err != nil {
		return fmt.Errorf("fetch %s: %w", a.FileID, err)
	}
	defer os.Remove(path)

	fh, err := os.Open(path)
	if err != nil {
		return err
	}
	defer fh.Close()

	return f.store.UploadFile(ctx, leaf, name, fh)
}

func (f *Finalizer) journalPending(ctx context.Context, sub engine.Submission, subID string) {
	if f.journal == nil {
		return
	}
	pk, sk := journal.MakeKeys(sub.UserID, subID)
	rec := journal.Record{
		PK: pk, SK: sk,
		SubmissionID: subID,
		UserID:       sub.UserID,
		City:         sub.City,
		Point:        sub.Point,
		Date:         sub.Date,
		Supplier:     sub.Supplier,
		Invoice:      sub.Invoice,
		Photos:       len(sub.Artifacts),
	}
	if err := f.journal.PutPending(ctx, rec); err != nil {
		f.log.Warn().Err(err).Str("user", sub.UserID).Msg("journal put failed")
	}
}

func (f *Finalizer) journalFinish(ctx context.Context, sub engine.Submission, subID string, uploaded, failed int) {
	if f.journal == nil {
		return
	}
	if err := f.journal.Finish(ctx, sub.UserID, subID, uploaded, failed); err != nil {
		f.log.Warn().Err(err).Str("user", sub.UserID).Msg("journal finish failed")
	}
}
