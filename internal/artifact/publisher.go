package artifact

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"giftforge/internal/apperrors"

	"golang.org/x/sync/errgroup"
)

// ObjectStore is durable storage addressed by object name.
// Put must overwrite an existing object of the same name.
type ObjectStore interface {
	Put(ctx context.Context, name string, r io.Reader, size int64, contentType string) error
	URL(name string) string
}

// PublishObserver is notified after every publish attempt.
type PublishObserver func(ctx context.Context, a Artifact, err error)

// Publisher uploads local artifacts and hands back their public URLs.
type Publisher struct {
	store       ObjectStore
	concurrency int
	observe     PublishObserver
}

// PublisherOption configures a Publisher.
type PublisherOption func(*Publisher)

// WithConcurrency bounds parallel uploads in PublishAll (default 4).
func WithConcurrency(n int) PublisherOption {
	return func(p *Publisher) {
		if n > 0 {
			p.concurrency = n
		}
	}
}

// WithObserver registers a callback run after every publish attempt.
func WithObserver(fn PublishObserver) PublisherOption {
	return func(p *Publisher) { p.observe = fn }
}

// NewPublisher creates a publisher over store.
func NewPublisher(store ObjectStore, opts ...PublisherOption) *Publisher {
	p := &Publisher{store: store, concurrency: 4}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Publish uploads the file at localPath as object name and returns its URL.
// Publishing the same name again overwrites the object. A malformed name is
// ErrValidation; every other failure, an unreadable local file included, is
// ErrStorageUnavailable.
func (p *Publisher) Publish(ctx context.Context, localPath, name string) (url string, err error) {
	a := Artifact{SourcePath: localPath, Name: name, Kind: KindOf(name)}
	defer func() {
		if p.observe != nil {
			p.observe(ctx, a, err)
		}
	}()

	if err := ValidatePath("name", name); err != nil {
		return "", err
	}

	f, err := os.Open(localPath)
	if err != nil {
		return "", apperrors.StorageUnavailable("artifact.publish", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", apperrors.StorageUnavailable("artifact.publish", err)
	}
	if info.IsDir() {
		return "", apperrors.StorageUnavailable("artifact.publish", fmt.Errorf("%s is a directory", localPath))
	}

	if err := p.store.Put(ctx, name, f, info.Size(), ContentType(name)); err != nil {
		return "", apperrors.StorageUnavailable("artifact.publish", err)
	}

	url = p.store.URL(name)
	slog.Debug("Published artifact", "name", name, "bytes", info.Size(), "url", url)
	return url, nil
}

// PublishAll publishes artifacts concurrently and returns those that succeeded, in
// input order, with URL set. A failed artifact is logged and left out.
func (p *Publisher) PublishAll(ctx context.Context, artifacts []Artifact) []Artifact {
	urls := make([]string, len(artifacts))

	var g errgroup.Group
	g.SetLimit(p.concurrency)
	for i, a := range artifacts {
		g.Go(func() error {
			url, err := p.Publish(ctx, a.SourcePath, a.Name)
			if err != nil {
				slog.Warn("Dropping artifact after failed publish", "name", a.Name, "error", err)
				return nil
			}
			urls[i] = url
			return nil
		})
	}
	_ = g.Wait()

	published := make([]Artifact, 0, len(artifacts))
	for i, a := range artifacts {
		if urls[i] == "" {
			continue
		}
		a.URL = urls[i]
		published = append(published, a)
	}
	return published
}
