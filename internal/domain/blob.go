package domain

import "context"

// BlobWriter stores an opaque payload under a key in object storage. The
// sync pipeline uses it to archive raw exchange responses for later
// inspection; archiving is best effort and never fails a sync.
type BlobWriter interface {
	Write(ctx context.Context, key string, data []byte, contentType string) error
}
