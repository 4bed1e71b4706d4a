package scrnaseq

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"cloud.google.com/go/storage"
	"github.com/carbocation/pfx"
)

// SplitGoogleStoragePath splits gs://bucket/path/to/object into the bucket
// and the object path.
func SplitGoogleStoragePath(path string) (bucket, object string, err error) {
	if !strings.HasPrefix(path, "gs://") {
		return "", "", fmt.Errorf("%s is not a gs:// path", path)
	}

	pathParts := strings.SplitN(strings.TrimPrefix(path, "gs://"), "/", 2)
	if len(pathParts) != 2 || pathParts[0] == "" || pathParts[1] == "" {
		return "", "", fmt.Errorf("Tried to split your google storage path into 2 parts, but got %d: %v", len(pathParts), pathParts)
	}

	return pathParts[0], pathParts[1], nil
}

// SpooledFile is a local file that may be a temporary copy of a Google Storage
// object. Close removes the temporary copy.
type SpooledFile struct {
	*os.File
	temporary bool
}

func (s *SpooledFile) Close() error {
	err := s.File.Close()
	if s.temporary {
		if rmErr := os.Remove(s.File.Name()); err == nil {
			err = rmErr
		}
	}

	return err
}

// MaybeOpenFromGoogleStorage opens a local file, or, if path begins with gs://
// and client is non-nil, copies the object to a temporary file and opens that.
// The matrix readers need to seek (to sniff compression and delimiters), which
// Google Storage readers cannot do.
func MaybeOpenFromGoogleStorage(ctx context.Context, path string, client *storage.Client) (*SpooledFile, error) {
	if client == nil || !strings.HasPrefix(path, "gs://") {
		f, err := os.Open(ExpandHome(path))
		if err != nil {
			return nil, err
		}
		return &SpooledFile{File: f}, nil
	}

	bucketName, pathName, err := SplitGoogleStoragePath(path)
	if err != nil {
		return nil, err
	}

	rdr, err := client.Bucket(bucketName).Object(pathName).NewReader(ctx)
	if err != nil {
		return nil, pfx.Err(fmt.Errorf("%s: %s", path, err))
	}
	defer rdr.Close()

	tmp, err := os.CreateTemp("", "scrnaseq-*")
	if err != nil {
		return nil, pfx.Err(err)
	}
	out := &SpooledFile{File: tmp, temporary: true}

	if _, err := io.Copy(tmp, rdr); err != nil {
		out.Close()
		return nil, pfx.Err(fmt.Errorf("%s: %s", path, err))
	}

	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		out.Close()
		return nil, pfx.Err(err)
	}

	return out, nil
}

// OpenDecompressed opens a local or gs:// path and returns a reader over its
// decompressed contents. The delimiter of the decompressed stream is returned
// as well.
func OpenDecompressed(ctx context.Context, path string, client *storage.Client) (io.ReadCloser, rune, error) {
	f, err := MaybeOpenFromGoogleStorage(ctx, path, client)
	if err != nil {
		return nil, 0, err
	}

	// Sniff the delimiter from a first pass over the decompressed stream
	sniffer, err := MaybeDecompressReadCloserFromFile(f.File)
	if err != nil {
		f.Close()
		return nil, 0, err
	}
	delim := DetermineDelimiter(io.LimitReader(sniffer, 1<<20))
	if sniffer != io.ReadCloser(f.File) {
		sniffer.Close()
	}

	if _, err := f.Seek(0, io.SeekStart); err != nil {
		f.Close()
		return nil, 0, err
	}

	rdr, err := MaybeDecompressReadCloserFromFile(f.File)
	if err != nil {
		f.Close()
		return nil, 0, err
	}

	closers := []io.Closer{f}
	if rdr != io.ReadCloser(f.File) {
		closers = []io.Closer{rdr, f}
	}

	return &stackedCloser{Reader: rdr, closers: closers}, delim, nil
}

// stackedCloser closes every closer in order, returning the first error.
type stackedCloser struct {
	io.Reader
	closers []io.Closer
}

func (s *stackedCloser) Close() error {
	var first error
	for _, c := range s.closers {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}

	return first
}
