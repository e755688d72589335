package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/vigilis/sentinel/pkg/domain/client"
)

// ErrViewNotPublished is returned when no public view exists yet.
var ErrViewNotPublished = errors.New("public view not published yet")

// FilePublisher writes the public view as a JSON array to a local path.
type FilePublisher struct {
	path string
}

// NewFilePublisher creates a local public view writer.
func NewFilePublisher(path string) *FilePublisher {
	return &FilePublisher{path: path}
}

// Publish writes view atomically.
func (p *FilePublisher) Publish(_ context.Context, view client.PublicView) error {
	data, err := marshalView(view, true)
	if err != nil {
		return err
	}
	if err := writeFileAtomic(p.path, data); err != nil {
		return fmt.Errorf("%w: %v", client.ErrPublishFailed, err)
	}
	return nil
}

// S3Publisher uploads the public view to a bucket key.
type S3Publisher struct {
	api    objectAPI
	bucket string
	key    string
}

// NewS3Publisher creates an object storage public view writer.
func NewS3Publisher(api objectAPI, bucket, key string) *S3Publisher {
	return &S3Publisher{api: api, bucket: bucket, key: key}
}

// Publish uploads view.
func (p *S3Publisher) Publish(ctx context.Context, view client.PublicView) error {
	data, err := marshalView(view, false)
	if err != nil {
		return err
	}
	if err := putJSON(ctx, p.api, p.bucket, p.key, data); err != nil {
		return fmt.Errorf("%w: %v", client.ErrPublishFailed, err)
	}
	return nil
}

// MultiPublisher fans a view out to several writers and joins their errors.
type MultiPublisher []client.PublicViewWriter

// Publish writes to every writer, even after a failure.
func (m MultiPublisher) Publish(ctx context.Context, view client.PublicView) error {
	var errs []error
	for _, w := range m {
		if err := w.Publish(ctx, view); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func marshalView(view client.PublicView, indent bool) ([]byte, error) {
	if view == nil {
		view = client.PublicView{}
	}
	var (
		data []byte
		err  error
	)
	if indent {
		data, err = json.MarshalIndent(view, "", "  ")
	} else {
		data, err = json.Marshal(view)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: marshal: %v", client.ErrPublishFailed, err)
	}
	return data, nil
}

// FileViewReader reads the public view written by FilePublisher.
type FileViewReader struct {
	path string
}

// NewFileViewReader creates a reader for the view at path.
func NewFileViewReader(path string) *FileViewReader {
	return &FileViewReader{path: path}
}

// View returns the last published view. It returns ErrViewNotPublished when
// no cycle has written the file yet.
func (r *FileViewReader) View(_ context.Context) (client.PublicView, error) {
	data, err := os.ReadFile(r.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrViewNotPublished
		}
		return nil, fmt.Errorf("read public view: %w", err)
	}
	var view client.PublicView
	if err := json.Unmarshal(data, &view); err != nil {
		return nil, fmt.Errorf("decode public view: %w", err)
	}
	if view == nil {
		view = client.PublicView{}
	}
	return view, nil
}
