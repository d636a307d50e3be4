package artifacts

import (
	"context"
	"fmt"
	"io"

	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
)

// GDrive stores artifacts in a Google Drive folder. Keys handed back from
// Put are Drive file IDs, not the original names.
type GDrive struct {
	srv      *drive.Service
	folderID string
}

func NewGDrive(srv *drive.Service, folderID string) *GDrive {
	return &GDrive{srv: srv, folderID: folderID}
}

func (g *GDrive) Provider() string { return "gdrive" }

func (g *GDrive) Put(ctx context.Context, in PutInput) (PutOutput, error) {
	if in.Key == "" {
		return PutOutput{}, fmt.Errorf("artifact key is required")
	}

	file := &drive.File{Name: in.Key}
	if g.folderID != "" {
		file.Parents = []string{g.folderID}
	}

	call := g.srv.Files.Create(file)
	if in.ContentType != "" {
		call = call.Media(in.Reader, googleapi.ContentType(in.ContentType))
	} else {
		call = call.Media(in.Reader)
	}

	created, err := call.Context(ctx).Do()
	if err != nil {
		return PutOutput{}, fmt.Errorf("gdrive upload failed: %w", err)
	}
	return PutOutput{Key: created.Id, Size: in.Size}, nil
}

func (g *GDrive) Open(ctx context.Context, key string) (rc io.ReadCloser, contentType string, size int64, err error) {
	resp, err := g.srv.Files.Get(key).
		SupportsAllDrives(true).
		Download()
	if err != nil {
		return nil, "", 0, err
	}
	return resp.Body, resp.Header.Get("Content-Type"), resp.ContentLength, nil
}

func (g *GDrive) Delete(ctx context.Context, key string) error {
	return g.srv.Files.Delete(key).
		SupportsAllDrives(true).
		Context(ctx).
		Do()
}
