package artifacts

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
)

// LocalFS stores artifacts under a root directory on a volume shared with
// the render workers.
type LocalFS struct {
	root string
}

func NewLocalFS(root string) *LocalFS {
	return &LocalFS{root: root}
}

func (l *LocalFS) Provider() string { return "localfs" }

func (l *LocalFS) Put(ctx context.Context, in PutInput) (PutOutput, error) {
	if in.Key == "" {
		return PutOutput{}, fmt.Errorf("artifact key is required")
	}

	dst := filepath.Join(l.root, filepath.FromSlash(in.Key))
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return PutOutput{}, err
	}

	f, err := os.Create(dst)
	if err != nil {
		return PutOutput{}, err
	}
	defer f.Close()

	n, err := io.Copy(f, in.Reader)
	if err != nil {
		return PutOutput{}, err
	}
	return PutOutput{Key: in.Key, Size: n}, nil
}

func (l *LocalFS) Open(ctx context.Context, key string) (rc io.ReadCloser, contentType string, size int64, err error) {
	p := filepath.Join(l.root, filepath.FromSlash(key))
	f, err := os.Open(p)
	if err != nil {
		return nil, "", 0, err
	}

	if st, statErr := f.Stat(); statErr == nil {
		size = st.Size()
	}

	// Prefer extension-based type; sniff the first bytes otherwise.
	contentType = mime.TypeByExtension(filepath.Ext(p))
	if contentType == "" {
		buf := make([]byte, 512)
		n, _ := f.Read(buf)
		_, _ = f.Seek(0, 0)
		contentType = http.DetectContentType(buf[:n])
	}

	return f, contentType, size, nil
}

func (l *LocalFS) Delete(ctx context.Context, key string) error {
	return os.Remove(filepath.Join(l.root, filepath.FromSlash(key)))
}
