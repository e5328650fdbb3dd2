package app

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/minio/minio-go/v7"
)

// ObjectStore is the subset of the MinIO client used for report snapshots.
type ObjectStore interface {
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	StatObject(ctx context.Context, bucketName, objectName string, opts minio.StatObjectOptions) (minio.ObjectInfo, error)
	RemoveObject(ctx context.Context, bucketName, objectName string, opts minio.RemoveObjectOptions) error
}

// IsNotExist reports whether err means the object is missing in either store.
func IsNotExist(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, fs.ErrNotExist) {
		return true
	}
	return minio.ToErrorResponse(err).Code == "NoSuchKey"
}

// FsObjectStore keeps objects under Base for development and tests.
type FsObjectStore struct {
	Base string
}

// path resolves bucket/object below Base and refuses anything outside it.
func (f *FsObjectStore) path(bucketName, objectName string) (string, error) {
	dir := filepath.Clean(f.Base)
	if bucketName != "" {
		dir = filepath.Join(dir, bucketName)
	}
	clean := filepath.Clean(filepath.Join(dir, objectName))
	if !strings.HasPrefix(clean, dir+string(os.PathSeparator)) {
		return "", os.ErrPermission
	}
	return clean, nil
}

func (f *FsObjectStore) PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error) {
	p, err := f.path(bucketName, objectName)
	if err != nil {
		return minio.UploadInfo{}, err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return minio.UploadInfo{}, err
	}
	tmp := p + ".tmp"
	out, err := os.Create(tmp)
	if err != nil {
		return minio.UploadInfo{}, err
	}
	n, err := io.Copy(out, reader)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(tmp)
		return minio.UploadInfo{}, err
	}
	if err := os.Rename(tmp, p); err != nil {
		return minio.UploadInfo{}, err
	}
	return minio.UploadInfo{Bucket: bucketName, Key: objectName, Size: n}, nil
}

func (f *FsObjectStore) StatObject(ctx context.Context, bucketName, objectName string, opts minio.StatObjectOptions) (minio.ObjectInfo, error) {
	p, err := f.path(bucketName, objectName)
	if err != nil {
		return minio.ObjectInfo{}, err
	}
	fi, err := os.Stat(p)
	if err != nil {
		return minio.ObjectInfo{}, err
	}
	return minio.ObjectInfo{Key: objectName, Size: fi.Size(), LastModified: fi.ModTime()}, nil
}

func (f *FsObjectStore) RemoveObject(ctx context.Context, bucketName, objectName string, opts minio.RemoveObjectOptions) error {
	p, err := f.path(bucketName, objectName)
	if err != nil {
		return err
	}
	return os.Remove(p)
}

// Open streams a stored object. MinIO-backed apps presign instead.
func (f *FsObjectStore) Open(bucketName, objectName string) (io.ReadCloser, error) {
	p, err := f.path(bucketName, objectName)
	if err != nil {
		return nil, err
	}
	return os.Open(p)
}
