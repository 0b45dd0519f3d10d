package storage

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"
)

var (
	ErrEmptyObject   = errors.New("empty object")
	ErrUnknownObject = errors.New("locator does not belong to this store")
)

// AssetStore keeps product images. Put returns a locator that Delete accepts.
type AssetStore interface {
	Put(ctx context.Context, ownerID, filename, contentType string, data []byte) (string, error)
	Delete(ctx context.Context, locator string) error
}

// ProductImageKey is the object key for an image uploaded by ownerID.
func ProductImageKey(ownerID, filename string, at time.Time) string {
	name := path.Base(strings.ReplaceAll(filename, "\\", "/"))
	if name == "." || name == "/" || name == "" {
		name = "image"
	}
	return fmt.Sprintf("products/%s/%d_%s", ownerID, at.UnixMilli(), name)
}

// keyFromURL strips base from a public URL, returning the object key.
func keyFromURL(locator, base string) (string, bool) {
	base = strings.TrimSuffix(base, "/")
	if base == "" || !strings.HasPrefix(locator, base+"/") {
		return "", false
	}
	key := strings.TrimPrefix(locator, base+"/")
	return key, key != ""
}
