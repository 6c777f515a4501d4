// Package s3util publishes transcoded background assets to the public
// asset bucket.
package s3util

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// keyPrefix is where transcoded assets live in the bucket.
const keyPrefix = "posts/transcoded/"

// cacheControl marks assets immutable: keys are content-unique, so a URL
// never changes meaning and browsers may cache forever.
const cacheControl = "public, max-age=31536000, immutable"

// projectTag is the URL-encoded S3 object tagging string for cost allocation.
const projectTag = "Project=feedbridge"

// extByContentType maps transcode output types to object key extensions.
// Passthrough uploads carry their source mimetype, so unlisted types fall
// back to an extension derived from the MIME subtype.
var extByContentType = map[string]string{
	"image/jpeg": ".jpg",
	"image/gif":  ".gif",
	"video/mp4":  ".mp4",
}

// keyExtension resolves the object key extension for a content type.
func keyExtension(contentType string) string {
	if ext, ok := extByContentType[contentType]; ok {
		return ext
	}
	if i := strings.Index(contentType, "/"); i >= 0 {
		sub := contentType[i+1:]
		if j := strings.IndexAny(sub, "+;"); j >= 0 {
			sub = sub[:j]
		}
		if sub != "" {
			return "." + sub
		}
	}
	return ""
}

// PublicUploader implements media.Uploader against an S3 bucket fronted by
// a public base URL (the bucket website endpoint or a CDN distribution).
type PublicUploader struct {
	client  *s3.Client
	bucket  string
	baseURL string
	now     func() time.Time
}

// NewPublicUploader creates a PublicUploader. baseURL is joined with the
// object key to form the public URL and must not end with a slash.
func NewPublicUploader(client *s3.Client, bucket, baseURL string) *PublicUploader {
	return &PublicUploader{
		client:  client,
		bucket:  bucket,
		baseURL: baseURL,
		now:     time.Now,
	}
}

// UploadPublic uploads the local file under a timestamped unique key and
// returns its public URL.
func (u *PublicUploader) UploadPublic(ctx context.Context, localPath, contentType string) (string, error) {
	key := ObjectKey(u.now(), keyExtension(contentType))

	f, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("open upload source: %w", err)
	}
	defer f.Close()

	cc := cacheControl
	tagging := projectTag
	_, err = u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:       &u.bucket,
		Key:          &key,
		Body:         f,
		ContentType:  &contentType,
		CacheControl: &cc,
		Tagging:      &tagging,
	})
	if err != nil {
		return "", fmt.Errorf("PutObject %s: %w", key, err)
	}

	url := u.baseURL + "/" + key

	log.Info().
		Str("bucket", u.bucket).
		Str("key", key).
		Str("content_type", contentType).
		Msg("Asset uploaded")

	return url, nil
}

// ObjectKey builds a bucket key that sorts by upload time and cannot
// collide across concurrent workers.
func ObjectKey(t time.Time, ext string) string {
	return fmt.Sprintf("%s%d-%s%s", keyPrefix, t.UnixMilli(), uuid.NewString(), ext)
}
