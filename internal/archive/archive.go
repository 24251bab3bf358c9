// Package archive is the optional durable archival path for committed
// finals (spec.md §4.13), adapted from the teacher's internal/storage
// minio client: same enabled-flag/env-config pattern, retargeted from
// ad-hoc file uploads onto one JSON object per committed final, keyed
// sessionID/seqId.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Client is a best-effort object-storage archiver. A nil/disabled Client
// is always safe to call — every method becomes a no-op — since
// archiving must never block or fail the pipeline (spec.md §4.12's
// fire-and-forget policy class applies here too).
type Client struct {
	client  *minio.Client
	bucket  string
	enabled bool
}

// NewFromEnv constructs a Client from ARCHIVE_* environment variables,
// returning a disabled Client if ARCHIVE_ENABLED isn't "true".
func NewFromEnv() (*Client, error) {
	enabled := strings.EqualFold(strings.TrimSpace(os.Getenv("ARCHIVE_ENABLED")), "true")
	if !enabled {
		return &Client{enabled: false}, nil
	}

	endpoint := strings.TrimSpace(os.Getenv("ARCHIVE_ENDPOINT"))
	accessKey := strings.TrimSpace(os.Getenv("ARCHIVE_ACCESS_KEY"))
	secretKey := strings.TrimSpace(os.Getenv("ARCHIVE_SECRET_KEY"))
	bucket := strings.TrimSpace(os.Getenv("ARCHIVE_BUCKET"))

	if endpoint == "" || accessKey == "" || secretKey == "" || bucket == "" {
		return nil, fmt.Errorf("archive config missing (endpoint, access key, secret key, bucket)")
	}

	useSSL := strings.EqualFold(strings.TrimSpace(os.Getenv("ARCHIVE_USE_SSL")), "true")

	c, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("init archive client: %w", err)
	}

	return &Client{client: c, bucket: bucket, enabled: true}, nil
}

// Enabled reports whether archival is configured and active.
func (c *Client) Enabled() bool {
	return c != nil && c.enabled
}

// ArchivedFinal is the durable record written per committed final
// (spec.md §3's ArchivedFinal).
type ArchivedFinal struct {
	SessionID   string    `json:"sessionId"`
	SeqID       uint64    `json:"seqId"`
	Text        string    `json:"text"`
	Translation string    `json:"translation,omitempty"`
	TargetLang  string    `json:"targetLang,omitempty"`
	CommittedAt time.Time `json:"committedAt"`
}

// PutFinal uploads one ArchivedFinal as a JSON object keyed
// sessionID/seqId[/targetLang]. Errors are returned for the caller to
// log, but must never be treated as pipeline-fatal.
func (c *Client) PutFinal(ctx context.Context, final ArchivedFinal) error {
	if !c.Enabled() {
		return nil
	}

	data, err := json.Marshal(final)
	if err != nil {
		return fmt.Errorf("marshal archived final: %w", err)
	}

	key := ObjectKey(final.SessionID, final.SeqID, final.TargetLang)
	_, err = c.client.PutObject(ctx, c.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: "application/json",
	})
	if err != nil {
		return fmt.Errorf("put archived final: %w", err)
	}
	return nil
}

// ObjectKey builds the sessionID/seqId[/targetLang].json object key,
// matching the teacher's SafeObjectKey sanitization rules.
func ObjectKey(sessionID string, seqID uint64, targetLang string) string {
	parts := []string{sessionID, strconv.FormatUint(seqID, 10)}
	if targetLang != "" {
		parts = append(parts, targetLang)
	}
	return safeJoin(parts...) + ".json"
}

func safeJoin(parts ...string) string {
	safe := make([]string, 0, len(parts))
	for _, part := range parts {
		if part == "" {
			continue
		}
		part = strings.ReplaceAll(part, "\\", "/")
		part = strings.Trim(part, "/")
		part = strings.ReplaceAll(part, " ", "_")
		if part != "" {
			safe = append(safe, part)
		}
	}
	return strings.Join(safe, "/")
}
