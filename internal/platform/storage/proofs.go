// Package storage mints signed Cloud Storage URLs for payment proof objects.
// Proof images are written once by the storefront and read by sales admins
// during verification; both directions go through short-lived signed URLs.
package storage

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"cloud.google.com/go/storage"
)

const (
	defaultURLTTL = 15 * time.Minute
	maxURLTTL     = time.Hour
)

var (
	errInvalidBucket = errors.New("storage: bucket name is required")
	errInvalidObject = errors.New("storage: object name is required")
	errTTLTooLong    = errors.New("storage: url ttl exceeds permitted maximum")
)

// ProofVault generates signed URLs scoped to the payment proof bucket.
type ProofVault struct {
	bucket string
	signer Signer
	ttl    time.Duration
	now    func() time.Time
}

// VaultOption customises vault behaviour.
type VaultOption func(*ProofVault)

// WithURLTTL overrides the signed URL lifetime.
func WithURLTTL(ttl time.Duration) VaultOption {
	return func(v *ProofVault) {
		if ttl > 0 {
			v.ttl = ttl
		}
	}
}

// WithClock injects a custom clock (useful for tests).
func WithClock(clock func() time.Time) VaultOption {
	return func(v *ProofVault) {
		if clock != nil {
			v.now = clock
		}
	}
}

// NewProofVault constructs a vault over the given bucket and signer.
func NewProofVault(bucket string, signer Signer, opts ...VaultOption) (*ProofVault, error) {
	bucket = strings.TrimSpace(bucket)
	if bucket == "" {
		return nil, errInvalidBucket
	}
	if signer == nil || strings.TrimSpace(signer.Email()) == "" {
		return nil, errors.New("storage: signer is required")
	}

	vault := &ProofVault{
		bucket: bucket,
		signer: signer,
		ttl:    defaultURLTTL,
		now:    time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(vault)
		}
	}
	if vault.ttl > maxURLTTL {
		return nil, errTTLTooLong
	}
	return vault, nil
}

// SignedURL mints a short-lived download URL for the proof object. It
// implements the payment service's proof signer contract.
func (v *ProofVault) SignedURL(ctx context.Context, objectPath string) (string, error) {
	return v.signURL(ctx, objectPath, "GET", "")
}

// SignedUploadURL mints a short-lived PUT URL the storefront uses to upload a
// new proof object with the declared content type.
func (v *ProofVault) SignedUploadURL(ctx context.Context, objectPath, contentType string) (string, error) {
	contentType = strings.TrimSpace(contentType)
	if contentType == "" {
		return "", errors.New("storage: content type is required for uploads")
	}
	return v.signURL(ctx, objectPath, "PUT", contentType)
}

// ProofObjectPath builds the canonical object name for a payment's proof.
func ProofObjectPath(orderID, paymentID, ext string) string {
	ext = strings.TrimPrefix(strings.TrimSpace(ext), ".")
	name := paymentID
	if ext != "" {
		name = paymentID + "." + ext
	}
	return path.Join("proofs", orderID, name)
}

func (v *ProofVault) signURL(ctx context.Context, objectPath, method, contentType string) (string, error) {
	if v == nil || v.signer == nil {
		return "", errors.New("storage: vault not initialised")
	}
	objectPath = strings.TrimSpace(objectPath)
	if objectPath == "" {
		return "", errInvalidObject
	}

	opts := &storage.SignedURLOptions{
		GoogleAccessID: v.signer.Email(),
		Scheme:         storage.SigningSchemeV4,
		Method:         method,
		Expires:        v.now().Add(v.ttl),
		ContentType:    contentType,
		SignBytes: func(payload []byte) ([]byte, error) {
			return v.signer.SignBytes(ctx, payload)
		},
	}

	signed, err := storage.SignedURL(v.bucket, objectPath, opts)
	if err != nil {
		return "", fmt.Errorf("storage: sign proof url: %w", err)
	}
	return signed, nil
}
