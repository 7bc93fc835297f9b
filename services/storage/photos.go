// Package storage checks photo evidence against the Cloudinary media library.
package storage

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/cloudinary/cloudinary-go/v2"
	"github.com/cloudinary/cloudinary-go/v2/api/admin"
)

// PhotoStore resolves photo references submitted as execution proof.
type PhotoStore interface {
	// Exists reports whether ref names an uploaded asset.
	Exists(ctx context.Context, ref string) (bool, error)
	// SignedURL returns a short-lived URL for an authenticated asset.
	SignedURL(ref string, expires time.Duration) string
}

type assetLookup func(ctx context.Context, params admin.AssetParams) (*admin.AssetResult, error)

type CloudinaryPhotoStore struct {
	lookup    assetLookup
	cloudName string
	apiSecret string
	now       func() time.Time
}

func NewCloudinaryPhotoStore(cld *cloudinary.Cloudinary, cloudName, apiSecret string) *CloudinaryPhotoStore {
	return &CloudinaryPhotoStore{
		lookup:    cld.Admin.Asset,
		cloudName: cloudName,
		apiSecret: apiSecret,
		now:       time.Now,
	}
}

func (s *CloudinaryPhotoStore) Exists(ctx context.Context, ref string) (bool, error) {
	publicID := PublicID(ref)
	if publicID == "" {
		return false, nil
	}
	res, err := s.lookup(ctx, admin.AssetParams{PublicID: publicID})
	if err != nil {
		return false, fmt.Errorf("storage: asset lookup %s: %w", publicID, err)
	}
	if res == nil {
		return false, nil
	}
	if msg := res.Error.Message; msg != "" {
		if strings.Contains(strings.ToLower(msg), "not found") {
			return false, nil
		}
		return false, fmt.Errorf("storage: asset lookup %s: %s", publicID, msg)
	}
	return res.PublicID != "", nil
}

// SignedURL signs "expires_at" and "public_id" with the API secret.
func (s *CloudinaryPhotoStore) SignedURL(ref string, expires time.Duration) string {
	publicID := PublicID(ref)
	expiresAt := s.now().Add(expires).Unix()
	sum := sha1.Sum([]byte(fmt.Sprintf("expires_at=%d&public_id=%s%s", expiresAt, publicID, s.apiSecret)))
	return fmt.Sprintf("https://res.cloudinary.com/%s/image/authenticated/s--%s--/expires_%d/%s",
		s.cloudName, hex.EncodeToString(sum[:]), expiresAt, publicID)
}

// PublicID extracts the asset id from a delivery URL, or returns ref trimmed
// when it already is one.
func PublicID(ref string) string {
	ref = strings.TrimSpace(ref)
	if !strings.HasPrefix(ref, "http://") && !strings.HasPrefix(ref, "https://") {
		return ref
	}
	u, err := url.Parse(ref)
	if err != nil {
		return ""
	}
	_, rest, ok := strings.Cut(u.Path, "/upload/")
	if !ok {
		return ""
	}
	parts := strings.Split(rest, "/")
	// Anything up to the version segment is transformations.
	for i, seg := range parts[:len(parts)-1] {
		if isVersion(seg) {
			parts = parts[i+1:]
			break
		}
	}
	id := strings.Join(parts, "/")
	return strings.TrimSuffix(id, path.Ext(id))
}

func isVersion(seg string) bool {
	if len(seg) < 2 || seg[0] != 'v' {
		return false
	}
	for _, c := range seg[1:] {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}
