package utils

import (
	"fmt"

	"github.com/cloudinary/cloudinary-go/v2"

	"homeclean/config"
	"homeclean/services/storage"
)

// Cloudinary builds the photo store used to verify photo proofs.
func Cloudinary(cfg config.Config) (*storage.CloudinaryPhotoStore, error) {
	if cfg.CloudinaryCloudName == "" || cfg.CloudinaryAPIKey == "" || cfg.CloudinaryAPISecret == "" {
		return nil, fmt.Errorf("cloudinary credentials not set in configuration")
	}

	cld, err := cloudinary.NewFromParams(cfg.CloudinaryCloudName, cfg.CloudinaryAPIKey, cfg.CloudinaryAPISecret)
	if err != nil {
		return nil, fmt.Errorf("utils.Cloudinary: failed to initialize Cloudinary: %w", err)
	}
	return storage.NewCloudinaryPhotoStore(cld, cfg.CloudinaryCloudName, cfg.CloudinaryAPISecret), nil
}
