package archive

import (
	"context"
	"fmt"
	"os"
	"strings"
)

// OpenFromEnv selects an archive backend from the environment. An unset or
// "none" driver returns (nil, nil): archiving is optional.
//
//	HACCARE_ARCHIVE_DRIVER: none|fs|memory|s3 (default none)
//	HACCARE_ARCHIVE_FS_ROOT: directory for the fs driver
//	HACCARE_ARCHIVE_S3_BUCKET: bucket for the s3 driver (required)
//	HACCARE_ARCHIVE_S3_REGION: region (default us-east-1)
//	HACCARE_ARCHIVE_S3_ENDPOINT: custom endpoint (MinIO)
//	HACCARE_ARCHIVE_S3_PATH_STYLE: true|false
func OpenFromEnv(ctx context.Context) (Store, error) {
	driver := os.Getenv("HACCARE_ARCHIVE_DRIVER")
	switch Driver(driver) {
	case "", Driver("none"):
		return nil, nil
	case DriverMemory:
		return NewMemoryStore(), nil
	case DriverFS:
		root := os.Getenv("HACCARE_ARCHIVE_FS_ROOT")
		if root == "" {
			root = "./snapshot-archive"
		}
		return NewFSStore(root)
	case DriverS3:
		bucket := os.Getenv("HACCARE_ARCHIVE_S3_BUCKET")
		if bucket == "" {
			return nil, fmt.Errorf("HACCARE_ARCHIVE_S3_BUCKET required for s3 driver")
		}
		return NewS3Store(ctx, S3Config{
			Bucket:    bucket,
			Region:    os.Getenv("HACCARE_ARCHIVE_S3_REGION"),
			Endpoint:  os.Getenv("HACCARE_ARCHIVE_S3_ENDPOINT"),
			PathStyle: strings.EqualFold(os.Getenv("HACCARE_ARCHIVE_S3_PATH_STYLE"), "true"),
		})
	default:
		return nil, fmt.Errorf("unknown archive driver %q", driver)
	}
}
