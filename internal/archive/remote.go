// Package archive lists, downloads and removes archived telemetry bundles
// from the place the inverter web box uploads them to.
package archive

import (
	"context"
	"fmt"
	"io"

	"arraymon/internal/config"
)

// Remote is a flat directory of bundles. Names returned by List are the
// identifiers Retrieve and Delete accept.
type Remote interface {
	List(ctx context.Context) ([]string, error)
	Retrieve(ctx context.Context, name string, w io.Writer) error
	Delete(ctx context.Context, name string) error
	Close() error
}

// Connector opens a session against the remote.
type Connector func(ctx context.Context) (Remote, error)

// NewConnector returns the connector for the configured source.
func NewConnector(cfg config.ArchiveConfig) (Connector, error) {
	switch cfg.Source {
	case "ftp":
		return func(ctx context.Context) (Remote, error) {
			return DialFTP(ctx, cfg.FTPAddr, cfg.FTPUser, cfg.FTPPassword, cfg.FTPDir, cfg.Timeout)
		}, nil
	case "s3":
		return func(ctx context.Context) (Remote, error) {
			return NewS3(cfg.S3Endpoint, cfg.S3AccessKey, cfg.S3SecretKey, cfg.S3Bucket, cfg.S3Prefix, cfg.S3Secure)
		}, nil
	case "dir":
		return func(ctx context.Context) (Remote, error) {
			return NewDir(cfg.Dir)
		}, nil
	default:
		return nil, fmt.Errorf("unknown archive source %q", cfg.Source)
	}
}
