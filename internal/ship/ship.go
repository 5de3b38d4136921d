package ship

import (
	"context"
	"io"
)

// Shipper transports a committed chunk (or manifest) to a remote target and
// reports whether it is already present, so a resumed run can skip
// re-uploading chunks a prior run already shipped.
type Shipper interface {
	// Exists reports whether name is already present at the target and, if
	// so, the digest the target reports for it. Comparing that digest with
	// the local one is left to the caller.
	Exists(ctx context.Context, archiveBase, name string) (present bool, remoteDigest string, err error)
	// Put uploads r (of the given size) as name under archiveBase.
	Put(ctx context.Context, archiveBase, name string, r io.Reader, size int64) error
	// Close releases any held resources (connections, credentials caches).
	Close() error
}

// IntegrityMismatchError indicates a chunk already exists remotely under
// the expected name but with a different digest than the local commit
// produced. The orchestrator re-uploads (overwrites) such a chunk once and
// returns this error only if the digests still differ afterwards.
type IntegrityMismatchError struct {
	ArchiveBase string
	Name        string
	Local       string
	Remote      string
}

func (e *IntegrityMismatchError) Error() string {
	return "chunk " + e.ArchiveBase + "/" + e.Name + ": local digest " + e.Local + " != remote digest " + e.Remote
}

// New constructs the Shipper for the given target, dispatched by scheme.
func New(ctx context.Context, t Target, opts Options) (Shipper, error) {
	switch t.Scheme {
	case "dir":
		return NewDirShipper(t.DirPath)
	case "s3":
		return NewS3Shipper(ctx, t.Bucket, t.Prefix, opts)
	default:
		return nil, &UnsupportedSchemeError{Scheme: t.Scheme}
	}
}

// UnsupportedSchemeError is returned by New for an unrecognized scheme.
type UnsupportedSchemeError struct{ Scheme string }

func (e *UnsupportedSchemeError) Error() string {
	return "unsupported remote target scheme: " + e.Scheme
}

// Options carries backend-specific configuration that doesn't belong in the
// Target URI itself (region, credential path, bandwidth cap).
type Options struct {
	CredentialPath   string
	S3Region         string
	S3AccessKeyID    string
	S3SecretKey      string
	BandwidthCapKbps int
}
