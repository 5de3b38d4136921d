// Package ship transports committed chunks to a remote archival target.
// Grounded on mjr6140-incus-backup/src/target/target.go for URI parsing and
// internal/vault/filesystem.go for the dir: backend's atomic-write pattern;
// the s3: backend completes internal/vault/factory.go's
// "s3 vault not yet implemented" stub using the AWS SDK the teacher already
// imports.
package ship

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Target is a parsed remote archival target URI, e.g. "dir:/mnt/nas/docrip"
// or "s3://bucket/prefix".
type Target struct {
	Raw    string
	Scheme string // "dir" or "s3"
	Value  string // scheme-specific value

	DirPath string // set when Scheme == "dir"
	Bucket  string // set when Scheme == "s3"
	Prefix  string // set when Scheme == "s3"
}

// SupportedSchemes lists the remote target schemes docrip accepts.
var SupportedSchemes = map[string]struct{}{
	"dir": {},
	"s3":  {},
}

// ParseTarget parses raw into a Target, dispatching on the leading scheme.
func ParseTarget(raw string) (Target, error) {
	t := Target{Raw: raw}
	s := strings.TrimSpace(raw)
	if s == "" {
		return t, fmt.Errorf("remote target must not be empty; expected 'dir:/path' or 's3://bucket/prefix'")
	}

	i := strings.Index(s, ":")
	if i <= 0 {
		return t, fmt.Errorf("invalid target %q; expected '<scheme>:<value>'", raw)
	}
	scheme := strings.ToLower(strings.TrimSpace(s[:i]))
	val := s[i+1:]
	if _, ok := SupportedSchemes[scheme]; !ok {
		return t, fmt.Errorf("unsupported remote target scheme %q", scheme)
	}
	t.Scheme = scheme

	switch scheme {
	case "dir":
		if val == "" {
			return t, fmt.Errorf("dir target path must not be empty")
		}
		clean := filepath.Clean(val)
		if !filepath.IsAbs(clean) {
			return t, fmt.Errorf("dir target must be an absolute path: %q", val)
		}
		t.DirPath = clean
		t.Value = clean
	case "s3":
		// s3://bucket/prefix -> val is "//bucket/prefix"
		rest := strings.TrimPrefix(val, "//")
		bucket, prefix, _ := strings.Cut(rest, "/")
		if bucket == "" {
			return t, fmt.Errorf("s3 target must specify a bucket: %q", raw)
		}
		t.Bucket = bucket
		t.Prefix = strings.Trim(prefix, "/")
		t.Value = rest
	}
	return t, nil
}

// String returns the canonical form of the target.
func (t Target) String() string {
	switch t.Scheme {
	case "dir":
		return fmt.Sprintf("dir:%s", t.DirPath)
	case "s3":
		if t.Prefix != "" {
			return fmt.Sprintf("s3://%s/%s", t.Bucket, t.Prefix)
		}
		return fmt.Sprintf("s3://%s", t.Bucket)
	default:
		return t.Raw
	}
}
