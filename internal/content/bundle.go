package content

import "time"

// Source values reported to metrics.
const (
	SourceS3    = "s3"
	SourceLocal = "local"
)

// Bundle describes the release extracted into the root. It satisfies
// httpmw.ContentInfo.
type Bundle struct {
	SHA256   string
	Version  string // from the object's "version" metadata, may be empty
	Size     int64
	Root     string
	LoadedAt time.Time
}

func (b *Bundle) ContentVersion() string {
	if b == nil {
		return ""
	}
	return b.Version
}

func (b *Bundle) ContentHash() string {
	if b == nil {
		return ""
	}
	return b.SHA256
}
