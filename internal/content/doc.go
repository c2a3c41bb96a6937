// Package content installs the site root from a signed release bundle.
//
// An SSM parameter names the current bundle by its SHA-256. The tar.gz is
// fetched from S3 at <prefix>/<hash>.tar.gz, its digest checked, its
// detached signature <hash>.tar.gz.sig verified against a KMS key, and only
// then extracted. Extraction happens in a staging directory beside the root
// which is renamed into place, so the site pipeline never sees a partial
// tree. Loading runs once, before the listeners start.
package content
