// Package cryptoutil verifies content bundles before they are extracted
// into the served root: SHA-256 digests compared in constant time, and
// detached signatures checked locally against a public key fetched once
// from AWS KMS.
package cryptoutil
