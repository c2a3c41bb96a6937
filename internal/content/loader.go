package content

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/ssm"

	"github.com/keithlinneman/combostatic/internal/cryptoutil"
	"github.com/keithlinneman/combostatic/internal/log"
	"github.com/keithlinneman/combostatic/internal/xerrors"
)

// maxSignatureSize bounds the detached signature download. KMS signatures
// are a few hundred bytes.
const maxSignatureSize = 16 << 10

// ParamAPI is the SSM call the loader needs. *ssm.Client satisfies it.
type ParamAPI interface {
	GetParameter(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// ObjectAPI is the S3 call the loader needs. *s3.Client satisfies it.
type ObjectAPI interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

type Options struct {
	Logger log.Logger

	SSMParam string // holds the current bundle SHA-256
	S3Bucket string
	S3Prefix string

	// Root is the directory the bundle is installed as. It must be absent
	// or empty.
	Root string

	// SigningKeyARN names the KMS key for NewFromAWS to verify with.
	SigningKeyARN string
	// Verifier checks <hash>.tar.gz.sig. nil skips signature checks.
	Verifier cryptoutil.Verifier

	// OnLoaded runs after a successful install, e.g. to update metrics.
	OnLoaded func(b *Bundle, took time.Duration)
}

type Loader struct {
	opts    Options
	params  ParamAPI
	objects ObjectAPI
}

func New(params ParamAPI, objects ObjectAPI, opts Options) (*Loader, error) {
	if opts.SSMParam == "" || opts.S3Bucket == "" {
		return nil, xerrors.New("content loader needs an SSM parameter and an S3 bucket")
	}
	if opts.Root == "" {
		return nil, xerrors.New("content loader needs a root directory")
	}
	if opts.Logger == nil {
		opts.Logger = log.Nop()
	}
	opts.Root = filepath.Clean(opts.Root)
	return &Loader{opts: opts, params: params, objects: objects}, nil
}

// NewFromAWS builds SSM, S3 and (when SigningKeyARN is set) KMS clients
// from the default credential chain.
func NewFromAWS(ctx context.Context, opts Options) (*Loader, error) {
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, xerrors.Wrap(err, "load aws config")
	}
	if opts.Verifier == nil && opts.SigningKeyARN != "" {
		opts.Verifier = cryptoutil.NewKMSVerifier(kms.NewFromConfig(cfg), opts.SigningKeyARN)
	}
	return New(ssm.NewFromConfig(cfg), s3.NewFromConfig(cfg), opts)
}

// CurrentHash reads the bundle SHA-256 from SSM.
func (l *Loader) CurrentHash(ctx context.Context) (string, error) {
	out, err := l.params.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(l.opts.SSMParam),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		return "", xerrors.Wrapf(err, "get ssm parameter %s", l.opts.SSMParam)
	}
	if out.Parameter == nil || out.Parameter.Value == nil {
		return "", xerrors.Newf("ssm parameter %s has no value", l.opts.SSMParam)
	}
	hash := strings.ToLower(strings.TrimSpace(*out.Parameter.Value))
	if !cryptoutil.IsSHA256Hex(hash) {
		return "", xerrors.Newf("ssm parameter %s is not a sha256 digest", l.opts.SSMParam)
	}
	return hash, nil
}

func (l *Loader) key(hash string) string {
	if p := strings.Trim(l.opts.S3Prefix, "/"); p != "" {
		return p + "/" + hash + ".tar.gz"
	}
	return hash + ".tar.gz"
}

// Load installs the bundle SSM currently names.
func (l *Loader) Load(ctx context.Context) (*Bundle, error) {
	hash, err := l.CurrentHash(ctx)
	if err != nil {
		return nil, err
	}
	return l.LoadHash(ctx, hash)
}

// LoadHash downloads, verifies and installs the bundle with the given hash.
func (l *Loader) LoadHash(ctx context.Context, hash string) (*Bundle, error) {
	start := time.Now()
	L := l.opts.Logger.With("bundle_sha256", hash)
	key := l.key(hash)

	data, version, err := l.fetchBundle(ctx, key, hash)
	if err != nil {
		return nil, err
	}
	L.Info(ctx, "content bundle downloaded", "bucket", l.opts.S3Bucket, "key", key, "bytes", len(data))

	if l.opts.Verifier != nil {
		sig, err := l.fetch(ctx, key+".sig", maxSignatureSize)
		if err != nil {
			return nil, xerrors.Wrap(err, "fetch bundle signature")
		}
		if err := l.opts.Verifier.Verify(ctx, data, sig); err != nil {
			return nil, xerrors.Wrapf(err, "bundle %s signature", hash)
		}
		L.Info(ctx, "content bundle signature verified")
	} else {
		L.Warn(ctx, "content bundle signature not checked, no verifier configured")
	}

	files, err := l.install(data)
	if err != nil {
		return nil, err
	}

	b := &Bundle{
		SHA256:   hash,
		Version:  version,
		Size:     int64(len(data)),
		Root:     l.opts.Root,
		LoadedAt: time.Now().UTC(),
	}
	took := time.Since(start)
	L.Info(ctx, "content bundle installed", "root", b.Root, "files", files, "version", version, "duration", took.Seconds())
	if l.opts.OnLoaded != nil {
		l.opts.OnLoaded(b, took)
	}
	return b, nil
}

func (l *Loader) fetchBundle(ctx context.Context, key, hash string) ([]byte, string, error) {
	out, err := l.objects.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(l.opts.S3Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, "", xerrors.Wrapf(err, "get s3://%s/%s", l.opts.S3Bucket, key)
	}
	defer out.Body.Close()

	data, actual, err := readWithHash(out.Body, maxBundleSize)
	if err != nil {
		return nil, "", xerrors.Wrapf(err, "read s3://%s/%s", l.opts.S3Bucket, key)
	}
	if !cryptoutil.HashEqual(actual, hash) {
		return nil, "", xerrors.Newf("bundle checksum mismatch: want %s, got %s", hash, actual)
	}
	return data, out.Metadata["version"], nil
}

func (l *Loader) fetch(ctx context.Context, key string, max int64) ([]byte, error) {
	out, err := l.objects.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(l.opts.S3Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, xerrors.Wrapf(err, "get s3://%s/%s", l.opts.S3Bucket, key)
	}
	defer out.Body.Close()
	data, _, err := readWithHash(out.Body, max)
	return data, err
}

// install extracts into a staging directory next to the root and renames
// it into place.
func (l *Loader) install(data []byte) (int, error) {
	root := l.opts.Root
	parent := filepath.Dir(root)
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return 0, xerrors.Wrapf(err, "create %s", parent)
	}
	staging, err := os.MkdirTemp(parent, ".combostatic-staging-")
	if err != nil {
		return 0, xerrors.Wrap(err, "create staging dir")
	}
	files, err := extractTarGz(data, staging)
	if err == nil {
		err = os.Chmod(staging, 0o755)
	}
	if err == nil {
		err = clearRoot(root)
	}
	if err == nil {
		err = os.Rename(staging, root)
	}
	if err != nil {
		os.RemoveAll(staging)
		return 0, xerrors.Wrap(err, "install bundle")
	}
	return files, nil
}

// clearRoot removes root if it is an empty directory. A non-empty root is
// left alone and refused.
func clearRoot(root string) error {
	entries, err := os.ReadDir(root)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return xerrors.Wrapf(err, "read root %s", root)
	}
	if len(entries) > 0 {
		return xerrors.Newf("root %s is not empty, refusing to replace it", root)
	}
	return os.Remove(root)
}
