package cryptoutil

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/x509"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	kmstypes "github.com/aws/aws-sdk-go-v2/service/kms/types"

	"github.com/keithlinneman/combostatic/internal/xerrors"
)

// Verifier checks a detached signature over message.
type Verifier interface {
	Verify(ctx context.Context, message, signature []byte) error
}

// KeyFetcher is the part of the KMS API the verifier needs. *kms.Client
// satisfies it.
type KeyFetcher interface {
	GetPublicKey(ctx context.Context, params *kms.GetPublicKeyInput, optFns ...func(*kms.Options)) (*kms.GetPublicKeyOutput, error)
}

// KMSVerifier verifies signatures made by an asymmetric KMS key. The public
// key is fetched on first use and cached; verification itself is local.
type KMSVerifier struct {
	client KeyFetcher
	keyARN string

	mu     sync.Mutex
	pubKey crypto.PublicKey
}

func NewKMSVerifier(client KeyFetcher, keyARN string) *KMSVerifier {
	return &KMSVerifier{client: client, keyARN: keyARN}
}

// PublicKey returns the cached key, fetching it from KMS on first call.
func (v *KMSVerifier) PublicKey(ctx context.Context) (crypto.PublicKey, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.pubKey != nil {
		return v.pubKey, nil
	}
	if v.client == nil {
		return nil, xerrors.New("kms client is not configured")
	}

	out, err := v.client.GetPublicKey(ctx, &kms.GetPublicKeyInput{KeyId: aws.String(v.keyARN)})
	if err != nil {
		return nil, xerrors.Wrapf(err, "kms get public key %s", v.keyARN)
	}
	if out.KeyUsage != kmstypes.KeyUsageTypeSignVerify {
		return nil, xerrors.Newf("kms key %s has KeyUsage=%s, want SIGN_VERIFY", v.keyARN, out.KeyUsage)
	}
	pub, err := x509.ParsePKIXPublicKey(out.PublicKey)
	if err != nil {
		return nil, xerrors.Wrap(err, "parse kms public key")
	}
	v.pubKey = pub
	return pub, nil
}

// Verify checks signature over message. The key type picks the scheme:
// ECDSA P-256 with SHA-256, ECDSA P-384 with SHA-384, or RSA-PSS with
// SHA-256.
func (v *KMSVerifier) Verify(ctx context.Context, message, signature []byte) error {
	pub, err := v.PublicKey(ctx)
	if err != nil {
		return err
	}
	switch key := pub.(type) {
	case *ecdsa.PublicKey:
		digest, err := ecdsaDigest(key.Curve, message)
		if err != nil {
			return err
		}
		if !ecdsa.VerifyASN1(key, digest, signature) {
			return xerrors.Newf("ecdsa %s signature does not match", key.Curve.Params().Name)
		}
		return nil
	case *rsa.PublicKey:
		digest := sha256.Sum256(message)
		if err := rsa.VerifyPSS(key, crypto.SHA256, digest[:], signature, nil); err != nil {
			return xerrors.Wrap(err, "rsa-pss signature does not match")
		}
		return nil
	default:
		return xerrors.Newf("unsupported public key type %T", pub)
	}
}

func ecdsaDigest(curve elliptic.Curve, message []byte) ([]byte, error) {
	switch curve {
	case elliptic.P256():
		d := sha256.Sum256(message)
		return d[:], nil
	case elliptic.P384():
		d := sha512.Sum384(message)
		return d[:], nil
	default:
		return nil, xerrors.Newf("unsupported ecdsa curve %s", curve.Params().Name)
	}
}
