package update

import (
	"bufio"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"strings"
	"time"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/cenkalti/backoff/v4"
)

// checksumBufSize matches the teacher's streaming-hash buffer size used
// for large-file digesting.
const checksumBufSize = 64 * 1024

// ParseChecksumManifest parses a checksums.txt body into a filename→hex
// digest map. Each line is "<hex-digest>  <filename>", separated by one
// or more spaces or tabs — the common sha256sum(1) output format. Blank
// lines and lines starting with "#" are ignored.
func ParseChecksumManifest(data []byte) map[string]string {
	out := make(map[string]string)
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		digest := strings.ToLower(fields[0])
		name := strings.TrimPrefix(fields[len(fields)-1], "*")
		out[name] = digest
	}
	return out
}

// computeSHA256 streams filePath through a SHA-256 hash in 64KiB chunks so
// verification memory use stays flat regardless of artifact size.
func computeSHA256(filePath string) (string, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return "", newErr(ErrInvalidPath, "opening file for checksum", err)
	}
	defer f.Close()

	h := sha256.New()
	buf := make([]byte, checksumBufSize)
	if _, err := io.CopyBuffer(h, f, buf); err != nil {
		return "", newErr(ErrInvalidPath, "reading file for checksum", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// VerifyChecksum computes the SHA-256 digest of filePath and compares it
// against the entry for assetName in a checksums.txt manifest. A missing
// manifest entry is ErrChecksumMissing; a present but non-matching entry
// is ErrChecksumMismatch. VerifyChecksum never deletes the file itself;
// the orchestrator deletes the artifact on either error.
func VerifyChecksum(filePath string, manifest map[string]string, assetName string) error {
	expected, ok := manifest[assetName]
	if !ok {
		return newErr(ErrChecksumMissing, "no checksum entry for "+assetName, nil)
	}
	actual, err := computeSHA256(filePath)
	if err != nil {
		return err
	}
	if !strings.EqualFold(actual, expected) {
		return newErr(ErrChecksumMismatch, "expected "+expected+", got "+actual, nil)
	}
	return nil
}

// Verifier performs the post-download checksum and signature checks. It
// carries the HTTP capability used to fetch the checksum manifest and
// detached signature, plus the trusted public key used to validate them.
type Verifier struct {
	doer          HTTPDoer
	trustedKeys   openpgp.EntityList
	maxRetries    uint64
	retryInterval time.Duration
}

// VerifierOptions configures a Verifier. ArmoredPublicKey is the trusted
// release-signing key in ASCII-armored form; an empty or unparseable key
// degrades signature verification to ErrSignatureUnavailable rather than
// failing closed, matching the design's "missing trust material keeps the
// file, bad signature deletes it" distinction.
type VerifierOptions struct {
	Doer             HTTPDoer
	ArmoredPublicKey string
	MaxRetries       uint64
	RetryInterval    time.Duration
}

func NewVerifier(opts VerifierOptions) *Verifier {
	doer := opts.Doer
	if doer == nil {
		doer = newHTTPClient(15 * time.Second)
	}
	maxRetries := opts.MaxRetries
	if maxRetries == 0 {
		maxRetries = 3
	}
	interval := opts.RetryInterval
	if interval <= 0 {
		interval = defaultRetryBaseDelay
	}

	v := &Verifier{doer: doer, maxRetries: maxRetries, retryInterval: interval}
	if opts.ArmoredPublicKey != "" {
		if keys, err := openpgp.ReadArmoredKeyRing(strings.NewReader(opts.ArmoredPublicKey)); err == nil {
			v.trustedKeys = keys
		}
	}
	return v
}

// FetchChecksumManifest downloads and parses the checksums.txt for a
// release, retrying transient network failures with exponential backoff.
func (v *Verifier) FetchChecksumManifest(ctx context.Context, url string) (map[string]string, error) {
	body, err := v.fetchWithRetry(ctx, url)
	if err != nil {
		return nil, err
	}
	return ParseChecksumManifest(body), nil
}

// VerifySignature downloads the detached signature at sigURL and checks it
// against artifactPath using the verifier's trusted key. If no trusted key
// was configured (or none parsed), this returns ErrSignatureUnavailable —
// a soft failure the orchestrator may choose to tolerate — rather than
// ErrSignatureInvalid, which the orchestrator always treats as fatal and
// deletes the artifact for. A signature that cannot be downloaded is
// reported as ErrSignatureInvalid; a missing artifact is reported as
// ErrInvalidPath before any request is made.
func (v *Verifier) VerifySignature(ctx context.Context, artifactPath, sigURL string) error {
	if len(v.trustedKeys) == 0 {
		return newErr(ErrSignatureUnavailable, "no trusted signing key configured", nil)
	}
	artifact, err := os.Open(artifactPath)
	if err != nil {
		return newErr(ErrInvalidPath, "opening artifact for signature check", err)
	}
	defer artifact.Close()

	sigBytes, err := v.fetchWithRetry(ctx, sigURL)
	if err != nil {
		return newErr(ErrSignatureInvalid, "downloading signature failed", err)
	}

	if _, err := openpgp.CheckDetachedSignature(v.trustedKeys, artifact, bytes.NewReader(sigBytes), nil); err != nil {
		return newErr(ErrSignatureInvalid, "signature does not match trusted key", err)
	}
	return nil
}

// fetchWithRetry GETs url with bounded exponential-backoff retry, used for
// both the checksum manifest and the detached signature — both are small
// text/binary companions fetched right after the main artifact, and both
// benefit from the same transient-failure tolerance. It makes at most
// maxRetries attempts in total, doubling the (jittered) delay between them.
func (v *Verifier) fetchWithRetry(ctx context.Context, url string) ([]byte, error) {
	var result []byte

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = v.retryInterval
	policy.Multiplier = 2
	policy.MaxInterval = defaultRetryMaxDelay
	bounded := backoff.WithMaxRetries(policy, v.maxRetries-1)
	withCtx := backoff.WithContext(bounded, ctx)

	operation := func() error {
		resp, err := getWithHeaders(ctx, v.doer, url, nil)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 400 {
			return backoff.Permanent(newHTTPErr(resp.StatusCode, "fetching "+url))
		}
		body, readErr := io.ReadAll(resp.Body)
		if readErr != nil {
			return newErr(ErrNetwork, "reading response body", readErr)
		}
		if len(body) == 0 {
			return backoff.Permanent(newErr(ErrNetwork, "empty response body fetching "+url, nil))
		}
		result = body
		return nil
	}

	if err := backoff.Retry(operation, withCtx); err != nil {
		return nil, err
	}
	return result, nil
}
