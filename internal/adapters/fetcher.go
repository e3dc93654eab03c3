package adapters

import (
	"context"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ZanzyTHEbar/errbuilder-go"

	"depvault/internal/ports"
	"depvault/internal/shared"
	"depvault/internal/types"
)

// FetcherAdapter downloads dependency artifacts from upstream
// registries. Lock artifacts usually carry the exact download URL;
// when they do not, the adapter composes one from the configured
// upstream endpoints.
type FetcherAdapter struct {
	// GoProxy, NpmRegistry and PyPIEndpoint are the upstreams used to
	// compose URLs for registry dependencies without a resolved URL.
	GoProxy      string
	NpmRegistry  string
	PyPIEndpoint string
	Timeout      time.Duration
	Retries      int
	RetryDelay   time.Duration
}

const defaultFetchTimeout = 120 * time.Second
const defaultGoProxy = "https://proxy.golang.org"
const defaultNpmRegistry = "https://registry.npmjs.org"
const defaultPyPIEndpoint = "https://pypi.org"

func NewFetcherAdapter(goProxy string, npmRegistry string, pypiEndpoint string, timeoutSec int, retries int, retryDelayMs int) FetcherAdapter {
	if strings.TrimSpace(goProxy) == "" {
		goProxy = defaultGoProxy
	}
	if strings.TrimSpace(npmRegistry) == "" {
		npmRegistry = defaultNpmRegistry
	}
	if strings.TrimSpace(pypiEndpoint) == "" {
		pypiEndpoint = defaultPyPIEndpoint
	}
	timeout := time.Duration(timeoutSec) * time.Second
	if timeout <= 0 {
		timeout = defaultFetchTimeout
	}
	if retries <= 0 {
		retries = defaultStoreRetries
	}
	retryDelay := time.Duration(retryDelayMs) * time.Millisecond
	if retryDelay <= 0 {
		retryDelay = defaultStoreRetryDelay
	}
	return FetcherAdapter{
		GoProxy:      strings.TrimRight(strings.TrimSpace(goProxy), "/"),
		NpmRegistry:  strings.TrimRight(strings.TrimSpace(npmRegistry), "/"),
		PyPIEndpoint: strings.TrimRight(strings.TrimSpace(pypiEndpoint), "/"),
		Timeout:      timeout,
		Retries:      retries,
		RetryDelay:   retryDelay,
	}
}

func (a FetcherAdapter) Fetch(ctx context.Context, spec types.FetchSpec) (ports.Artifact, error) {
	if spec.Kind == types.SourceKindLocal {
		return ports.Artifact{}, errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg("local dependencies travel with the source and are never fetched")
	}
	fetchURL := spec.URL
	if fetchURL == "" {
		composed, err := a.composeURL(ctx, spec.Dependency)
		if err != nil {
			return ports.Artifact{}, err
		}
		fetchURL = composed
	}
	body, err := a.download(ctx, fetchURL)
	if err != nil {
		return ports.Artifact{}, err
	}
	if err := verifyIntegrity(spec, body); err != nil {
		return ports.Artifact{}, err
	}
	sum := sha256.Sum256(body)
	return ports.Artifact{
		Bytes:    body,
		Checksum: hex.EncodeToString(sum[:]),
	}, nil
}

// composeURL builds the registry download URL from the dependency
// coordinates when the lock artifact did not resolve one.
func (a FetcherAdapter) composeURL(ctx context.Context, dep types.Dependency) (string, error) {
	switch dep.Type {
	case types.EcosystemGomod:
		escaped, err := escapeModulePath(dep.Name)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%s/%s/@v/%s.zip", a.GoProxy, escaped, url.PathEscape(dep.Version)), nil
	case types.EcosystemNpm:
		base := dep.Name
		if idx := strings.LastIndex(base, "/"); idx >= 0 {
			base = base[idx+1:]
		}
		return fmt.Sprintf("%s/%s/-/%s-%s.tgz", a.NpmRegistry, dep.Name, base, dep.Version), nil
	case types.EcosystemPip:
		return a.resolvePyPIURL(ctx, dep)
	default:
		return "", errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg(fmt.Sprintf("no upstream registry for %s dependencies", dep.Type))
	}
}

// escapeModulePath applies the module proxy's case encoding: every
// upper-case letter becomes '!' plus its lower-case form.
func escapeModulePath(path string) (string, error) {
	var builder strings.Builder
	for _, r := range path {
		if r == '!' {
			return "", errbuilder.New().
				WithCode(errbuilder.CodeInvalidArgument).
				WithMsg(fmt.Sprintf("invalid module path %q", path))
		}
		if r >= 'A' && r <= 'Z' {
			builder.WriteByte('!')
			builder.WriteRune(r + ('a' - 'A'))
			continue
		}
		builder.WriteRune(r)
	}
	return builder.String(), nil
}

// resolvePyPIURL asks the package index for the release metadata and
// picks the sdist URL, preferring it over wheels so the cache holds
// buildable sources.
func (a FetcherAdapter) resolvePyPIURL(ctx context.Context, dep types.Dependency) (string, error) {
	metaURL := fmt.Sprintf("%s/pypi/%s/%s/json", a.PyPIEndpoint, url.PathEscape(dep.Name), url.PathEscape(dep.Version))
	body, err := a.download(ctx, metaURL)
	if err != nil {
		return "", err
	}
	var payload struct {
		URLs []struct {
			PackageType string `json:"packagetype"`
			URL         string `json:"url"`
		} `json:"urls"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg("failed to parse package index metadata").
			WithCause(err)
	}
	var wheel string
	for _, entry := range payload.URLs {
		if entry.PackageType == "sdist" {
			return entry.URL, nil
		}
		if wheel == "" {
			wheel = entry.URL
		}
	}
	if wheel != "" {
		return wheel, nil
	}
	return "", errbuilder.New().
		WithCode(errbuilder.CodeNotFound).
		WithMsg(fmt.Sprintf("no downloadable artifact for %s %s", dep.Name, dep.Version))
}

func (a FetcherAdapter) download(ctx context.Context, fetchURL string) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt < a.Retries; attempt++ {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		body, retry, err := a.downloadOnce(ctx, fetchURL)
		if err == nil {
			return body, nil
		}
		lastErr = err
		if !retry || attempt == a.Retries-1 {
			return nil, err
		}
		time.Sleep(retryBackoff(a.RetryDelay, attempt))
	}
	return nil, lastErr
}

func (a FetcherAdapter) downloadOnce(ctx context.Context, fetchURL string) ([]byte, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fetchURL, nil)
	if err != nil {
		return nil, false, errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg("failed to create download request").
			WithCause(err)
	}
	client := &http.Client{Timeout: a.Timeout}
	resp, err := client.Do(req)
	if err != nil {
		return nil, true, errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg("dependency download failed").
			WithCause(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusOK {
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, true, errbuilder.New().
				WithCode(errbuilder.CodeInternal).
				WithMsg("dependency download failed").
				WithCause(err)
		}
		return body, false, nil
	}
	code := errbuilder.CodeInternal
	if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone {
		code = errbuilder.CodeNotFound
	}
	retry := resp.StatusCode >= http.StatusInternalServerError || resp.StatusCode == http.StatusTooManyRequests
	return nil, retry, errbuilder.New().
		WithCode(code).
		WithMsg("dependency download failed").
		WithCause(shared.HTTPStatusError(resp.StatusCode, fetchURL))
}

// verifyIntegrity checks the artifact bytes against the integrity
// value the lock artifact carried. Module hashes over a file tree
// cannot be recomputed from the archive bytes alone and are skipped.
func verifyIntegrity(spec types.FetchSpec, body []byte) error {
	integrity := strings.TrimSpace(spec.Integrity)
	if integrity == "" || strings.HasPrefix(integrity, "h1:") {
		return nil
	}
	var got string
	switch {
	case strings.HasPrefix(integrity, "sha256:"):
		sum := sha256.Sum256(body)
		got = "sha256:" + hex.EncodeToString(sum[:])
	case strings.HasPrefix(integrity, "sha512-"):
		sum := sha512.Sum512(body)
		got = "sha512-" + base64.StdEncoding.EncodeToString(sum[:])
	case strings.HasPrefix(integrity, "sha1-"):
		// Legacy lock entries; the coordinates still pin the artifact.
		return nil
	default:
		return nil
	}
	if got != integrity {
		return errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg(fmt.Sprintf("artifact for %s %s does not match its declared checksum", spec.Dependency.Name, spec.Dependency.Version))
	}
	return nil
}

func retryBackoff(base time.Duration, attempt int) time.Duration {
	delay := base * time.Duration(1<<attempt)
	if delay > maxStoreRetryDelay {
		delay = maxStoreRetryDelay
	}
	jitter := time.Duration(time.Now().UnixNano() % int64(delay/2+1))
	return delay + jitter
}

var _ ports.FetcherPort = FetcherAdapter{}
