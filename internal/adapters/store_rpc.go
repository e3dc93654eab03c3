package adapters

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ZanzyTHEbar/errbuilder-go"

	"depvault/internal/ports"
	"depvault/internal/types"
)

// StoreRPCAdapter speaks the repository manager's REST and script-run
// protocol. Mutations go through named server-side scripts so the
// manager applies each multi-step change atomically; reads use the
// plain REST resources.
type StoreRPCAdapter struct {
	Endpoint   string
	Username   string
	Password   string
	Timeout    time.Duration
	Retries    int
	RetryDelay time.Duration
}

const defaultStoreTimeout = 60 * time.Second
const defaultStoreRetries = 3
const defaultStoreRetryDelay = 200 * time.Millisecond
const maxStoreRetryDelay = 2 * time.Second

func NewStoreRPCAdapter(endpoint string, username string, password string, timeoutSec int, retries int, retryDelayMs int) StoreRPCAdapter {
	timeout := time.Duration(timeoutSec) * time.Second
	if timeout <= 0 {
		timeout = defaultStoreTimeout
	}
	if retries <= 0 {
		retries = defaultStoreRetries
	}
	retryDelay := time.Duration(retryDelayMs) * time.Millisecond
	if retryDelay <= 0 {
		retryDelay = defaultStoreRetryDelay
	}
	return StoreRPCAdapter{
		Endpoint:   strings.TrimRight(strings.TrimSpace(endpoint), "/"),
		Username:   username,
		Password:   password,
		Timeout:    timeout,
		Retries:    retries,
		RetryDelay: retryDelay,
	}
}

func (a StoreRPCAdapter) BaseURL() string {
	return a.Endpoint
}

func (a StoreRPCAdapter) RunScript(ctx context.Context, name string, args ports.ScriptArgs) error {
	if strings.TrimSpace(a.Endpoint) == "" {
		return errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg("store endpoint is empty")
	}
	if strings.TrimSpace(name) == "" {
		return errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg("script name is empty")
	}
	payload, err := json.Marshal(args)
	if err != nil {
		return errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg("failed to encode script arguments").
			WithCause(err)
	}
	scriptURL := fmt.Sprintf("%s/service/rest/v1/script/%s/run", a.Endpoint, url.PathEscape(name))
	_, err = a.doWithRetry(ctx, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, scriptURL, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	}, fmt.Sprintf("script %s failed", name))
	return err
}

func (a StoreRPCAdapter) GetRepository(ctx context.Context, name string) (ports.RepositoryView, bool, error) {
	if strings.TrimSpace(name) == "" {
		return ports.RepositoryView{}, false, errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg("repository name is empty")
	}
	repoURL := fmt.Sprintf("%s/service/rest/v1/repositories/%s", a.Endpoint, url.PathEscape(name))
	body, err := a.doWithRetry(ctx, func(ctx context.Context) (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, repoURL, nil)
	}, "repository read failed")
	if err != nil {
		if errbuilder.CodeOf(err) == errbuilder.CodeNotFound {
			return ports.RepositoryView{}, false, nil
		}
		return ports.RepositoryView{}, false, err
	}
	var payload struct {
		Name       string `json:"name"`
		URL        string `json:"url"`
		Attributes struct {
			Locked bool `json:"locked"`
		} `json:"attributes"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return ports.RepositoryView{}, false, errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg("failed to parse repository description").
			WithCause(err)
	}
	components, err := a.listComponents(ctx, name)
	if err != nil {
		return ports.RepositoryView{}, false, err
	}
	return ports.RepositoryView{
		Name:       payload.Name,
		URL:        payload.URL,
		Locked:     payload.Attributes.Locked,
		Components: components,
	}, true, nil
}

func (a StoreRPCAdapter) ComponentExists(ctx context.Context, repository string, format types.Ecosystem, name, version string) (bool, error) {
	if strings.TrimSpace(repository) == "" || strings.TrimSpace(name) == "" {
		return false, errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg("component search needs a repository and a name")
	}
	query := url.Values{}
	query.Set("repository", repository)
	query.Set("format", string(format))
	query.Set("name", name)
	if version != "" {
		query.Set("version", version)
	}
	searchURL := fmt.Sprintf("%s/service/rest/v1/search?%s", a.Endpoint, query.Encode())
	body, err := a.doWithRetry(ctx, func(ctx context.Context) (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, searchURL, nil)
	}, "component search failed")
	if err != nil {
		return false, err
	}
	var payload struct {
		Items []struct {
			Name string `json:"name"`
		} `json:"items"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return false, errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg("failed to parse component search result").
			WithCause(err)
	}
	return len(payload.Items) > 0, nil
}

func (a StoreRPCAdapter) Upload(ctx context.Context, c ports.UploadComponent) error {
	if strings.TrimSpace(c.Repository) == "" {
		return errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg("upload repository is empty")
	}
	if len(c.Artifact) == 0 {
		return errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg("upload artifact is empty")
	}
	uploadURL := fmt.Sprintf("%s/service/rest/v1/components?repository=%s", a.Endpoint, url.QueryEscape(c.Repository))
	_, err := a.doWithRetry(ctx, func(ctx context.Context) (*http.Request, error) {
		var buf bytes.Buffer
		writer := multipart.NewWriter(&buf)
		field := fmt.Sprintf("%s.asset", c.Format)
		part, err := writer.CreateFormFile(field, componentFilename(c))
		if err != nil {
			return nil, err
		}
		if _, err := part.Write(c.Artifact); err != nil {
			return nil, err
		}
		fields := map[string]string{
			fmt.Sprintf("%s.name", c.Format):     c.Name,
			fmt.Sprintf("%s.version", c.Format):  c.Version,
			fmt.Sprintf("%s.checksum", c.Format): c.Checksum,
		}
		for key, value := range fields {
			if value == "" {
				continue
			}
			if err := writer.WriteField(key, value); err != nil {
				return nil, err
			}
		}
		if err := writer.Close(); err != nil {
			return nil, err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, uploadURL, bytes.NewReader(buf.Bytes()))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", writer.FormDataContentType())
		return req, nil
	}, "component upload failed")
	return err
}

func componentFilename(c ports.UploadComponent) string {
	name := strings.NewReplacer("/", "-", "@", "").Replace(c.Name)
	return fmt.Sprintf("%s-%s", name, c.Version)
}

// listComponents pages through the search API until the continuation
// token runs out.
func (a StoreRPCAdapter) listComponents(ctx context.Context, repository string) ([]string, error) {
	var components []string
	token := ""
	for {
		query := url.Values{}
		query.Set("repository", repository)
		if token != "" {
			query.Set("continuationToken", token)
		}
		searchURL := fmt.Sprintf("%s/service/rest/v1/components?%s", a.Endpoint, query.Encode())
		body, err := a.doWithRetry(ctx, func(ctx context.Context) (*http.Request, error) {
			return http.NewRequestWithContext(ctx, http.MethodGet, searchURL, nil)
		}, "component listing failed")
		if err != nil {
			return nil, err
		}
		var payload struct {
			Items []struct {
				Name    string `json:"name"`
				Version string `json:"version"`
			} `json:"items"`
			ContinuationToken string `json:"continuationToken"`
		}
		if err := json.Unmarshal(body, &payload); err != nil {
			return nil, errbuilder.New().
				WithCode(errbuilder.CodeInternal).
				WithMsg("failed to parse component listing").
				WithCause(err)
		}
		for _, item := range payload.Items {
			components = append(components, fmt.Sprintf("%s@%s", item.Name, item.Version))
		}
		if payload.ContinuationToken == "" {
			return components, nil
		}
		token = payload.ContinuationToken
	}
}

// doWithRetry issues the request, retrying server errors and rate
// limits with bounded exponential backoff. The request is rebuilt per
// attempt because bodies are single-use.
func (a StoreRPCAdapter) doWithRetry(ctx context.Context, build func(context.Context) (*http.Request, error), failMsg string) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt < a.Retries; attempt++ {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		body, retry, err := a.doOnce(ctx, build, failMsg)
		if err == nil {
			return body, nil
		}
		lastErr = err
		if !retry || attempt == a.Retries-1 {
			return nil, err
		}
		time.Sleep(a.retryDelay(attempt))
	}
	return nil, lastErr
}

func (a StoreRPCAdapter) doOnce(ctx context.Context, build func(context.Context) (*http.Request, error), failMsg string) ([]byte, bool, error) {
	req, err := build(ctx)
	if err != nil {
		return nil, false, errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg("failed to create store request").
			WithCause(err)
	}
	if strings.TrimSpace(a.Username) != "" {
		req.SetBasicAuth(a.Username, a.Password)
	}
	client := &http.Client{Timeout: a.Timeout}
	resp, err := client.Do(req)
	if err != nil {
		return nil, true, errbuilder.New().
			WithCode(errbuilder.CodeUnavailable).
			WithMsg(failMsg).
			WithCause(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return body, false, nil
	}
	message := strings.TrimSpace(string(body))
	if resp.StatusCode == http.StatusNotFound {
		return nil, false, errbuilder.New().
			WithCode(errbuilder.CodeNotFound).
			WithMsg(failMsg).
			WithCause(fmt.Errorf("status=%d url=%s response=%s", resp.StatusCode, req.URL, message))
	}
	// The manager answers 409 when a component with the same coordinates
	// already exists. Callers racing to insert treat that as success.
	if resp.StatusCode == http.StatusConflict {
		return nil, false, errbuilder.New().
			WithCode(errbuilder.CodeAlreadyExists).
			WithMsg(failMsg).
			WithCause(fmt.Errorf("status=%d url=%s response=%s", resp.StatusCode, req.URL, message))
	}
	retry := resp.StatusCode >= http.StatusInternalServerError || resp.StatusCode == http.StatusTooManyRequests
	code := errbuilder.CodeInternal
	if retry {
		code = errbuilder.CodeUnavailable
	}
	return nil, retry, errbuilder.New().
		WithCode(code).
		WithMsg(failMsg).
		WithCause(fmt.Errorf("status=%d url=%s response=%s", resp.StatusCode, req.URL, message))
}

func (a StoreRPCAdapter) retryDelay(attempt int) time.Duration {
	delay := a.RetryDelay * time.Duration(1<<attempt)
	if delay > maxStoreRetryDelay {
		delay = maxStoreRetryDelay
	}
	jitter := time.Duration(time.Now().UnixNano() % int64(delay/2+1))
	return delay + jitter
}

var _ ports.StoreClientPort = StoreRPCAdapter{}
