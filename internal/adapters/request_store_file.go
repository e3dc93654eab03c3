package adapters

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ZanzyTHEbar/errbuilder-go"

	"depvault/internal/ports"
	"depvault/internal/types"
)

// RequestStoreFileAdapter persists request records as one JSON file
// per request. Writes go through a temp file and rename so readers
// never observe a torn record; the claim is an O_EXCL marker file so
// exactly one worker wins even across processes.
type RequestStoreFileAdapter struct {
	Dir string
}

func NewRequestStoreFileAdapter(dir string) RequestStoreFileAdapter {
	return RequestStoreFileAdapter{Dir: dir}
}

func (a RequestStoreFileAdapter) Create(ctx context.Context, req types.Request) error {
	if strings.TrimSpace(req.ID) == "" {
		return errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg("request id is empty")
	}
	if err := os.MkdirAll(a.Dir, 0o755); err != nil {
		return errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg("failed to create request store directory").
			WithCause(err)
	}
	if _, err := os.Stat(a.recordPath(req.ID)); err == nil {
		return errbuilder.New().
			WithCode(errbuilder.CodeAlreadyExists).
			WithMsg(fmt.Sprintf("request %s already exists", req.ID))
	}
	return a.write(req)
}

func (a RequestStoreFileAdapter) Get(ctx context.Context, id string) (types.Request, error) {
	data, err := os.ReadFile(a.recordPath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return types.Request{}, errbuilder.New().
				WithCode(errbuilder.CodeNotFound).
				WithMsg(fmt.Sprintf("request %s does not exist", id))
		}
		return types.Request{}, errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg("failed to read request record").
			WithCause(err)
	}
	var req types.Request
	if err := json.Unmarshal(data, &req); err != nil {
		return types.Request{}, errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg("failed to parse request record").
			WithCause(err)
	}
	return req, nil
}

func (a RequestStoreFileAdapter) Save(ctx context.Context, req types.Request) error {
	if _, err := a.Get(ctx, req.ID); err != nil {
		return err
	}
	return a.write(req)
}

func (a RequestStoreFileAdapter) Claim(ctx context.Context, id string) (types.Request, error) {
	req, err := a.Get(ctx, id)
	if err != nil {
		return types.Request{}, err
	}
	if req.State != types.RequestStateNotStarted {
		return types.Request{}, errbuilder.New().
			WithCode(errbuilder.CodeAlreadyExists).
			WithMsg(fmt.Sprintf("request %s is already %s", id, req.State))
	}
	// O_EXCL makes the claim a compare-and-set: the second worker's
	// create fails and it walks away.
	marker, err := os.OpenFile(a.claimPath(id), os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return types.Request{}, errbuilder.New().
				WithCode(errbuilder.CodeAlreadyExists).
				WithMsg(fmt.Sprintf("request %s is already claimed", id))
		}
		return types.Request{}, errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg("failed to claim request").
			WithCause(err)
	}
	_ = marker.Close()
	req.State = types.RequestStateInProgress
	req.StateReason = "the request is being processed"
	if err := a.write(req); err != nil {
		_ = os.Remove(a.claimPath(id))
		return types.Request{}, err
	}
	return req, nil
}

func (a RequestStoreFileAdapter) ReleaseClaim(ctx context.Context, id string) error {
	if err := os.Remove(a.claimPath(id)); err != nil && !os.IsNotExist(err) {
		return errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg("failed to release request claim").
			WithCause(err)
	}
	return nil
}

func (a RequestStoreFileAdapter) List(ctx context.Context, states ...types.RequestState) ([]types.Request, error) {
	entries, err := os.ReadDir(a.Dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg("failed to scan request store").
			WithCause(err)
	}
	wanted := map[types.RequestState]bool{}
	for _, state := range states {
		wanted[state] = true
	}
	var requests []types.Request
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		id := strings.TrimSuffix(entry.Name(), ".json")
		req, err := a.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if len(wanted) > 0 && !wanted[req.State] {
			continue
		}
		requests = append(requests, req)
	}
	sort.Slice(requests, func(i, j int) bool { return requests[i].ID < requests[j].ID })
	return requests, nil
}

func (a RequestStoreFileAdapter) write(req types.Request) error {
	data, err := json.MarshalIndent(req, "", "  ")
	if err != nil {
		return errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg("failed to encode request record").
			WithCause(err)
	}
	target := a.recordPath(req.ID)
	tmp := target + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg("failed to write request record").
			WithCause(err)
	}
	if err := os.Rename(tmp, target); err != nil {
		return errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg("failed to write request record").
			WithCause(err)
	}
	return nil
}

func (a RequestStoreFileAdapter) recordPath(id string) string {
	return filepath.Join(a.Dir, id+".json")
}

func (a RequestStoreFileAdapter) claimPath(id string) string {
	return filepath.Join(a.Dir, id+".claim")
}

var _ ports.RequestStorePort = RequestStoreFileAdapter{}
