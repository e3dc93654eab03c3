package app

import (
	"time"

	"depvault/internal/adapters"
	"depvault/internal/core"
	"depvault/internal/policies"
	"depvault/internal/ports"
	"depvault/internal/types"
)

// Config carries everything the service needs from the environment:
// the repository manager endpoint, the upstream registries to cache
// from, and where request records and checkouts live.
type Config struct {
	StoreEndpoint    string
	StoreUsername    string
	StorePassword    string
	RepoPrefix       string
	DataDir          string
	WorkDir          string
	GoProxy          string
	NpmRegistry      string
	PyPIEndpoint     string
	PolicyFile       string
	CACert           string
	Workers          int
	LifetimeHours    int
	StuckHours       int
	HTTPTimeoutSec   int
	HTTPRetries      int
	HTTPRetryDelayMs int
}

type Service struct {
	Requests    ports.RequestStorePort
	Source      ports.SourcePort
	Registry    core.Registry
	Fetcher     ports.FetcherPort
	Provisioner ports.ProvisionerPort
	Clock       ports.ClockPort
	Config      Config
}

func NewService(cfg Config) (Service, error) {
	policy := policies.NewEcosystemPolicy()
	if cfg.PolicyFile != "" {
		loaded, err := policies.LoadEcosystemPolicy(cfg.PolicyFile)
		if err != nil {
			return Service{}, err
		}
		policy = loaded
	}
	client := adapters.NewStoreRPCAdapter(
		cfg.StoreEndpoint, cfg.StoreUsername, cfg.StorePassword,
		cfg.HTTPTimeoutSec, cfg.HTTPRetries, cfg.HTTPRetryDelayMs)
	registries := map[types.Ecosystem]string{
		types.EcosystemGomod: cfg.GoProxy,
		types.EcosystemNpm:   cfg.NpmRegistry,
		types.EcosystemPip:   cfg.PyPIEndpoint,
	}
	return Service{
		Requests: adapters.NewRequestStoreFileAdapter(cfg.DataDir),
		Source:   adapters.NewSourceGitAdapter(cfg.WorkDir),
		Registry: core.NewRegistry(policy),
		Fetcher: adapters.NewFetcherAdapter(
			cfg.GoProxy, cfg.NpmRegistry, cfg.PyPIEndpoint,
			cfg.HTTPTimeoutSec, cfg.HTTPRetries, cfg.HTTPRetryDelayMs),
		Provisioner: core.NewProvisioner(client, cfg.RepoPrefix, registries),
		Clock:       time.Now,
		Config:      cfg,
	}, nil
}

func (s Service) orchestrator() core.Orchestrator {
	return core.Orchestrator{
		Requests:    s.Requests,
		Source:      s.Source,
		Registry:    s.Registry,
		Fetcher:     s.Fetcher,
		Provisioner: s.Provisioner,
		Clock:       s.Clock,
		CACert:      s.Config.CACert,
		Workers:     s.Config.Workers,
	}
}
