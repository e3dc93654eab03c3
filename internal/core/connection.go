package core

import (
	"encoding/base64"
	"fmt"
	"net/url"
	"strings"

	"depvault/internal/types"
)

// buildConnectionInfo assembles whatever a build needs to install from
// the request's provisioned repositories: environment variables and
// rendered configuration files, plus the CA of the repository manager
// when one is configured. Path-typed values are resolved against the
// bundle layout by the consumer, never here.
func buildConnectionInfo(req types.Request, repos []types.ProvisionedRepository, caCert string) *types.ConnectionInfo {
	info := &types.ConnectionInfo{CACert: caCert}

	for _, pm := range req.PackageManagers {
		if pm.Type != types.EcosystemGomod {
			continue
		}
		info.EnvVars = append(info.EnvVars,
			types.EnvVar{Name: "GOPATH", Value: "deps/gomod", Kind: types.EnvVarKindPath},
			types.EnvVar{Name: "GOMODCACHE", Value: "deps/gomod/pkg/mod", Kind: types.EnvVarKindPath},
			types.EnvVar{Name: "GOSUMDB", Value: "off", Kind: types.EnvVarKindLiteral},
		)
		if req.HasFlag(types.FlagVendor) {
			info.EnvVars = append(info.EnvVars,
				types.EnvVar{Name: "GOFLAGS", Value: "-mod=vendor", Kind: types.EnvVarKindLiteral})
		}
		break
	}

	for _, repo := range repos {
		switch repo.Ecosystem {
		case types.EcosystemNpm:
			info.ConfigFiles = append(info.ConfigFiles, types.ConfigFile{
				Path:    ".npmrc",
				Content: base64.StdEncoding.EncodeToString([]byte(npmrcContent(repo))),
			})
		case types.EcosystemPip:
			info.EnvVars = append(info.EnvVars, types.EnvVar{
				Name:  "PIP_INDEX_URL",
				Value: pipIndexURL(repo),
				Kind:  types.EnvVarKindLiteral,
			})
		}
	}
	return info
}

// npmrcContent renders the registry pointer plus the scoped _auth
// token npm v9+ requires against the exact registry host.
func npmrcContent(repo types.ProvisionedRepository) string {
	token := base64.StdEncoding.EncodeToString(
		[]byte(repo.Principal.Username + ":" + repo.Principal.Password))
	schemeless := repo.URL
	if idx := strings.Index(schemeless, "://"); idx >= 0 {
		schemeless = schemeless[idx+1:]
	}
	return fmt.Sprintf("registry=%s\n%s:_auth=%s\n", repo.URL, schemeless, token)
}

// pipIndexURL embeds the ephemeral principal into the staged view's
// simple index URL.
func pipIndexURL(repo types.ProvisionedRepository) string {
	parsed, err := url.Parse(repo.URL)
	if err != nil || parsed.Host == "" {
		return strings.TrimRight(repo.URL, "/") + "/simple"
	}
	parsed.User = url.UserPassword(repo.Principal.Username, repo.Principal.Password)
	parsed.Path = strings.TrimRight(parsed.Path, "/") + "/simple"
	return parsed.String()
}
