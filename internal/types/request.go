package types

import "time"

// PackageManagerInput is one package manager configuration declared on
// a request: which ecosystem to run and where in the source tree.
type PackageManagerInput struct {
	Type Ecosystem `json:"type"`
	// Path is the package directory relative to the repository root.
	// Empty means the repository root.
	Path string `json:"path,omitempty"`
}

// ReplacementDirective is a user-supplied substitution of a resolved
// dependency's locator. It is matched against the resolved graph by
// name and version; a directive that matches nothing fails the
// affected package manager with a replacement conflict.
type ReplacementDirective struct {
	Type       Ecosystem `json:"type"`
	Name       string    `json:"name"`
	Version    string    `json:"version"`
	NewName    string    `json:"new_name,omitempty"`
	NewVersion string    `json:"new_version,omitempty"`
}

// Request is the persisted unit of work. Only the lifecycle
// orchestrator mutates State and StateReason; every other component
// reports outcomes to it. Once State is stale the record is immutable.
type Request struct {
	ID              string                 `json:"id"`
	RepoURL         string                 `json:"repo"`
	Ref             string                 `json:"ref"`
	PackageManagers []PackageManagerInput  `json:"pkg_managers"`
	Replacements    []ReplacementDirective `json:"dependency_replacements,omitempty"`
	Flags           []RequestFlag          `json:"flags,omitempty"`

	State       RequestState `json:"state"`
	StateReason string       `json:"state_reason,omitempty"`
	Created     time.Time    `json:"created"`
	Updated     time.Time    `json:"updated"`

	Packages     []Package    `json:"packages,omitempty"`
	Dependencies []Dependency `json:"dependencies,omitempty"`

	// Connection holds whatever a build needs to consume the staged
	// views once the request is complete. Never populated on failure.
	Connection *ConnectionInfo `json:"connection,omitempty"`
}

func (r Request) HasFlag(flag RequestFlag) bool {
	for _, f := range r.Flags {
		if f == flag {
			return true
		}
	}
	return false
}

// EnvVar is a single environment variable a build must set to install
// from the provisioned repositories. Path values are resolved against
// the bundle layout by the consumer, not here.
type EnvVar struct {
	Name  string     `json:"name"`
	Value string     `json:"value"`
	Kind  EnvVarKind `json:"kind"`
}

// ConfigFile is a file the build drops into its checkout before
// installing, e.g. an .npmrc pointing at the request's staged view.
// Content is base64 encoded.
type ConfigFile struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

type ConnectionInfo struct {
	EnvVars     []EnvVar     `json:"env_vars,omitempty"`
	ConfigFiles []ConfigFile `json:"config_files,omitempty"`
	// CACert carries the PEM of the CA that signed the repository
	// manager's certificate, when one is configured.
	CACert string `json:"ca_cert,omitempty"`
}
