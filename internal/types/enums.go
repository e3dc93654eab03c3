package types

type Ecosystem string

const (
	EcosystemGomod Ecosystem = "gomod"
	EcosystemNpm   Ecosystem = "npm"
	EcosystemPip   Ecosystem = "pip"
)

// Ecosystems is the closed set of supported package manager families.
// Adding an ecosystem means registering a resolver variant and
// extending this list; dispatch logic never changes.
var Ecosystems = []Ecosystem{EcosystemGomod, EcosystemNpm, EcosystemPip}

func (e Ecosystem) Valid() bool {
	switch e {
	case EcosystemGomod, EcosystemNpm, EcosystemPip:
		return true
	default:
		return false
	}
}

type RequestState string

const (
	RequestStateNotStarted RequestState = "not_started"
	RequestStateInProgress RequestState = "in_progress"
	RequestStateComplete   RequestState = "complete"
	RequestStateFailed     RequestState = "failed"
	RequestStateStale      RequestState = "stale"
)

// Terminal reports whether a request in this state will never be
// mutated again.
func (s RequestState) Terminal() bool {
	return s == RequestStateStale
}

// SourceKind classifies where a dependency artifact comes from.
type SourceKind string

const (
	SourceKindRegistry SourceKind = "registry"
	SourceKindVCS      SourceKind = "vcs"
	SourceKindURL      SourceKind = "url"
	SourceKindLocal    SourceKind = "local"
)

// EnvVarKind distinguishes literal environment values from values the
// bundle consumer must resolve relative to the final bundle layout.
type EnvVarKind string

const (
	EnvVarKindLiteral EnvVarKind = "literal"
	EnvVarKindPath    EnvVarKind = "path"
)

type RequestFlag string

const (
	FlagVendor        RequestFlag = "vendor"
	FlagStrictVendor  RequestFlag = "strict-vendor"
	FlagIncludeGitDir RequestFlag = "include-git-dir"
)

// Component names the subsystem a terminal failure originated in. The
// value surfaces verbatim in the request's state reason.
type Component string

const (
	ComponentResolver    Component = "resolver"
	ComponentFetcher     Component = "fetcher"
	ComponentProvisioner Component = "provisioner"
	ComponentSource      Component = "source"
	ComponentLifecycle   Component = "lifecycle"
)
