package types

// Package is a unit of source a package manager declares as buildable.
// Resolution creates it; nothing mutates it afterwards.
type Package struct {
	Type    Ecosystem `json:"type"`
	Name    string    `json:"name"`
	Version string    `json:"version"`
	// Path is the package directory relative to the repository root;
	// empty for the root package.
	Path string `json:"path,omitempty"`
	// Dependencies holds indexes into the request's deduplicated
	// dependency list, in resolution order.
	Dependencies []int `json:"dependencies,omitempty"`
}

// Dependency is one resolved dependency edge. Version is either a
// semantic version (registry dependency) or an opaque locator string
// (VCS ref, URL, local relative path); the distinction is ecosystem
// defined and is never re-interpreted outside the ecosystem's own
// resolver.
type Dependency struct {
	Type    Ecosystem `json:"type"`
	Name    string    `json:"name"`
	Version string    `json:"version"`
	// Dev is nil for ecosystems that cannot express the dev/non-dev
	// distinction; the flag is omitted rather than defaulted.
	Dev *bool `json:"dev,omitempty"`
	// Replaces records the original locator when a user-supplied
	// replacement directive rewrote this dependency. Ecosystem-native
	// replace mechanisms are resolved inside the resolver and never
	// appear here.
	Replaces *Replacement `json:"replaces,omitempty"`
}

// Key identifies the dependency for global deduplication: one key maps
// to exactly one permanently cached artifact.
func (d Dependency) Key() string {
	return string(d.Type) + "\x00" + d.Name + "\x00" + d.Version
}

// Replacement is the audit record of a user-directed substitution.
type Replacement struct {
	Type    Ecosystem `json:"type"`
	Name    string    `json:"name"`
	Version string    `json:"version"`
}

// FetchSpec tells the artifact fetcher how to retrieve one dependency
// that is not yet in the permanent cache.
type FetchSpec struct {
	Dependency Dependency
	Kind       SourceKind
	// URL is the artifact origin for registry, vcs and url kinds.
	// Local dependencies carry no URL; their content ships with the
	// source archive.
	URL string
	// Integrity is the checksum declared by the lock artifact in
	// "algorithm:hex" form, empty when the ecosystem does not pin one.
	Integrity string
}

// Resolution is the full outcome of one resolver invocation.
type Resolution struct {
	Package      Package
	Dependencies []Dependency
	Fetches      []FetchSpec
}
