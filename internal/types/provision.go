package types

// CacheHandle names the shared, permanent cache structures of one
// ecosystem in the repository manager. Permanent caches are
// multi-writer and never torn down.
type CacheHandle struct {
	Ecosystem Ecosystem
	// Hosted is the content-addressed store for artifacts depvault
	// uploads itself (VCS checkouts, plain URLs, registry tarballs).
	Hosted string
	// Proxy is the pull-through group a staged view may fetch registry
	// content from before lockdown. Empty for ecosystems that resolve
	// everything ahead of time.
	Proxy string
}

// EphemeralPrincipal is the credential minted at lockdown. It can read
// exactly one request's staged views and nothing else.
type EphemeralPrincipal struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// ProvisionedRepository is the request-scoped staged view. Name is a
// deterministic function of the request identity so re-execution after
// a crash upserts rather than duplicates.
type ProvisionedRepository struct {
	Name      string             `json:"name"`
	Ecosystem Ecosystem          `json:"ecosystem"`
	URL       string             `json:"url"`
	Principal EphemeralPrincipal `json:"principal"`
	// Staged is the sorted coordinate set ("name@version") the view
	// was staged with; lockdown verification compares against it.
	Staged []string `json:"staged,omitempty"`
	// LockedDown is set once the view is frozen to its staged content
	// and restricted to the principal.
	LockedDown bool `json:"locked_down"`
}

// IngestOutcome reports whether an ingest stored new content or hit an
// existing content address. Existing content is trusted without byte
// comparison; that trust-on-first-cache tradeoff is deliberate.
type IngestOutcome string

const (
	IngestStored         IngestOutcome = "stored"
	IngestAlreadyPresent IngestOutcome = "already_present"
)
