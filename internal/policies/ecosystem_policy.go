package policies

import (
	"fmt"
	"os"
	"strings"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"gopkg.in/yaml.v3"

	"depvault/internal/shared"
	"depvault/internal/types"
)

// MissingManifestAction decides what happens when a requested
// ecosystem's declaration file is absent from the source tree.
type MissingManifestAction string

const (
	MissingManifestFail MissingManifestAction = "fail"
	MissingManifestSkip MissingManifestAction = "skip"
)

type ecosystemRules struct {
	MissingManifest MissingManifestAction `yaml:"missing_manifest,omitempty"`
	// LocalAllowlist lists package names that may be declared as
	// local-path dependencies.
	LocalAllowlist []string `yaml:"local_allowlist,omitempty"`
	// StrictVendor fails a vendored request whose mirror disagrees
	// with the lock artifact instead of trusting the mirror.
	StrictVendor bool `yaml:"strict_vendor,omitempty"`
}

type policyFile struct {
	Ecosystems map[types.Ecosystem]ecosystemRules `yaml:"ecosystems"`
}

// EcosystemPolicy holds the per-ecosystem resolution policy knobs.
// The zero value fails on missing manifests, allows no local paths
// and is not strict about vendor mirrors.
type EcosystemPolicy struct {
	rules map[types.Ecosystem]ecosystemRules
}

func NewEcosystemPolicy() EcosystemPolicy {
	return EcosystemPolicy{rules: map[types.Ecosystem]ecosystemRules{}}
}

// LoadEcosystemPolicy reads a yaml policy file. Unknown ecosystems in
// the file are rejected so a typo cannot silently disable a control.
func LoadEcosystemPolicy(path string) (EcosystemPolicy, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return EcosystemPolicy{}, errbuilder.New().
			WithCode(errbuilder.CodeNotFound).
			WithMsg("failed to read policy file").
			WithCause(err)
	}
	var parsed policyFile
	if err := yaml.Unmarshal(raw, &parsed); err != nil {
		return EcosystemPolicy{}, errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg("failed to parse policy file").
			WithCause(err)
	}
	for eco := range parsed.Ecosystems {
		if !eco.Valid() {
			return EcosystemPolicy{}, errbuilder.New().
				WithCode(errbuilder.CodeInvalidArgument).
				WithMsg(fmt.Sprintf("policy file names unknown ecosystem: %s", eco))
		}
	}
	if parsed.Ecosystems == nil {
		parsed.Ecosystems = map[types.Ecosystem]ecosystemRules{}
	}
	return EcosystemPolicy{rules: parsed.Ecosystems}, nil
}

func (p EcosystemPolicy) MissingManifest(eco types.Ecosystem) MissingManifestAction {
	if rules, ok := p.rules[eco]; ok && rules.MissingManifest != "" {
		return rules.MissingManifest
	}
	return MissingManifestFail
}

// LocalAllowlist returns the package names permitted as local-path
// dependencies for the ecosystem. Pip names are normalized per PEP 503
// so allowlist entries match however the requirement spells the name.
func (p EcosystemPolicy) LocalAllowlist(eco types.Ecosystem) []string {
	rules, ok := p.rules[eco]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(rules.LocalAllowlist))
	for _, name := range rules.LocalAllowlist {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		if eco == types.EcosystemPip {
			name = shared.NormalizePipName(name)
		}
		out = append(out, name)
	}
	return out
}

func (p EcosystemPolicy) StrictVendor(eco types.Ecosystem) bool {
	rules, ok := p.rules[eco]
	return ok && rules.StrictVendor
}
