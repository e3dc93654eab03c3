package core

import (
	"fmt"

	"github.com/ZanzyTHEbar/errbuilder-go"

	"depvault/internal/types"
)

// applyReplacements rewrites resolved dependencies per the request's
// replacement directives for one ecosystem. A directive that matches
// nothing in the resolved graph is a conflict: the user asked for a
// substitution the build would never see.
//
// Ecosystem-native override mechanisms (e.g. go.mod replace) are
// resolved inside the resolvers before this runs and never appear in
// the Replaces bookkeeping.
func applyReplacements(eco types.Ecosystem, deps []types.Dependency, directives []types.ReplacementDirective) ([]types.Dependency, error) {
	matched := map[int]bool{}
	for i, directive := range directives {
		if directive.Type != eco {
			continue
		}
		for j := range deps {
			if deps[j].Name != directive.Name || deps[j].Version != directive.Version {
				continue
			}
			original := types.Replacement{
				Type:    deps[j].Type,
				Name:    deps[j].Name,
				Version: deps[j].Version,
			}
			if directive.NewName != "" {
				deps[j].Name = directive.NewName
			}
			if directive.NewVersion != "" {
				deps[j].Version = directive.NewVersion
			}
			deps[j].Replaces = &original
			matched[i] = true
		}
	}
	for i, directive := range directives {
		if directive.Type != eco || matched[i] {
			continue
		}
		return nil, errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg(fmt.Sprintf(
				"replacement %s@%s does not match any resolved %s dependency",
				directive.Name, directive.Version, eco))
	}
	return deps, nil
}
