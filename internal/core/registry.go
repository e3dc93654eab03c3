package core

import (
	"context"
	"fmt"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/rs/zerolog/log"

	"depvault/internal/policies"
	"depvault/internal/ports"
	"depvault/internal/types"
)

// Registry dispatches resolution to the closed set of ecosystem
// resolvers. Adding an ecosystem means registering another variant
// here; the dispatch itself never changes.
type Registry struct {
	resolvers map[types.Ecosystem]ports.ResolverPort
	policy    policies.EcosystemPolicy
}

func NewRegistry(policy policies.EcosystemPolicy) Registry {
	resolvers := map[types.Ecosystem]ports.ResolverPort{}
	for _, resolver := range []ports.ResolverPort{
		NewGomodResolver(policy),
		NewNpmResolver(policy),
		NewPipResolver(policy),
	} {
		resolvers[resolver.Ecosystem()] = resolver
	}
	return Registry{resolvers: resolvers, policy: policy}
}

// Resolve runs the ecosystem's resolver against one package directory.
// When the ecosystem's declaration file is absent and policy says skip,
// it returns skipped=true instead of an error.
func (r Registry) Resolve(ctx context.Context, eco types.Ecosystem, in ports.ResolveInput) (res types.Resolution, skipped bool, err error) {
	resolver, ok := r.resolvers[eco]
	if !ok {
		return types.Resolution{}, false, errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg(fmt.Sprintf("unsupported package manager: %s", eco))
	}
	in.LocalAllowlist = r.policy.LocalAllowlist(eco)
	res, err = resolver.Resolve(ctx, in)
	if err != nil {
		if errbuilder.CodeOf(err) == errbuilder.CodeNotFound && r.policy.MissingManifest(eco) == policies.MissingManifestSkip {
			log.Ctx(ctx).Info().
				Str("ecosystem", string(eco)).
				Str("path", in.Path).
				Msg("manifest absent, skipping per policy")
			return types.Resolution{}, true, nil
		}
		return types.Resolution{}, false, err
	}
	log.Ctx(ctx).Debug().
		Str("ecosystem", string(eco)).
		Str("package", res.Package.Name).
		Int("dependencies", len(res.Dependencies)).
		Msg("package resolved")
	return res, false, nil
}
