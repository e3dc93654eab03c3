package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"depvault/internal/app"
	"depvault/internal/types"
)

type submitOptions struct {
	RepoURL         string
	Ref             string
	PackageManagers []string
	Replacements    []string
	Flags           []string
}

func newSubmitCommand() *cobra.Command {
	opts := submitOptions{}
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit a new dependency caching request",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSubmit(cmd.Context(), cmd, opts)
		},
	}
	cmd.Flags().StringVar(&opts.RepoURL, "repo", "", "Source repository URL")
	cmd.Flags().StringVar(&opts.Ref, "ref", "", "Commit to process")
	cmd.Flags().StringSliceVar(&opts.PackageManagers, "package-manager", nil, "Package manager as type[:path], repeatable")
	cmd.Flags().StringSliceVar(&opts.Replacements, "replace", nil, "Replacement as type:name@version=newname@newversion, repeatable")
	cmd.Flags().StringSliceVar(&opts.Flags, "flag", nil, "Request flags")
	_ = viper.BindPFlag("repo", cmd.Flags().Lookup("repo"))
	_ = viper.BindPFlag("ref", cmd.Flags().Lookup("ref"))
	return cmd
}

func runSubmit(ctx context.Context, cmd *cobra.Command, opts submitOptions) error {
	service, err := newAppService()
	if err != nil {
		return err
	}
	managers, err := parsePackageManagers(opts.PackageManagers)
	if err != nil {
		return err
	}
	replacements, err := parseReplacements(opts.Replacements)
	if err != nil {
		return err
	}
	var flags []types.RequestFlag
	for _, flag := range opts.Flags {
		flags = append(flags, types.RequestFlag(flag))
	}
	result, err := service.Submit(ctx, app.SubmitRequest{
		RepoURL:         resolveString(cmd, opts.RepoURL, "repo", "repo"),
		Ref:             resolveString(cmd, opts.Ref, "ref", "ref"),
		PackageManagers: managers,
		Replacements:    replacements,
		Flags:           flags,
	})
	if err != nil {
		return err
	}
	fmt.Printf("submitted: %s (%s)\n", result.RequestID, result.State)
	return nil
}

// parsePackageManagers parses "type" or "type:path" declarations.
func parsePackageManagers(values []string) ([]types.PackageManagerInput, error) {
	var managers []types.PackageManagerInput
	for _, value := range values {
		kind, path, _ := strings.Cut(value, ":")
		eco := types.Ecosystem(strings.TrimSpace(kind))
		if !eco.Valid() {
			return nil, errbuilder.New().
				WithCode(errbuilder.CodeInvalidArgument).
				WithMsg(fmt.Sprintf("unsupported package manager: %s", kind))
		}
		managers = append(managers, types.PackageManagerInput{Type: eco, Path: strings.TrimSpace(path)})
	}
	return managers, nil
}

// parseReplacements parses "type:name@version=newname@newversion"
// directives; the new name may be omitted to keep the original.
func parseReplacements(values []string) ([]types.ReplacementDirective, error) {
	var directives []types.ReplacementDirective
	for _, value := range values {
		kind, rest, ok := strings.Cut(value, ":")
		if !ok {
			return nil, invalidReplacement(value)
		}
		from, to, ok := strings.Cut(rest, "=")
		if !ok {
			return nil, invalidReplacement(value)
		}
		name, version, ok := cutLast(from, "@")
		if !ok {
			return nil, invalidReplacement(value)
		}
		newName, newVersion, ok := cutLast(to, "@")
		if !ok {
			newName, newVersion = "", to
		}
		directives = append(directives, types.ReplacementDirective{
			Type:       types.Ecosystem(strings.TrimSpace(kind)),
			Name:       strings.TrimSpace(name),
			Version:    strings.TrimSpace(version),
			NewName:    strings.TrimSpace(newName),
			NewVersion: strings.TrimSpace(newVersion),
		})
	}
	return directives, nil
}

// cutLast splits on the last occurrence so scoped npm names keep
// their leading @.
func cutLast(value string, sep string) (string, string, bool) {
	idx := strings.LastIndex(value, sep)
	if idx <= 0 {
		return "", "", false
	}
	return value[:idx], value[idx+len(sep):], true
}

func invalidReplacement(value string) error {
	return errbuilder.New().
		WithCode(errbuilder.CodeInvalidArgument).
		WithMsg(fmt.Sprintf("invalid replacement directive: %s", value))
}
