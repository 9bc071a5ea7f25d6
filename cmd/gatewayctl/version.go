package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"runtime"
	"time"

	"github.com/hashicorp/go-version"
	"github.com/nulzo/gatewayctl/internal/cli"
	"github.com/nulzo/gatewayctl/internal/httpclient"
	"github.com/spf13/cobra"
)

var (
	// Version is set by build flags.
	Version = "v0.0.0"
	// GitCommit is set by build flags.
	GitCommit = "unknown"
)

const releasesURL = "https://api.github.com/repos/nulzo/gatewayctl/releases/latest"

type gitHubRelease struct {
	TagName string `json:"tag_name"`
}

func newVersionCmd(a *app) *cobra.Command {
	var check bool
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			printVersion(a.out)
			if !check {
				return nil
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
			defer cancel()
			latest, newer, err := checkForUpdates(ctx, httpclient.New(5*time.Second), releasesURL, Version)
			if err != nil {
				return fmt.Errorf("check for updates: %w", err)
			}
			if newer {
				_, _ = fmt.Fprintf(a.out, "%s a newer release is available: %s\n", cli.WarningSign(), latest)
			} else {
				_, _ = fmt.Fprintf(a.out, "%s up to date\n", cli.CheckMark())
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&check, "check", false, "compare against the latest published release")
	return cmd
}

func printVersion(w io.Writer) {
	_, _ = fmt.Fprintf(w, "gatewayctl %s\n", Version)
	_, _ = fmt.Fprintf(w, "Git Commit: %s\n", GitCommit)
	_, _ = fmt.Fprintf(w, "Go Version: %s\n", runtime.Version())
	_, _ = fmt.Fprintf(w, "OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
}

// checkForUpdates fetches the latest release tag from url and reports whether
// it is newer than current.
func checkForUpdates(ctx context.Context, client httpclient.HTTPClient, url, current string) (string, bool, error) {
	var release gitHubRelease
	if _, err := httpclient.SendRequest(ctx, client, http.MethodGet, url, nil, nil, &release); err != nil {
		return "", false, err
	}

	cur, err := version.NewVersion(current)
	if err != nil {
		return "", false, fmt.Errorf("parse current version %q: %w", current, err)
	}
	latest, err := version.NewVersion(release.TagName)
	if err != nil {
		return "", false, fmt.Errorf("parse release tag %q: %w", release.TagName, err)
	}
	return release.TagName, cur.LessThan(latest), nil
}
