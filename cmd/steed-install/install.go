package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/urfave/cli/v2"
	"k8s.io/klog/v2"

	"github.com/steed-rs/ngdp/ribbit"
	"github.com/steed-rs/ngdp/session"
)

func newCmdInstall() *cli.Command {
	return &cli.Command{
		Name:        "install",
		Usage:       "fetch and commit the files selected by --install-tags into a local data directory",
		Description: "Resolves a build from already-fetched Ribbit CDNS/Versions PSV text, opens (or creates) a CASC data directory, and commits every install-manifest file matching --install-tags.",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "data-dir", Required: true, Usage: "local CASC data directory"},
			&cli.StringFlag{Name: "region", Value: "us", Usage: "Ribbit region to select from the CDNS/Versions tables"},
			&cli.StringFlag{Name: "cdns-file", Required: true, Usage: "path to an already-fetched Ribbit CDNS PSV response"},
			&cli.StringFlag{Name: "versions-file", Required: true, Usage: "path to an already-fetched Ribbit Versions PSV response"},
			&cli.StringSliceFlag{Name: "install-tags", Usage: "tag names to AND-intersect when selecting install-manifest files (e.g. Windows,enUS)"},
			&cli.StringFlag{Name: "keys-file", Usage: "path to a TACT key-name/key text file for BLTE mode E content"},
		},
		Action: func(c *cli.Context) error {
			cdnsBody, err := os.ReadFile(c.String("cdns-file"))
			if err != nil {
				return fmt.Errorf("read cdns-file: %w", err)
			}
			versionsBody, err := os.ReadFile(c.String("versions-file"))
			if err != nil {
				return fmt.Errorf("read versions-file: %w", err)
			}

			cdnEntries, err := ribbit.ParseCDNS(string(cdnsBody))
			if err != nil {
				return fmt.Errorf("parse cdns: %w", err)
			}
			versionEntries, err := ribbit.ParseVersions(string(versionsBody))
			if err != nil {
				return fmt.Errorf("parse versions: %w", err)
			}

			region := c.String("region")
			cdnEntry, ok := ribbit.ForRegion(cdnEntries, region)
			if !ok {
				return fmt.Errorf("no cdns entry for region %q", region)
			}
			versionsEntry, ok := ribbit.ForRegion(versionEntries, region)
			if !ok {
				return fmt.Errorf("no versions entry for region %q", region)
			}

			opts := session.Options{
				DataDir:      c.String("data-dir"),
				Region:       region,
				InstallTags:  c.StringSlice("install-tags"),
				KeysPath:     c.String("keys-file"),
			}

			klog.Infof("installing build %s (region %s) via %s", versionsEntry.BuildConfig, region, strings.Join(cdnEntry.Servers, ","))

			sess, err := session.Open(c.Context, opts, cdnEntry, versionsEntry)
			if err != nil {
				return fmt.Errorf("open session: %w", err)
			}
			defer sess.Close()

			if err := sess.InstallSelected(c.Context); err != nil {
				return fmt.Errorf("install: %w", err)
			}

			klog.Info("install complete")
			return nil
		},
	}
}
