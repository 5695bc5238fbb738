package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/xeloxa/WP-Hunter/internal/downloader"
)

var downloadFlags struct {
	svn          bool
	listVersions bool
}

var downloadCmd = &cobra.Command{
	Use:   "download <slug> [version]",
	Short: "Safely retrieve and extract one package",
	Long: `download fetches a plugin archive over HTTP and extracts it under the
plugins directory, or exports it from the plugin SVN repository with
--svn. Without a version argument the current release is used.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runDownload,
}

func init() {
	downloadCmd.Flags().BoolVar(&downloadFlags.svn, "svn", false, "export from plugins.svn.wordpress.org instead of HTTP")
	downloadCmd.Flags().BoolVar(&downloadFlags.listVersions, "list-versions", false, "list tagged versions in SVN and exit")
}

func runDownload(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	slug := args[0]
	version := ""
	if len(args) == 2 {
		version = args[1]
	}

	if downloadFlags.listVersions {
		svn := downloader.NewSVNClient(settings.PluginsDir, logger)
		versions, err := svn.ListVersions(ctx, slug)
		if err != nil {
			return err
		}
		for _, v := range versions {
			fmt.Println(v)
		}
		return nil
	}

	if downloadFlags.svn {
		svn := downloader.NewSVNClient(settings.PluginsDir, logger)
		dir, err := svn.Export(ctx, slug, version)
		if err != nil {
			return err
		}
		fmt.Printf("exported to %s\n", dir)
		return nil
	}

	api, facility := newAPIClient()
	defer facility.Close()

	link := ""
	if version != "" {
		link = fmt.Sprintf("https://downloads.wordpress.org/plugin/%s.%s.zip", slug, version)
	} else {
		rec, err := api.PluginInformation(ctx, slug)
		if err != nil {
			return fmt.Errorf("looking up %s: %w", slug, err)
		}
		link = rec.DownloadLink
	}
	if link == "" {
		return fmt.Errorf("no download link for %s", slug)
	}

	d := downloader.New(facility, settings.PluginsDir, logger)
	d.SetTimeout(settings.DownloadTimeout)
	dir, err := d.FetchAndExtract(ctx, link, slug)
	if err != nil {
		return err
	}
	fmt.Printf("extracted to %s\n", dir)
	return nil
}
