package main

import (
	"context"
	"fmt"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"corpusdb/backend"
	"corpusdb/config"
	"corpusdb/corpuserr"
	"corpusdb/publishpipeline"
)

var publishCmd = &cobra.Command{
	Use:   "publish <build-dir> <name> <version>",
	Short: "Publish a new database version from a build directory",
	Args:  cobra.ExactArgs(3),
	RunE:  runPublish,
}

func init() {
	rootCmd.AddCommand(publishCmd)
	publishCmd.Flags().String("previous-version", "", "prior published version, for diffing")
	publishCmd.Flags().String("repository", "", "target repository name")
	publishCmd.Flags().StringSlice("media", nil, "build-relative media paths")
	publishCmd.Flags().StringSlice("tables", nil, "build-relative table paths")
	publishCmd.Flags().StringSlice("attachments", nil, "build-relative attachment paths")

	viper.BindPFlag("publish.previous_version", publishCmd.Flags().Lookup("previous-version"))
	viper.BindPFlag("publish.repository", publishCmd.Flags().Lookup("repository"))
	viper.BindPFlag("publish.media", publishCmd.Flags().Lookup("media"))
	viper.BindPFlag("publish.tables", publishCmd.Flags().Lookup("tables"))
	viper.BindPFlag("publish.attachments", publishCmd.Flags().Lookup("attachments"))
}

func runPublish(cmd *cobra.Command, args []string) error {
	buildDir, name, ver := args[0], args[1], args[2]
	cfg, res, _, err := loadRuntime()
	if err != nil {
		return err
	}

	repoName := viper.GetString("publish.repository")
	b, err := openPublishBackend(cfg, repoName)
	if err != nil {
		return err
	}

	media := viper.GetStringSlice("publish.media")
	bar := progressbar.Default(int64(len(media)), "packing media")
	defer bar.Close()

	result, err := publishpipeline.Run(context.Background(), publishpipeline.Request{
		BuildDir:        buildDir,
		Name:            name,
		Version:         ver,
		PreviousVersion: viper.GetString("publish.previous_version"),
		Repository:      repoName,
		Backend:         b,
		Workers:         viper.GetInt("workers"),
		Media:           media,
		Tables:          viper.GetStringSlice("publish.tables"),
		Attachments:     viper.GetStringSlice("publish.attachments"),
		Catalog:         res.Catalog,
	})
	if err != nil {
		return err
	}
	bar.Set(len(media))

	fmt.Printf("published %s@%s (%d media files)\n", name, result.Version, len(result.Table.Media()))
	return nil
}

func openPublishBackend(cfg *config.Config, repoName string) (backend.Backend, error) {
	for _, r := range cfg.Repositories {
		if r.Name == repoName {
			return backend.New(r.Backend, r.Host)
		}
	}
	return nil, &corpuserr.NotFoundError{Search: "repository " + repoName}
}
