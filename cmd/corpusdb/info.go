package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	corpusinfo "corpusdb/info"
)

var infoCmd = &cobra.Command{
	Use:   "info <name>",
	Short: "Print header-level metadata for a database version",
	Args:  cobra.ExactArgs(1),
	RunE:  runInfo,
}

func init() {
	rootCmd.AddCommand(infoCmd)
	infoCmd.Flags().String("version", "", "version to inspect (default: latest)")
	infoCmd.Flags().Bool("duration", false, "also fetch the dependency table and print total duration and file count")
	viper.BindPFlag("info.version", infoCmd.Flags().Lookup("version"))
	viper.BindPFlag("info.duration", infoCmd.Flags().Lookup("duration"))
}

func runInfo(cmd *cobra.Command, args []string) error {
	_, res, cache, err := loadRuntime()
	if err != nil {
		return err
	}

	req := corpusinfo.Request{Name: args[0], Version: viper.GetString("info.version"), Cache: cache, Resolver: res}

	if !viper.GetBool("info.duration") {
		result, err := corpusinfo.Fetch(context.Background(), req)
		if err != nil {
			return err
		}
		printHeader(result)
		return nil
	}

	result, err := corpusinfo.WithDependencyTable(context.Background(), req)
	if err != nil {
		return err
	}
	printHeader(result)
	fmt.Printf("duration:    %.2fs\n", corpusinfo.Duration(result.Table))
	fmt.Printf("file count:  %d\n", corpusinfo.FileCount(result.Table))
	return nil
}

func printHeader(result *corpusinfo.Result) {
	fmt.Printf("name:        %s\n", result.Header.Name)
	fmt.Printf("version:     %s\n", result.Version)
	fmt.Printf("description: %s\n", result.Header.Description)
	fmt.Printf("languages:   %v\n", result.Header.Languages)
	fmt.Printf("tables:      %v\n", result.Header.TableNames())
}
