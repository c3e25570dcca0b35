package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"corpusdb/flavor"
	"corpusdb/loadpipeline"
)

var loadCmd = &cobra.Command{
	Use:   "load <name>",
	Short: "Load a database version into the local cache",
	Args:  cobra.ExactArgs(1),
	RunE:  runLoad,
}

func init() {
	rootCmd.AddCommand(loadCmd)
	loadCmd.Flags().String("version", "", "version to load (default: latest)")
	loadCmd.Flags().Int32("bit-depth", 0, "flavor: target PCM bit depth")
	loadCmd.Flags().Int32("sampling-rate", 0, "flavor: target sample rate in Hz")
	loadCmd.Flags().String("format", "", "flavor: target file format")
	loadCmd.Flags().Bool("mixdown", false, "flavor: mix down to mono")

	viper.BindPFlag("load.version", loadCmd.Flags().Lookup("version"))
	viper.BindPFlag("load.bit_depth", loadCmd.Flags().Lookup("bit-depth"))
	viper.BindPFlag("load.sampling_rate", loadCmd.Flags().Lookup("sampling-rate"))
	viper.BindPFlag("load.format", loadCmd.Flags().Lookup("format"))
	viper.BindPFlag("load.mixdown", loadCmd.Flags().Lookup("mixdown"))
}

func runLoad(cmd *cobra.Command, args []string) error {
	name := args[0]
	_, res, cache, err := loadRuntime()
	if err != nil {
		return err
	}

	spec, err := flavor.New(flavor.Spec{
		BitDepth:     int32(viper.GetInt("load.bit_depth")),
		SamplingRate: int32(viper.GetInt("load.sampling_rate")),
		Format:       viper.GetString("load.format"),
		Mixdown:      viper.GetBool("load.mixdown"),
	})
	if err != nil {
		return err
	}

	result, err := loadpipeline.Run(context.Background(), loadpipeline.Request{
		Name:     name,
		Version:  viper.GetString("load.version"),
		Flavor:   spec,
		Workers:  viper.GetInt("workers"),
		Cache:    cache,
		Resolver: res,
	})
	if err != nil {
		return err
	}

	fmt.Printf("loaded %s@%s into %s\n", name, result.Version, result.Dir)
	return nil
}
