package cmd

import (
	"fmt"
	"os"

	homedir "github.com/mitchellh/go-homedir"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cfgFile string
var force bool

var rootCmd = &cobra.Command{
	Use:   "fusion",
	Short: "fusion - operate a sensor-fusion pipeline core",
	Long: `fusion builds and runs a Pipeline from a topology document, drives
a running pipeline's control surface, and scaffolds new leaf-node packages.`,
}

// Execute runs the root command, exiting the process on error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.fusion.yaml)")
	rootCmd.PersistentFlags().BoolVar(&force, "force", false, "override files when scaffolding")
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := homedir.Dir()
		if err != nil {
			fmt.Println(err)
			os.Exit(1)
		}

		viper.AddConfigPath(home)
		viper.SetConfigName(".fusion")
	}

	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Println("using config file:", viper.ConfigFileUsed())
	}
}
