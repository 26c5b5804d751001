package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/sw33tLie/nstg/internal/utils"

	homedir "github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

var cfgFile string

const (
	LOGO = `	             _        
	 _ __  ___| |_ __ _ 
	| '_ \/ __| __/ _' |
	| | | \__ \ || (_| |
	|_| |_|___/\__\__, |
	              |___/ 
`
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "nstg",
	Short: "A NationStates API telegram campaign runner.",
	Long: LOGO + `nstg resolves recipient lists (regions, tags, World Assembly lists, live
monitors) and sends API telegrams to them at the cadence NationStates allows.`,
	CompletionOptions: cobra.CompletionOptions{
		DisableDefaultCmd: true,
	},
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.nstg.yaml)")

	// Global flags
	rootCmd.PersistentFlags().StringP("loglevel", "l", "info", "Set log level. Available: debug, info, warn, error, fatal")
	rootCmd.PersistentFlags().String("useragent", "", "User agent identifying you to NationStates (usually your main nation)")
	rootCmd.PersistentFlags().String("cache", "", "Path to the SQLite snapshot cache (default is $HOME/.config/nstg/cache.sqlite)")

	viper.BindPFlag("nationstates.useragent", rootCmd.PersistentFlags().Lookup("useragent"))
	viper.BindPFlag("cache.path", rootCmd.PersistentFlags().Lookup("cache"))
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	// Defaults are set first so a freshly created config file lists every key
	viper.SetDefault("nationstates.useragent", "")
	viper.SetDefault("telegram.client", "")
	viper.SetDefault("telegram.tgid", "")
	viper.SetDefault("telegram.secret", "")
	viper.SetDefault("cache.path", "")
	viper.SetDefault("cache.ttl", "1h")
	viper.SetDefault("monitor.interval", "30s")

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := homedir.Dir()
		if err != nil {
			fmt.Println(err)
			os.Exit(1)
		}
		viper.AddConfigPath(home)
		viper.SetConfigName(".nstg")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("nstg")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// If a config file is found, read it in.
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			// Config file not found; create it with defaults.
			home, _ := homedir.Dir()
			configPath := home + "/.nstg.yaml"
			if err := viper.SafeWriteConfigAs(configPath); err != nil {
				fmt.Printf("Error creating config file: %s", err)
			}
		}
	}

	// Init log library
	levelString, _ := rootCmd.PersistentFlags().GetString("loglevel")
	utils.SetLogLevel(levelString)
}
