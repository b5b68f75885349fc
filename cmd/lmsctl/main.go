// lmsctl is a command line client for the LMS API. It keeps the session in
// an encrypted credentials file (or Redis) and refreshes it transparently.
package main

import (
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/lmsapp/lmsauth/client"
)

// cli carries the state shared by every subcommand of one invocation
type cli struct {
	v       *viper.Viper
	cfgFile string
	cfg     *Config
	session *client.Session
	closer  io.Closer
}

func newRootCmd() *cobra.Command {
	c := &cli{v: viper.New()}

	root := &cobra.Command{
		Use:           "lmsctl",
		Short:         "LMS API client",
		Long:          "Command line client for the LMS API with automatic token refresh",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(c.v, c.cfgFile)
			if err != nil {
				return err
			}
			c.cfg = cfg
			if !needsSession(cmd) {
				return nil
			}
			c.session, c.closer, err = openSession(cfg, cmd.ErrOrStderr())
			return err
		},
		PersistentPostRunE: func(*cobra.Command, []string) error {
			if c.closer != nil {
				return c.closer.Close()
			}
			return nil
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&c.cfgFile, "config", "", "Config file (default $HOME/.config/lmsctl/config.yaml)")
	flags.String("base-url", "", "API base URL (env LMS_BASE_URL)")
	flags.String("store", "", "Credential store: fs or redis (env LMS_STORE)")
	flags.String("store-path", "", "Encrypted credentials file for the fs store")
	flags.String("redis-addr", "", "Redis address for the redis store")
	flags.String("redis-prefix", "", "Redis key prefix for the redis store")
	flags.Duration("debounce", 0, "Minimum gap between session-ended notices")
	flags.BoolP("verbose", "v", false, "Log pipeline activity")
	for key, flag := range map[string]string{
		"base_url":     "base-url",
		"store":        "store",
		"store_path":   "store-path",
		"redis_addr":   "redis-addr",
		"redis_prefix": "redis-prefix",
		"debounce":     "debounce",
		"verbose":      "verbose",
	} {
		_ = c.v.BindPFlag(key, flags.Lookup(flag))
	}

	root.AddCommand(
		c.loginCmd(),
		c.logoutCmd(),
		c.signupCmd(),
		c.statusCmd(),
		c.refreshCmd(),
		c.getCmd(),
		c.resetCmd(),
		c.configCmd(),
	)
	return root
}

// needsSession is false for commands that only print configuration
func needsSession(cmd *cobra.Command) bool {
	return cmd.Annotations["session"] != "none"
}

func main() {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		root.PrintErrln("Error:", err)
		os.Exit(1)
	}
}
