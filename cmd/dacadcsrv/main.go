// Command dacadcsrv communicates with DAC-ADC boxes and exposes an HTTP
// interface to them.  This enables a server-client architecture, and the
// clients can leverage the excellent HTTP libraries for any programming
// language.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/golang/glog"
	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/spf13/cobra"
	"go.bug.st/serial"
	yml "gopkg.in/yaml.v2"

	"github.com/cryolab/dacadc/archive"
	"github.com/cryolab/dacadc/client"
)

var (
	// Version is the version number.  Typically injected via ldflags with git build
	Version = "1"

	// ConfigFileName is what it sounds like
	ConfigFileName = "dacadcsrv.yml"
	k              = koanf.New(".")
)

func setupconfig() error {
	k.Load(structs.Provider(DefaultConfig(), "koanf"), nil)
	if err := k.Load(file.Provider(ConfigFileName), yaml.Parser()); err != nil {
		if !os.IsNotExist(err) && !strings.Contains(err.Error(), "no such") { // file missing, who cares
			return fmt.Errorf("error loading config: %w", err)
		}
	}
	return nil
}

func loadconfig() (Config, error) {
	c := Config{}
	if err := setupconfig(); err != nil {
		return c, err
	}
	return c, k.Unmarshal("", &c)
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dacadcsrv",
		Short: "dacadcsrv exposes DAC-ADC boxes over HTTP",
		Long: `dacadcsrv communicates with DAC-ADC boxes and exposes an HTTP interface to them.

dacadcsrv is amenable to configuration via its .yml file; run mkconf to
write the defaults.  No two nodes can have the same Endpoint.  Endpoints may
look like any variation of "cryo/dacadc" or "/cryo/dacadc/", the leading
slash is added and the trailing one removed by the server.`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// glog complains unless the go flag set has been parsed
			flag.CommandLine.Parse(nil)
		},
	}
	cmd.PersistentFlags().AddGoFlagSet(flag.CommandLine)
	cmd.PersistentFlags().StringVar(&ConfigFileName, "config", ConfigFileName, "configuration file")
	cmd.AddCommand(
		newRunCommand(),
		newMkconfCommand(),
		newConfCommand(),
		newVersionCommand(),
		newPortsCommand(),
		newStopCommand(),
		newIdnCommand(),
		newRampCommand(),
	)
	return cmd
}

func newRunCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Open every configured box and serve HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := loadconfig()
			if err != nil {
				return err
			}
			var db *archive.DB
			if c.Archive != "" {
				db, err = archive.Open(c.Archive)
				if err != nil {
					return err
				}
				defer db.Close()
			}
			mux, closers, err := BuildMux(c, db)
			defer func() {
				for _, cl := range closers {
					if err := cl.Close(); err != nil {
						glog.Warningf("closing box: %v", err)
					}
				}
			}()
			if err != nil {
				return err
			}

			srv := &http.Server{Addr: c.Addr, Handler: mux}
			sig := make(chan os.Signal, 1)
			signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
			go func() {
				<-sig
				glog.Info("shutting down")
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			glog.Infof("now listening for requests at %s", c.Addr)
			if err := srv.ListenAndServe(); err != http.ErrServerClosed {
				return err
			}
			return nil
		},
	}
}

func newMkconfCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "mkconf",
		Short: "Write the current configuration to the config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := loadconfig()
			if err != nil {
				return err
			}
			f, err := os.Create(ConfigFileName)
			if err != nil {
				return err
			}
			defer f.Close()
			return yml.NewEncoder(f).Encode(c)
		},
	}
}

func newConfCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "conf",
		Short: "Print the configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := loadconfig()
			if err != nil {
				return err
			}
			return yml.NewEncoder(cmd.OutOrStdout()).Encode(c)
		},
	}
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "dacadcsrv version %v\n", Version)
		},
	}
}

func newPortsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "ports",
		Short: "List the serial ports on this machine",
		RunE: func(cmd *cobra.Command, args []string) error {
			ports, err := serial.GetPortsList()
			if err != nil {
				return err
			}
			if len(ports) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no serial ports found")
			}
			for _, p := range ports {
				fmt.Fprintln(cmd.OutOrStdout(), p)
			}
			return nil
		},
	}
}

// nodeURL is the --url flag shared by the client commands
var nodeURL = "http://localhost:8000/dacadc"

func newStopCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop the ramp a node is running",
		RunE: func(cmd *cobra.Command, args []string) error {
			return client.New(nodeURL).StopRamp()
		},
	}
	cmd.Flags().StringVar(&nodeURL, "url", nodeURL, "URL of the node")
	return cmd
}

func newIdnCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "idn",
		Short: "Print the identification of a node's box",
		RunE: func(cmd *cobra.Command, args []string) error {
			idn, err := client.New(nodeURL).Identification()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), idn)
			return nil
		},
	}
	cmd.Flags().StringVar(&nodeURL, "url", nodeURL, "URL of the node")
	return cmd
}

func main() {
	defer glog.Flush()
	if err := newRootCommand().Execute(); err != nil {
		glog.Flush()
		os.Exit(1)
	}
}
