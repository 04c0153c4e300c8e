package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pior/resp"
	"github.com/pior/resp/internal/config"
	"github.com/pior/resp/internal/logger"
	"github.com/pior/resp/protocol"
)

var (
	configPath string
	cfg        config.Config
)

var rootCmd = &cobra.Command{
	Use:           "resp-cli",
	Short:         "Talk to a RESP server",
	Long:          "resp-cli sends commands to a Redis compatible server, one at a time, pipelined or as a benchmark.",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(configPath, cmd.Flags())
		if err != nil {
			return err
		}
		if err := logger.SetFormat(cfg.LogFormat); err != nil {
			return err
		}
		return logger.SetLevel(cfg.LogLevel)
	},
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&configPath, "config", "", "YAML configuration file")
	flags.String("host", "localhost", "server host")
	flags.Int("port", 6379, "server port")
	flags.Bool("tls", false, "connect with TLS")
	flags.Bool("insecure", false, "skip TLS certificate verification")
	flags.Duration("timeout", resp.DefaultTimeout, "read timeout, 0 blocks forever")
	flags.Duration("connect-timeout", resp.DefaultTimeout, "connect and TLS handshake timeout")
	flags.String("log-level", "info", "log level (debug, info, warn, error)")
	flags.String("log-format", "text", "log format (text, json)")
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newConnection() *resp.Connection {
	return resp.New(cfg.Endpoint(), resp.WithLogger(logger.Logger()))
}

// splitArgs splits a command line on spaces, keeping double quoted arguments whole.
func splitArgs(line string) ([]string, error) {
	var args []string
	var current strings.Builder
	inQuotes, hasArg := false, false

	for i := 0; i < len(line); i++ {
		ch := line[i]
		switch {
		case inQuotes && ch == '\\' && i+1 < len(line):
			i++
			current.WriteByte(line[i])
		case ch == '"':
			inQuotes = !inQuotes
			hasArg = true
		case !inQuotes && (ch == ' ' || ch == '\t'):
			if hasArg {
				args = append(args, current.String())
				current.Reset()
				hasArg = false
			}
		default:
			current.WriteByte(ch)
			hasArg = true
		}
	}
	if inQuotes {
		return nil, fmt.Errorf("unbalanced quotes")
	}
	if hasArg {
		args = append(args, current.String())
	}
	return args, nil
}

// send writes one command line on conn.
func send(conn *resp.Connection, args []string) error {
	return conn.SendCommandString(protocol.Cmd(strings.ToUpper(args[0])), args[1:]...)
}

// printReply prints a reply the way redis-cli does.
func printReply(w io.Writer, reply protocol.Reply, err error) {
	switch {
	case err == nil:
		fmt.Fprintln(w, reply.String())
	case resp.IsDataError(err):
		fmt.Fprintf(w, "(error) %s\n", err.Error())
	default:
		fmt.Fprintf(w, "(transport error) %s\n", err.Error())
	}
}
