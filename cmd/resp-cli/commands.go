package main

import (
	"bufio"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/pior/resp"
	"github.com/pior/resp/internal/config"
	"github.com/pior/resp/protocol"
)

var pingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Check the server answers PING",
	RunE: func(cmd *cobra.Command, args []string) error {
		conn := newConnection()
		defer conn.Close()

		start := time.Now()
		if err := conn.Ping(); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "PONG (%s)\n", time.Since(start).Round(time.Microsecond))
		return nil
	},
}

var execBlock bool

var execCmd = &cobra.Command{
	Use:   "exec <command> [args...]",
	Short: "Send one command and print its reply",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		conn := newConnection()
		defer conn.Close()

		run := func() error {
			if err := send(conn, args); err != nil {
				return err
			}
			reply, err := conn.ReadGeneric()
			if err != nil && !resp.IsDataError(err) {
				return err
			}
			printReply(cmd.OutOrStdout(), reply, err)
			return nil
		}

		if execBlock {
			return conn.WithInfiniteTimeout(run)
		}
		return run()
	},
}

var pipelineCmd = &cobra.Command{
	Use:   "pipeline",
	Short: "Send every command read from stdin in one round trip",
	Long:  "pipeline reads one command per line from stdin, sends them all, flushes once and prints every reply in order.",
	RunE: func(cmd *cobra.Command, args []string) error {
		conn := newConnection()
		defer conn.Close()

		count := 0
		scanner := bufio.NewScanner(cmd.InOrStdin())
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			cmdArgs, err := splitArgs(line)
			if err != nil {
				return fmt.Errorf("line %q: %w", line, err)
			}
			if err := send(conn, cmdArgs); err != nil {
				return err
			}
			count++
		}
		if err := scanner.Err(); err != nil {
			return err
		}

		results, err := conn.ReadBatch(count)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		for i, res := range results {
			reply, err := res.Value()
			fmt.Fprintf(out, "%d) ", i+1)
			printReply(out, reply, err)
		}
		return nil
	},
}

var replCmd = &cobra.Command{
	Use:   "repl",
	Short: "Interactive shell",
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		conn := newConnection()
		defer func() { conn.Close() }()

		fmt.Fprintf(out, "Connected to %s. Type quit to exit.\n", cfg.Endpoint().Addr())

		scanner := bufio.NewScanner(cmd.InOrStdin())
		for {
			fmt.Fprint(out, "> ")
			if !scanner.Scan() {
				return scanner.Err()
			}

			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}
			if line == "quit" || line == "exit" {
				return nil
			}

			cmdArgs, err := splitArgs(line)
			if err != nil {
				fmt.Fprintf(out, "(input error) %s\n", err)
				continue
			}

			if err := send(conn, cmdArgs); err != nil {
				printReply(out, protocol.Reply{}, err)
			} else {
				reply, err := conn.ReadGeneric()
				printReply(out, reply, err)
			}

			if conn.IsBroken() {
				// A broken connection is never reused
				conn.Close()
				conn = newConnection()
			}
		}
	},
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration as YAML",
	RunE: func(cmd *cobra.Command, args []string) error {
		out, err := config.Dump(cfg)
		if err != nil {
			return err
		}
		_, err = cmd.OutOrStdout().Write(out)
		return err
	},
}

func init() {
	execCmd.Flags().BoolVar(&execBlock, "block", false, "disable the read timeout, for blocking commands like BLPOP")

	rootCmd.AddCommand(pingCmd, execCmd, pipelineCmd, replCmd, configCmd)
}
