// Command melvin is a thin CLI shell around the reasoning engine.
package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/Jak3Gil/melvin/pkg/melvin"
)

var (
	storeDir   string
	configPath string
)

func main() {
	root := &cobra.Command{
		Use:   "melvin",
		Short: "Graph-native associative reasoning engine",
	}
	root.PersistentFlags().StringVar(&storeDir, "store", "", "store directory (empty for in-memory)")
	root.PersistentFlags().StringVar(&configPath, "config", "", "YAML config file")

	root.AddCommand(reasonCmd(), learnCmd(), statsCmd(), maintainCmd(), replCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func openEngine() (*melvin.Engine, error) {
	cfg := melvin.DefaultConfig()
	if configPath != "" {
		loaded, err := melvin.LoadConfig(configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	return melvin.New(storeDir, cfg,
		melvin.WithLogger(slog.New(slog.NewTextHandler(os.Stderr, nil))))
}

func reasonCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reason [query]",
		Short: "Answer a query by replaying graph paths",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := openEngine()
			if err != nil {
				return err
			}
			defer engine.Close()

			text := ""
			for i, a := range args {
				if i > 0 {
					text += " "
				}
				text += a
			}
			answer, err := engine.Reason(context.Background(), text)
			if err != nil {
				return err
			}
			fmt.Println(answer)
			return nil
		},
	}
}

func learnCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "learn [text]",
		Short: "Ingest observations (arguments, or stdin lines when absent)",
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := openEngine()
			if err != nil {
				return err
			}
			defer engine.Close()
			ctx := context.Background()

			if len(args) > 0 {
				text := ""
				for i, a := range args {
					if i > 0 {
						text += " "
					}
					text += a
				}
				return engine.Learn(ctx, text)
			}

			scanner := bufio.NewScanner(os.Stdin)
			for scanner.Scan() {
				if err := engine.Learn(ctx, scanner.Text()); err != nil {
					return err
				}
			}
			return scanner.Err()
		},
	}
}

func statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print store counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := openEngine()
			if err != nil {
				return err
			}
			defer engine.Close()
			ctx := context.Background()

			nodes, err := engine.NodeCount(ctx)
			if err != nil {
				return err
			}
			edges, err := engine.EdgeCount(ctx)
			if err != nil {
				return err
			}
			paths, err := engine.PathCount(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("nodes: %d\nedges: %d\npaths: %d\n", nodes, edges, paths)
			return nil
		},
	}
}

func replCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "repl",
		Short: "Interactive session; prefix a line with 'learn:' to ingest it",
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := openEngine()
			if err != nil {
				return err
			}
			defer engine.Close()
			ctx := context.Background()

			scanner := bufio.NewScanner(os.Stdin)
			fmt.Print("> ")
			for scanner.Scan() {
				line := scanner.Text()
				switch {
				case line == "exit" || line == "quit":
					return nil
				case len(line) > 6 && line[:6] == "learn:":
					if err := engine.Learn(ctx, line[6:]); err != nil {
						fmt.Fprintln(os.Stderr, err)
					}
				case line != "":
					answer, err := engine.Reason(ctx, line)
					if err != nil {
						fmt.Fprintln(os.Stderr, err)
					} else {
						fmt.Println(answer)
					}
				}
				fmt.Print("> ")
			}
			return scanner.Err()
		},
	}
}

func maintainCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "maintain",
		Short: "Run one decay, compaction and mining pass",
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := openEngine()
			if err != nil {
				return err
			}
			defer engine.Close()
			return engine.RunMaintenancePass(context.Background())
		},
	}
}
