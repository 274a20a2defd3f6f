// Command helixdb is the maintenance CLI for a HelixDB database
// directory: compile and register HQL, run registered queries, and run
// compaction. The serving path lives in the gateway, not here.
package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/helixdb/helix-go/pkg/config"
	"github.com/helixdb/helix-go/pkg/executor"
	"github.com/helixdb/helix-go/pkg/helix"
)

var (
	dataDir    string
	configPath string
)

func main() {
	root := &cobra.Command{
		Use:   "helixdb",
		Short: "HelixDB embedded graph-vector database",
	}
	root.PersistentFlags().StringVar(&dataDir, "data", "./helix-data", "database directory")
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to helix.yaml")

	root.AddCommand(compileCmd(), runCmd(), compactCmd())
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func openDB() (*helix.DB, error) {
	var cfg *config.Config
	if configPath != "" {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return nil, err
		}
	}
	return helix.Open(dataDir, cfg)
}

func compileCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "compile <file.hql>",
		Short: "Compile and register an HQL source file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			source, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			db, err := openDB()
			if err != nil {
				return err
			}
			defer db.Close()

			result, err := db.Compile(string(source))
			if err != nil {
				return err
			}
			for _, d := range result.Diagnostics {
				log.Printf("%s", d)
			}
			for _, name := range result.Registered {
				fmt.Println(name)
			}
			return nil
		},
	}
}

func runCmd() *cobra.Command {
	var paramsJSON string
	cmd := &cobra.Command{
		Use:   "run <file.hql> <query> ",
		Short: "Compile a source file and execute one of its queries",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			source, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			db, err := openDB()
			if err != nil {
				return err
			}
			defer db.Close()

			if _, err := db.Compile(string(source)); err != nil {
				return err
			}
			out, err := db.Execute(context.Background(), args[1], []byte(paramsJSON))
			if err != nil {
				return err
			}
			fmt.Println(string(executor.Unframe(out)))
			return nil
		},
	}
	cmd.Flags().StringVar(&paramsJSON, "params", "{}", "query parameters as a JSON object")
	return cmd
}

func compactCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "compact",
		Short: "Rebuild HNSW neighbor lists around tombstones and sweep BM25 postings",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openDB()
			if err != nil {
				return err
			}
			defer db.Close()

			for err := range db.Compact(context.Background()) {
				log.Printf("compaction: %v", err)
			}
			return nil
		},
	}
}
