// Copyright (C) 2026 Ntropish
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Command ptrictl is a maintenance tool for a local ptri store.
//
// It opens the BadgerDB-backed chunk and metadata stores in a store
// directory and runs timeline or read operations against them.
//
// Usage:
//
//	ptrictl set mykey myvalue
//	ptrictl get mykey
//	ptrictl scan --start a --end z --limit 10
//	ptrictl history --redo
//	ptrictl undo
//	ptrictl checkout <snapshot-id>
//	ptrictl stats
//
// Configuration is read from --config (YAML) with flag overrides:
//
//	path: ~/.ptri
//	store_name: default
//	log_level: warn
package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/Ntropish/ptri"
	"github.com/Ntropish/ptri/memengine"
	"github.com/Ntropish/ptri/storage/badgerstore"
)

type cliConfig struct {
	Path      string `yaml:"path"`
	StoreName string `yaml:"store_name"`
	LogLevel  string `yaml:"log_level"`
}

func defaultConfig() cliConfig {
	return cliConfig{
		Path:      "~/.ptri",
		StoreName: ptri.DefaultStoreName,
		LogLevel:  "warn",
	}
}

func loadConfig(path string) (cliConfig, error) {
	cfg := defaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

func expandHome(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "error":
		return slog.LevelError
	default:
		return slog.LevelWarn
	}
}

// env bundles everything an open store gives us.
type env struct {
	session *ptri.Session
	chunks  *badgerstore.ChunkStore
	db      *badgerstore.DB
}

func (e *env) close() {
	e.session.Close()
	_ = e.db.Close()
}

func openEnv(cmd *cobra.Command) (*env, error) {
	configPath, _ := cmd.Flags().GetString("config")
	cfg, err := loadConfig(configPath)
	if err != nil {
		return nil, err
	}
	if v, _ := cmd.Flags().GetString("path"); v != "" {
		cfg.Path = v
	}
	if v, _ := cmd.Flags().GetString("store"); v != "" {
		cfg.StoreName = v
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: parseLevel(cfg.LogLevel),
	}))
	slog.SetDefault(logger)

	db, err := badgerstore.Open(badgerstore.Config{
		Path:       expandHome(cfg.Path),
		SyncWrites: true,
		Logger:     logger,
	})
	if err != nil {
		return nil, err
	}

	chunks := badgerstore.NewChunkStore(db)
	session, err := ptri.New(ptri.Config{
		Engine:    memengine.New(chunks),
		Metadata:  badgerstore.NewMetadataStore(db),
		StoreName: cfg.StoreName,
		Logger:    logger,
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := session.Start(cmd.Context()); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &env{session: session, chunks: chunks, db: db}, nil
}

func rangeFlags(cmd *cobra.Command) {
	cmd.Flags().String("start", "", "lower key bound (inclusive)")
	cmd.Flags().String("end", "", "upper key bound (exclusive)")
	cmd.Flags().Bool("reverse", false, "descending key order")
	cmd.Flags().Int("offset", 0, "entries to skip")
	cmd.Flags().Int("limit", 0, "max entries (0 = unlimited)")
}

func queryFromFlags(cmd *cobra.Command) ptri.RangeQuery {
	var q ptri.RangeQuery
	if v, _ := cmd.Flags().GetString("start"); v != "" {
		q.Start = &v
	}
	if v, _ := cmd.Flags().GetString("end"); v != "" {
		q.End = &v
	}
	q.Reverse, _ = cmd.Flags().GetBool("reverse")
	q.Offset, _ = cmd.Flags().GetInt("offset")
	q.Limit, _ = cmd.Flags().GetInt("limit")
	return q
}

func main() {
	root := &cobra.Command{
		Use:           "ptrictl",
		Short:         "Maintenance tool for a local ptri store",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().String("config", "", "YAML config file")
	root.PersistentFlags().String("path", "", "store directory (overrides config)")
	root.PersistentFlags().String("store", "", "store name (overrides config)")

	root.AddCommand(setCmd(), delCmd(), getCmd(), scanCmd(), historyCmd(),
		undoCmd(), redoCmd(), checkoutCmd(), statsCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func setCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Commit a single key/value write",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(cmd)
			if err != nil {
				return err
			}
			defer e.close()

			id, err := e.session.Mutate(cmd.Context(), ptri.WriteSet{
				Set: []ptri.Entry{{Key: args[0], Value: []byte(args[1])}},
			})
			if err != nil {
				return err
			}
			fmt.Println(id)
			return nil
		},
	}
}

func delCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "del <key>",
		Short: "Commit a single key deletion",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(cmd)
			if err != nil {
				return err
			}
			defer e.close()

			id, err := e.session.Mutate(cmd.Context(), ptri.WriteSet{Del: []string{args[0]}})
			if err != nil {
				return err
			}
			fmt.Println(id)
			return nil
		},
	}
}

func getCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <key>",
		Short: "Read a key from the current snapshot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(cmd)
			if err != nil {
				return err
			}
			defer e.close()

			value, present, err := e.session.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if !present {
				return fmt.Errorf("key %q not found", args[0])
			}
			fmt.Println(string(value))
			return nil
		},
	}
}

func scanCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "List entries in the current snapshot",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := openEnv(cmd)
			if err != nil {
				return err
			}
			defer e.close()

			entries, err := e.session.Scan(cmd.Context(), queryFromFlags(cmd))
			if err != nil {
				return err
			}
			for _, entry := range entries {
				fmt.Printf("%s\t%s\n", entry.Key, entry.Value)
			}
			return nil
		},
	}
	rangeFlags(cmd)
	return cmd
}

func historyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Page through the timeline relative to the current position",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := openEnv(cmd)
			if err != nil {
				return err
			}
			defer e.close()

			redo, _ := cmd.Flags().GetBool("redo")
			offset, _ := cmd.Flags().GetInt("offset")
			limit, _ := cmd.Flags().GetInt("limit")

			page, err := e.session.HistoryScan(cmd.Context(), ptri.HistoryQuery{
				Offset:  offset,
				Limit:   limit,
				Reverse: !redo,
			})
			if err != nil {
				return err
			}

			current, err := e.session.Current()
			if err != nil {
				return err
			}
			fmt.Printf("current\t%s\n", current)
			fmt.Printf("total\t%d\n", page.Total)
			for i, id := range page.Items {
				fmt.Printf("%d\t%s\n", offset+i+1, id)
			}
			return nil
		},
	}
	cmd.Flags().Bool("redo", false, "page the redo side instead of the undo side")
	cmd.Flags().Int("offset", 0, "entries to skip")
	cmd.Flags().Int("limit", 0, "max entries (0 = unlimited)")
	return cmd
}

func undoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "undo",
		Short: "Move the current position one commit backwards",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := openEnv(cmd)
			if err != nil {
				return err
			}
			defer e.close()

			moved, err := e.session.Undo(cmd.Context())
			if err != nil {
				return err
			}
			if !moved {
				fmt.Println("nothing to undo")
				return nil
			}
			current, err := e.session.Current()
			if err != nil {
				return err
			}
			fmt.Println(current)
			return nil
		},
	}
}

func redoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "redo",
		Short: "Move the current position one commit forwards",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := openEnv(cmd)
			if err != nil {
				return err
			}
			defer e.close()

			moved, err := e.session.Redo(cmd.Context())
			if err != nil {
				return err
			}
			if !moved {
				fmt.Println("nothing to redo")
				return nil
			}
			current, err := e.session.Current()
			if err != nil {
				return err
			}
			fmt.Println(current)
			return nil
		},
	}
}

func checkoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "checkout <snapshot-id>",
		Short: "Commit an existing snapshot id as the new current state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(cmd)
			if err != nil {
				return err
			}
			defer e.close()

			return e.session.Checkout(cmd.Context(), ptri.SnapshotID(args[0]))
		},
	}
}

func statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show chunk store usage and timeline shape",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := openEnv(cmd)
			if err != nil {
				return err
			}
			defer e.close()

			stats, err := e.chunks.Stats(cmd.Context())
			if err != nil {
				return err
			}
			undoPage, err := e.session.HistoryScan(cmd.Context(), ptri.HistoryQuery{Reverse: true})
			if err != nil {
				return err
			}
			redoPage, err := e.session.HistoryScan(cmd.Context(), ptri.HistoryQuery{})
			if err != nil {
				return err
			}

			fmt.Printf("chunks\t%d\n", stats.Chunks)
			fmt.Printf("bytes\t%d\n", stats.Bytes)
			fmt.Printf("undo depth\t%d\n", undoPage.Total)
			fmt.Printf("redo depth\t%d\n", redoPage.Total)
			return nil
		},
	}
}
