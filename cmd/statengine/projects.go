// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"fmt"
	"io"
	"log/slog"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianStats/services/engine/config"
	"github.com/AleutianAI/AleutianStats/services/engine/dataset"
	"github.com/AleutianAI/AleutianStats/services/engine/storage/badger"
)

var projectsCmd = &cobra.Command{
	Use:   "projects",
	Short: "Inspect the project store",
}

var projectsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored projects",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStoreFromConfig()
		if err != nil {
			return err
		}
		defer store.Close()

		paths, err := store.ListProjects(cmd.Context())
		if err != nil {
			return err
		}
		if len(paths) == 0 {
			fmt.Println("no projects stored")
			return nil
		}
		for _, p := range paths {
			fmt.Println(p)
		}
		return nil
	},
}

var projectsDeleteCmd = &cobra.Command{
	Use:   "delete [path]",
	Short: "Delete a stored project",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStoreFromConfig()
		if err != nil {
			return err
		}
		defer store.Close()

		if err := store.DeleteProject(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Printf("deleted %s\n", args[0])
		return nil
	},
}

func openStoreFromConfig() (*dataset.Store, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	storeCfg := badger.DefaultConfig()
	storeCfg.Path = filepath.Join(cfg.DataDir, "store")
	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))
	return dataset.OpenStore(storeCfg, quiet)
}

func init() {
	projectsCmd.AddCommand(projectsListCmd)
	projectsCmd.AddCommand(projectsDeleteCmd)
}
