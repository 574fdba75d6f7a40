package main

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var cachesCmd = &cobra.Command{
	Use:   "caches",
	Short: "Inspect and delete caches in the cache db",
}

var cachesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List cache names, oldest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		config, err := loadConfig()
		if err != nil {
			return err
		}
		storage, err := openStorage(config.DB)
		if err != nil {
			return err
		}
		defer storage.Close()
		names, err := storage.Names()
		if err != nil {
			return err
		}
		for _, name := range names {
			fmt.Fprintln(cmd.OutOrStdout(), name)
		}
		return nil
	},
}

var cachesDeleteCmd = &cobra.Command{
	Use:   "delete NAME...",
	Short: "Delete caches",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		config, err := loadConfig()
		if err != nil {
			return err
		}
		storage, err := openStorage(config.DB)
		if err != nil {
			return err
		}
		defer storage.Close()
		for _, name := range args {
			deleted, err := storage.Delete(name)
			if err != nil {
				return fmt.Errorf("delete cache %s: %w", name, err)
			}
			if !deleted {
				log.Warn().Str("cache", name).Msg("No such cache")
				continue
			}
			log.Info().Str("cache", name).Msg("Cache deleted")
		}
		return nil
	},
}

func init() {
	cachesCmd.AddCommand(cachesListCmd, cachesDeleteCmd)
}
