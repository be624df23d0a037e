package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/raaihank/medgateway/internal/credentials"
)

func credentialsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "credentials",
		Short: "Manage provider credentials in the secure store",
	}

	importCmd := &cobra.Command{
		Use:   "import",
		Short: "Copy a provider key from its environment variable into the secure store",
		RunE: func(cmd *cobra.Command, args []string) error {
			name, _ := cmd.Flags().GetString("provider")

			cfg, log, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			defer log.Sync()

			store, chain, err := openCredentials(cfg, log, nil, false)
			if err != nil {
				return err
			}
			defer store.Close()

			imported, err := chain.Import(name)
			if err != nil {
				return err
			}
			if !imported {
				return fmt.Errorf("%s is not set; nothing to import", credentials.EnvVars[name])
			}
			fmt.Printf("%s credential imported. %s can now be removed from the environment.\n", name, credentials.EnvVars[name])
			return nil
		},
	}
	importCmd.Flags().String("provider", "openai", "Provider whose credential to import")
	cmd.AddCommand(importCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show where each provider credential is resolved from",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			defer log.Sync()

			store, chain, err := openCredentials(cfg, log, nil, true)
			if err != nil {
				return err
			}
			defer store.Close()

			for name := range credentials.EnvVars {
				res, err := chain.Resolve(name)
				switch {
				case errors.Is(err, credentials.ErrNotFound):
					fmt.Printf("%s: not configured\n", name)
				case err != nil:
					return err
				default:
					fmt.Printf("%s: %s\n", name, res.Source)
				}
			}
			return nil
		},
	}
	cmd.AddCommand(statusCmd)

	deleteCmd := &cobra.Command{
		Use:   "delete",
		Short: "Remove a provider credential from the secure store",
		RunE: func(cmd *cobra.Command, args []string) error {
			name, _ := cmd.Flags().GetString("provider")

			cfg, log, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			defer log.Sync()

			store, _, err := openCredentials(cfg, log, nil, false)
			if err != nil {
				return err
			}
			defer store.Close()

			if err := store.Delete(name); err != nil {
				return err
			}
			fmt.Printf("%s credential removed from the secure store\n", name)
			return nil
		},
	}
	deleteCmd.Flags().String("provider", "openai", "Provider whose credential to remove")
	cmd.AddCommand(deleteCmd)

	return cmd
}
