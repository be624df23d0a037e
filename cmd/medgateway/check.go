package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

func checkCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Probe the configured providers and report the one that would be used",
		Long: `Probe the configured providers and report the one that would be used.

It reads the saved selection but never writes it, and records no audit entry.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			timeout, _ := cmd.Flags().GetDuration("timeout")

			a, err := newApp(cmd, modeCheck)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			if a.factory.LocalAvailable(ctx) {
				models, err := a.factory.ListLocalModels(ctx)
				if err != nil {
					fmt.Printf("local backend:  reachable (model list failed: %v)\n", err)
				} else {
					fmt.Printf("local backend:  reachable, %d model(s): %s\n", len(models), strings.Join(models, ", "))
				}
			} else {
				fmt.Println("local backend:  unreachable")
			}

			if err := a.factory.Initialize(ctx); err != nil {
				fmt.Fprintf(os.Stderr, "no usable provider: %v\n", err)
				return err
			}
			fmt.Printf("active backend: %s (%s)\n", a.factory.GetActiveProviderName(), a.factory.GetActiveModelName())
			return nil
		},
	}
	cmd.Flags().Duration("timeout", 90*time.Second, "Overall time budget for the probes")
	return cmd
}
