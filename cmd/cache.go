package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newCacheCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect the persisted metadata cache",
	}
	cmd.AddCommand(&cobra.Command{
		Use:         "stats",
		Annotations: needsApp,
		Short:       "Hydrate the cache and report how many videos it holds",
		RunE: withApp(func(cmd *cobra.Command, appInstance App) error {
			n, err := appInstance.CacheSizer().Len(cmd.Context())
			if err != nil {
				return fmt.Errorf("load cache: %w", err)
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "cached videos: %d\n", n)
			return err
		}),
	})
	return cmd
}
