package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/parcelworks/geoharvest/internal/fetch"
	"github.com/parcelworks/geoharvest/internal/registry"
)

var sourcesCmd = &cobra.Command{
	Use:   "sources",
	Short: "Inspect and maintain the source registry",
}

var sourcesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered sources",
	RunE: func(cmd *cobra.Command, _ []string) error {
		reg, err := registry.Load(cfg.Registry.Path)
		if err != nil {
			return err
		}

		pending, _ := cmd.Flags().GetBool("pending")
		sources := reg.Sources()
		if pending {
			sources = reg.Unimported()
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tKIND\tTABLE\tIMPORTED\tLOCATION")
		for _, s := range sources {
			fmt.Fprintf(w, "%s\t%s\t%s\t%t\t%s\n", s.ID, s.Kind, s.TableName, s.Imported, s.Location)
		}
		return w.Flush()
	},
}

var sourcesStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Summarize registry state",
	RunE: func(cmd *cobra.Command, _ []string) error {
		reg, err := registry.Load(cfg.Registry.Path)
		if err != nil {
			return err
		}

		byKind := map[registry.Kind]int{}
		for _, s := range reg.Sources() {
			byKind[s.Kind]++
		}

		fmt.Fprintf(cmd.OutOrStdout(), "registry: %s\n", cfg.Registry.Path)
		fmt.Fprintf(cmd.OutOrStdout(), "sources:  %d total, %d pending import\n", reg.Len(), len(reg.Unimported()))
		for kind, n := range byKind {
			fmt.Fprintf(cmd.OutOrStdout(), "  %-22s %d\n", kind, n)
		}
		return nil
	},
}

var sourcesScanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Register loose geodata files from the data directory",
	RunE: func(cmd *cobra.Command, _ []string) error {
		reg, err := registry.Load(cfg.Registry.Path)
		if err != nil {
			return err
		}

		added, err := registry.Scan(reg, cfg.Registry.DataDir, fetch.ListGPKGLayers)
		if err != nil {
			return err
		}
		if err := reg.Save(); err != nil {
			return err
		}

		fmt.Fprintf(cmd.OutOrStdout(), "scan complete: %d sources added\n", added)
		return nil
	},
}

func init() {
	sourcesListCmd.Flags().Bool("pending", false, "only sources not yet imported")
	sourcesCmd.AddCommand(sourcesListCmd, sourcesStatusCmd, sourcesScanCmd)
	rootCmd.AddCommand(sourcesCmd)
}
