package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/apkaapna007-a11y/fluffy-octo-funicular/internal/registry"
)

func newToolsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tools",
		Short: "Inspect the tool registry plans may draw on",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List registered tools",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadEnv()
			if err != nil {
				return err
			}
			defer logger.Sync()

			reg := registry.NewDefault()
			if cfg.Tools.File != "" {
				tools, err := registry.LoadFile(cfg.Tools.File)
				if err != nil {
					return err
				}
				if reg, err = registry.New(tools); err != nil {
					return err
				}
			}
			printTools(cmd.OutOrStdout(), reg.List())
			return nil
		},
	})
	return cmd
}

func printTools(w io.Writer, tools []registry.Tool) {
	for _, t := range tools {
		fmt.Fprintf(w, "%-14s %s\n", t.Name, t.Description)
		for _, name := range t.SortedParameterNames() {
			p := t.Parameters[name]
			req := ""
			if p.Required {
				req = ", required"
			}
			fmt.Fprintf(w, "  %-12s %s%s  %s\n", name, p.Type, req, strings.TrimSpace(p.Description))
		}
	}
}
