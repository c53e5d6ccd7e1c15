package main

import (
	"fmt"
	"sort"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"contentforge/internal/rbac"
)

func modelsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "models",
		Short: "List stored models and whether their artifacts are published",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := setup(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.connector.Close()

			models, err := rt.store.ListModels(cmd.Context())
			if err != nil {
				return err
			}
			if len(models) == 0 {
				fmt.Println("No models defined.")
				return nil
			}

			for _, m := range models {
				status := color.New(color.FgGreen).Sprint("PUBLISHED")
				if !rt.publisher.Exists(m.Name) {
					status = color.New(color.FgRed).Sprint("MISSING  ")
				}
				fmt.Printf("%s  %-24s v%-4d %d fields\n", status, m.Name, m.Version, len(m.Fields))
			}
			return nil
		},
	}
}

func regenerateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "regenerate [model]",
		Short: "Republish artifacts for one model, or all of them",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := setup(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.connector.Close()

			if len(args) == 1 {
				if err := rt.pipeline.Regenerate(cmd.Context(), args[0]); err != nil {
					return err
				}
				fmt.Printf("%s %s\n", color.New(color.FgGreen).Sprint("✓"), strings.ToLower(args[0]))
				return nil
			}

			n, err := rt.pipeline.RegenerateAll(cmd.Context())
			fmt.Printf("%s %d model(s) republished\n", color.New(color.FgGreen).Sprint("✓"), n)
			return err
		},
	}
}

func rolesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "roles",
		Short: "Print the effective role matrix",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := setup(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.connector.Close()

			perms := []string{rbac.PermCreate, rbac.PermRead, rbac.PermUpdate, rbac.PermDelete}
			fmt.Printf("%-16s %-8s %-8s %-8s %-8s\n", "ROLE", "CREATE", "READ", "UPDATE", "DELETE")
			for _, r := range rt.rbac.Roles() {
				name := r.Name
				if r.BuiltIn {
					name += "*"
				}
				fmt.Printf("%-16s", name)
				for _, p := range perms {
					mark := color.New(color.FgRed).Sprint("no")
					if r.Permissions[p] {
						mark = color.New(color.FgGreen).Sprint("yes")
					}
					fmt.Printf(" %-8s", mark)
				}
				fmt.Println()
			}

			fmt.Println("\nRoutes:")
			routes := rt.rbac.Routes()
			paths := make([]string, 0, len(routes))
			for p := range routes {
				paths = append(paths, p)
			}
			sort.Strings(paths)
			for _, p := range paths {
				fmt.Printf("  %-24s %s\n", p, strings.Join(routes[p], ", "))
			}
			return nil
		},
	}
}
