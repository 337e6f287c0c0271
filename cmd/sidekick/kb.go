package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/evanwires/sidekick/internal/kb"
)

func kbCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "kb",
		Short: "Manage the knowledge base",
	}
	cmd.AddCommand(kbInitCmd(), kbSeedCmd(), kbOrdersCmd(), kbDocsCmd())
	return cmd
}

func kbInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:          "init",
		Short:        "Create the knowledge base and apply migrations",
		SilenceUsage: true,
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			_, closeFn, err := openKB(cfg)
			if err != nil {
				return err
			}
			defer closeFn()
			fmt.Println("knowledge base ready at", kbPath(cfg))
			return nil
		},
	}
}

func kbSeedCmd() *cobra.Command {
	return &cobra.Command{
		Use:          "seed",
		Short:        "Load the demo dataset",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			db, closeFn, err := openKB(cfg)
			if err != nil {
				return err
			}
			defer closeFn()
			if err := kb.Seed(cmd.Context(), db); err != nil {
				return err
			}
			fmt.Println("demo dataset loaded")
			return nil
		},
	}
}

func kbOrdersCmd() *cobra.Command {
	return &cobra.Command{
		Use:          "orders",
		Short:        "List orders",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			db, closeFn, err := openKB(cfg)
			if err != nil {
				return err
			}
			defer closeFn()
			orders, err := kb.NewStore(db).ListOrders(cmd.Context())
			if err != nil {
				return err
			}
			for _, o := range orders {
				fmt.Printf("%-12s %-12s %-12s $%-8.2f %s\n",
					o.Ref, o.Status, o.OrderedAt.Format("2006-01-02"),
					float64(o.TotalCents)/100, o.CustomerName)
			}
			return nil
		},
	}
}

func kbDocsCmd() *cobra.Command {
	return &cobra.Command{
		Use:          "docs",
		Short:        "List policy documents",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			db, closeFn, err := openKB(cfg)
			if err != nil {
				return err
			}
			defer closeFn()
			docs, err := kb.NewStore(db).ListPolicyDocs(cmd.Context())
			if err != nil {
				return err
			}
			for _, d := range docs {
				fmt.Printf("%-16s %s\n", d.Key, d.Title)
			}
			return nil
		},
	}
}
