package main

import (
	"fmt"

	"github.com/danmuck/devsession/internal/config"
	"github.com/spf13/cobra"
)

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Generate or validate serverctl/devicectl config files",
	}
	cmd.AddCommand(configInitCmd(), configValidateCmd())
	return cmd
}

func configInitCmd() *cobra.Command {
	var (
		kind   string
		output string
		force  bool
	)
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a config template populated with defaults",
		RunE: func(cmd *cobra.Command, args []string) error {
			k, err := config.ParseKind(kind)
			if err != nil {
				return err
			}
			if output == "" || output == "-" {
				body, err := config.Template(k)
				if err != nil {
					return err
				}
				_, err = fmt.Fprint(cmd.OutOrStdout(), body)
				return err
			}
			if err := config.WriteTemplate(output, k, force); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s config to %s\n", k, output)
			return nil
		},
	}
	cmd.Flags().StringVarP(&kind, "kind", "k", "server", "config kind: server|device")
	cmd.Flags().StringVarP(&output, "output", "o", "", "output path (stdout when empty)")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}

func configValidateCmd() *cobra.Command {
	var kind string
	cmd := &cobra.Command{
		Use:   "validate <path>",
		Short: "Load a config file and report problems",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			k, err := config.ParseKind(kind)
			if err != nil {
				return err
			}
			if err := config.Validate(args[0], k); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "validated %s config at %s\n", k, args[0])
			return nil
		},
	}
	cmd.Flags().StringVarP(&kind, "kind", "k", "server", "config kind: server|device")
	return cmd
}
