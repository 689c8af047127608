package cli

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/esap-cc/shortlinker/internal/config"
	"github.com/esap-cc/shortlinker/internal/ipc"
)

func newConfigCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage runtime configuration",
	}
	cmd.AddCommand(
		newConfigGetCommand(opts),
		newConfigSetCommand(opts),
		newConfigResetCommand(opts),
		newConfigListCommand(opts),
	)
	return cmd
}

func newConfigGetCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "get <key>",
		Short: "Show one configuration value",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d := newDispatcher(opts)
			defer d.close()
			ctx := cmd.Context()

			var item config.Item
			if d.viaIPC() {
				if err := d.client.Do(ipc.KindConfigGet, map[string]string{"key": args[0]}, &item); err != nil {
					return err
				}
			} else {
				if err := d.direct(ctx); err != nil {
					return err
				}
				got, err := d.configs.GetFull(ctx, args[0])
				if err != nil {
					return err
				}
				item = *got
				if item.IsSensitive {
					item.Value = config.Redacted
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s = %s (%s)\n", item.Key, item.Value, item.Type)
			return nil
		},
	}
}

func newConfigSetCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Update one configuration value",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			d := newDispatcher(opts)
			defer d.close()
			ctx := cmd.Context()

			var result config.UpdateResult
			if d.viaIPC() {
				payload := map[string]string{"key": args[0], "value": args[1]}
				if err := d.client.Do(ipc.KindConfigSet, payload, &result); err != nil {
					return err
				}
			} else {
				if err := d.direct(ctx); err != nil {
					return err
				}
				res, err := d.configs.Set(ctx, args[0], args[1])
				if err != nil {
					return err
				}
				result = *res
			}

			if !result.Changed {
				fmt.Fprintf(cmd.OutOrStdout(), "%s unchanged\n", result.Key)
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s updated\n", result.Key)
			switch {
			case result.RequiresRestart:
				fmt.Fprintln(cmd.OutOrStdout(), "Restart the server for the change to take effect.")
			case d.viaIPC():
				fmt.Fprintln(cmd.OutOrStdout(), "Run 'shortlinker reload --target config' to apply.")
			}
			return nil
		},
	}
}

func newConfigResetCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "reset <key>",
		Short: "Restore one configuration value to its default",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d := newDispatcher(opts)
			defer d.close()
			ctx := cmd.Context()

			if d.viaIPC() {
				if err := d.client.Do(ipc.KindConfigReset, map[string]string{"key": args[0]}, nil); err != nil {
					return err
				}
			} else {
				if err := d.direct(ctx); err != nil {
					return err
				}
				if _, err := d.configs.Reset(ctx, args[0]); err != nil {
					return err
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s reset to default\n", args[0])
			return nil
		},
	}
}

func newConfigListCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all configuration values",
		RunE: func(cmd *cobra.Command, _ []string) error {
			d := newDispatcher(opts)
			defer d.close()
			ctx := cmd.Context()

			items := make(map[string]*config.Item)
			if d.viaIPC() {
				if err := d.client.Do(ipc.KindConfigList, nil, &items); err != nil {
					return err
				}
			} else {
				if err := d.direct(ctx); err != nil {
					return err
				}
				var err error
				items, err = d.configs.GetAll(ctx)
				if err != nil {
					return err
				}
				for _, item := range items {
					if item.IsSensitive {
						item.Value = config.Redacted
					}
				}
			}

			keys := make([]string, 0, len(items))
			for key := range items {
				keys = append(keys, key)
			}
			sort.Strings(keys)
			for _, key := range keys {
				fmt.Fprintf(cmd.OutOrStdout(), "%-36s %s\n", key, items[key].Value)
			}
			return nil
		},
	}
}
