package cli

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/esap-cc/shortlinker/internal/core"
	"github.com/esap-cc/shortlinker/internal/ipc"
	"github.com/esap-cc/shortlinker/internal/service"
	"github.com/esap-cc/shortlinker/pkg/timeparse"
)

func newLinkCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "link",
		Short: "Manage short links",
	}
	cmd.AddCommand(
		newLinkAddCommand(opts),
		newLinkRemoveCommand(opts),
		newLinkUpdateCommand(opts),
		newLinkGetCommand(opts),
		newLinkListCommand(opts),
		newLinkImportCommand(opts),
		newLinkExportCommand(opts),
	)
	return cmd
}

func newLinkAddCommand(opts *rootOptions) *cobra.Command {
	var (
		expiresAt string
		pass      string
		force     bool
	)
	cmd := &cobra.Command{
		Use:   "add [code] <target>",
		Short: "Create a short link (code is generated when omitted)",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := service.CreateRequest{Force: force, ExpiresAt: expiresAt, Password: pass}
			if len(args) == 2 {
				req.Code, req.Target = args[0], args[1]
			} else {
				req.Target = args[0]
			}

			d := newDispatcher(opts)
			defer d.close()
			ctx := cmd.Context()

			var link core.ShortLink
			if d.viaIPC() {
				if err := d.client.Do(ipc.KindLinkAdd, req, &link); err != nil {
					return err
				}
			} else {
				if err := d.direct(ctx); err != nil {
					return err
				}
				created, err := d.links.Create(ctx, req)
				if err != nil {
					return err
				}
				link = *created
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created %s -> %s\n", link.Code, link.Target)
			return nil
		},
	}
	cmd.Flags().StringVar(&expiresAt, "expire", "", "expiration (RFC3339 or relative like 1d2h30m)")
	cmd.Flags().StringVar(&pass, "password", "", "access password")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing code")
	return cmd
}

func newLinkRemoveCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <code>",
		Short: "Delete a short link",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d := newDispatcher(opts)
			defer d.close()
			ctx := cmd.Context()

			if d.viaIPC() {
				if err := d.client.Do(ipc.KindLinkRemove, map[string]string{"code": args[0]}, nil); err != nil {
					return err
				}
			} else {
				if err := d.direct(ctx); err != nil {
					return err
				}
				if err := d.links.Delete(ctx, args[0]); err != nil {
					return err
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", args[0])
			return nil
		},
	}
}

func newLinkUpdateCommand(opts *rootOptions) *cobra.Command {
	var (
		target    string
		expiresAt string
		pass      string
	)
	cmd := &cobra.Command{
		Use:   "update <code>",
		Short: "Update a short link's target, expiry or password",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := service.UpdateRequest{}
			if cmd.Flags().Changed("target") {
				req.Target = &target
			}
			if cmd.Flags().Changed("expire") {
				req.ExpiresAt = &expiresAt
			}
			if cmd.Flags().Changed("password") {
				req.Password = &pass
			}

			d := newDispatcher(opts)
			defer d.close()
			ctx := cmd.Context()

			if d.viaIPC() {
				payload := struct {
					Code string `json:"code"`
					service.UpdateRequest
				}{Code: args[0], UpdateRequest: req}
				if err := d.client.Do(ipc.KindLinkUpdate, payload, nil); err != nil {
					return err
				}
			} else {
				if err := d.direct(ctx); err != nil {
					return err
				}
				if _, err := d.links.Update(ctx, args[0], req); err != nil {
					return err
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Updated %s\n", args[0])
			return nil
		},
	}
	cmd.Flags().StringVar(&target, "target", "", "new target URL")
	cmd.Flags().StringVar(&expiresAt, "expire", "", "new expiration (empty clears it)")
	cmd.Flags().StringVar(&pass, "password", "", "new password (empty removes it)")
	return cmd
}

func newLinkGetCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "get <code>",
		Short: "Show one short link",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d := newDispatcher(opts)
			defer d.close()
			ctx := cmd.Context()

			var link core.ShortLink
			if d.viaIPC() {
				if err := d.client.Do(ipc.KindLinkGet, map[string]string{"code": args[0]}, &link); err != nil {
					return err
				}
			} else {
				if err := d.direct(ctx); err != nil {
					return err
				}
				got, err := d.links.Get(ctx, args[0])
				if err != nil {
					return err
				}
				link = *got
			}
			printLink(cmd.OutOrStdout(), &link)
			return nil
		},
	}
}

func newLinkListCommand(opts *rootOptions) *cobra.Command {
	var search string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List short links",
		RunE: func(cmd *cobra.Command, _ []string) error {
			d := newDispatcher(opts)
			defer d.close()
			ctx := cmd.Context()

			var links []*core.ShortLink
			if d.viaIPC() {
				var out struct {
					Links []*core.ShortLink `json:"links"`
					Total int64             `json:"total"`
				}
				payload := map[string]any{"page": 1, "page_size": 500, "search": search}
				if err := d.client.Do(ipc.KindLinkList, payload, &out); err != nil {
					return err
				}
				links = out.Links
			} else {
				if err := d.direct(ctx); err != nil {
					return err
				}
				var err error
				links, _, err = d.links.List(ctx, core.LinkFilter{Search: search}, 1, 500)
				if err != nil {
					return err
				}
			}
			for _, link := range links {
				printLink(cmd.OutOrStdout(), link)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d links\n", len(links))
			return nil
		},
	}
	cmd.Flags().StringVar(&search, "search", "", "filter by code or target substring")
	return cmd
}

func newLinkImportCommand(opts *rootOptions) *cobra.Command {
	var mode string
	cmd := &cobra.Command{
		Use:   "import <file.csv>",
		Short: "Bulk-import links from CSV",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			rows, rowErrors, err := service.ParseCSV(f)
			if err != nil {
				return err
			}

			d := newDispatcher(opts)
			defer d.close()
			ctx := cmd.Context()

			var result service.ImportResult
			if d.viaIPC() {
				payload := map[string]any{"rows": rows, "mode": mode}
				if err := d.client.Do(ipc.KindLinkImport, payload, &result); err != nil {
					return err
				}
			} else {
				if err := d.direct(ctx); err != nil {
					return err
				}
				res, err := d.links.Import(ctx, rows, core.ParseImportMode(mode))
				if err != nil {
					return err
				}
				result = *res
			}
			result.Failed += len(rowErrors)
			result.Errors = append(rowErrors, result.Errors...)

			fmt.Fprintf(cmd.OutOrStdout(), "Imported: %d success, %d skipped, %d failed\n",
				result.Success, result.Skipped, result.Failed)
			for _, e := range result.Errors {
				fmt.Fprintf(cmd.ErrOrStderr(), "  row %d (%s): %s\n", e.RowNum, e.Code, e.Error)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&mode, "mode", "skip", "conflict mode: skip, overwrite or error")
	return cmd
}

func newLinkExportCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export [file.csv]",
		Short: "Export links as CSV (stdout when no file is given)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var out io.Writer = cmd.OutOrStdout()
			if len(args) == 1 {
				f, err := os.Create(args[0])
				if err != nil {
					return err
				}
				defer f.Close()
				out = f
			}

			d := newDispatcher(opts)
			defer d.close()
			ctx := cmd.Context()

			if d.viaIPC() {
				var resp struct {
					CSV string `json:"csv"`
				}
				if err := d.client.Do(ipc.KindLinkExport, nil, &resp); err != nil {
					return err
				}
				_, err := io.WriteString(out, resp.CSV)
				return err
			}

			if err := d.direct(ctx); err != nil {
				return err
			}
			_, err := d.links.ExportCSV(ctx, d.backend, core.LinkFilter{}, out)
			return err
		},
	}
	return cmd
}

func printLink(w io.Writer, link *core.ShortLink) {
	expiry := "never"
	if link.ExpiresAt != nil {
		expiry = fmt.Sprintf("%s (%s)",
			link.ExpiresAt.UTC().Format(time.RFC3339),
			timeparse.FormatRemaining(time.Now().UTC(), *link.ExpiresAt))
	}
	locked := ""
	if link.Password != "" {
		locked = " [password]"
	}
	fmt.Fprintf(w, "%s -> %s  clicks=%d  expires=%s%s\n",
		link.Code, link.Target, link.Click, expiry, locked)
}
