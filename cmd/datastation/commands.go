package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/kingrea/datastation/internal/app"
	"github.com/kingrea/datastation/internal/config"
	"github.com/kingrea/datastation/internal/eval"
	"github.com/kingrea/datastation/internal/mcpserver"
	"github.com/kingrea/datastation/internal/rpc"
	"github.com/kingrea/datastation/internal/tui"
)

type rootOptions struct {
	root    string
	verbose bool
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "datastation",
		Short:         "Evaluate data panels and manage project files",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&opts.root, "root", "", "Project root directory (default $DATASTATION_ROOT or ~/DataStationProjects)")
	cmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "Mirror log lines to stderr")

	cmd.AddCommand(
		newInitCommand(opts),
		newServeCommand(opts),
		newEvalCommand(opts),
		newLanguagesCommand(opts),
		newTUICommand(opts),
		newMCPCommand(opts),
	)
	return cmd
}

func (o *rootOptions) resolveRoot() (string, error) {
	if root := strings.TrimSpace(o.root); root != "" {
		return root, nil
	}
	return config.DefaultRoot()
}

// open wires the runtime. The mirror flag is ignored for commands that own
// the terminal.
func (o *rootOptions) open(mirror bool) (*app.Runtime, error) {
	root, err := o.resolveRoot()
	if err != nil {
		return nil, err
	}
	var appOpts []app.Option
	if mirror && o.verbose {
		appOpts = append(appOpts, app.WithLogMirror(os.Stderr))
	}
	return app.Open(root, appOpts...)
}

func newInitCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create the .datastation directory with a default config.yaml",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			root, err := opts.resolveRoot()
			if err != nil {
				return err
			}
			if err := config.InitDataDir(root); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Initialized %s\n", root)
			return nil
		},
	}
}

func newServeCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the RPC endpoint over HTTP until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := opts.open(true)
			if err != nil {
				return err
			}
			defer rt.Shutdown.Recover()
			ctx, stop := rt.Shutdown.NotifyContext(cmd.Context())
			defer stop()

			srv := rt.Server()
			out := cmd.OutOrStdout()
			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				return srv.Serve(gctx)
			})
			g.Go(func() error {
				select {
				case <-srv.Ready():
					fmt.Fprintf(out, "Listening on %s\n", srv.BaseURL())
				case <-gctx.Done():
				}
				return nil
			})
			// A failed listener cancels gctx, so the watcher still flushes.
			g.Go(func() error {
				return rt.Shutdown.Wait(gctx)
			})
			return g.Wait()
		},
	}
}

func newEvalCommand(opts *rootOptions) *cobra.Command {
	var (
		pageIndex  int
		panelIndex int
		panelID    string
		all        bool
	)
	cmd := &cobra.Command{
		Use:   "eval <project>",
		Short: "Evaluate a panel (or a whole page) and print the result as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := opts.open(true)
			if err != nil {
				return err
			}
			defer rt.Shutdown.Recover()
			ctx, stop := rt.Shutdown.NotifyContext(cmd.Context())
			defer stop()

			projectID := args[0]
			out := cmd.OutOrStdout()
			if all {
				project, err := rt.Store.GetProject(projectID)
				if err != nil {
					return errors.Join(err, rt.Shutdown.Run())
				}
				results, err := rt.Evaluator.EvaluatePage(ctx, projectID, project, pageIndex)
				if err != nil {
					return errors.Join(err, rt.Shutdown.Run())
				}
				return errors.Join(printJSON(out, results), rt.Shutdown.Run())
			}

			ref := eval.PanelRef{PageIndex: pageIndex, PanelIndex: panelIndex, PanelID: panelID}
			body, err := json.Marshal(ref)
			if err != nil {
				return err
			}
			got, evalErr := rt.Dispatcher.Dispatch(ctx, rpc.Request{Resource: eval.ResourceEvalPanel, ProjectID: projectID, Body: body}, true)
			if evalErr != nil {
				_ = printJSON(out, rpc.ErrorBody(evalErr))
				return errors.Join(evalErr, rt.Shutdown.Run())
			}
			return errors.Join(printJSON(out, got), rt.Shutdown.Run())
		},
	}
	cmd.Flags().IntVar(&pageIndex, "page", 0, "Page index")
	cmd.Flags().IntVar(&panelIndex, "panel", 0, "Panel index within the page")
	cmd.Flags().StringVar(&panelID, "panel-id", "", "Panel id, overrides --panel")
	cmd.Flags().BoolVar(&all, "all", false, "Evaluate every panel on the page in order")
	return cmd
}

func newLanguagesCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "languages",
		Short: "List program panel languages",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := opts.open(false)
			if err != nil {
				return err
			}
			got, err := rt.Dispatcher.Dispatch(cmd.Context(), rpc.Request{Resource: eval.ResourceListLanguages}, true)
			if err != nil {
				return errors.Join(err, rt.Shutdown.Run())
			}
			return errors.Join(printJSON(cmd.OutOrStdout(), got), rt.Shutdown.Run())
		},
	}
}

func newTUICommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "tui <project>",
		Short: "Open the terminal page runner",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := opts.open(false)
			if err != nil {
				return err
			}
			defer rt.Shutdown.Recover()
			ctx, stop := rt.Shutdown.NotifyContext(cmd.Context())
			defer stop()

			model := tui.NewApp(rt.Dispatcher, args[0], tui.WithContext(ctx), tui.WithLogger(rt.Logger))
			runErr := tui.Run(ctx, model)
			return errors.Join(runErr, rt.Shutdown.Run())
		},
	}
}

func newMCPCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve MCP tools over stdio",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			// stdout carries the protocol, so never mirror logs there.
			rt, err := opts.open(false)
			if err != nil {
				return err
			}
			defer rt.Shutdown.Recover()
			ctx, stop := rt.Shutdown.NotifyContext(cmd.Context())
			defer stop()

			runErr := mcpserver.Run(ctx, rt.Dispatcher)
			if errors.Is(runErr, ctx.Err()) {
				runErr = nil
			}
			return errors.Join(runErr, rt.Shutdown.Run())
		},
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
