package main

import (
	"context"
	"fmt"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"

	"github.com/AntonStoeckl/live-query-loader-go/loader"
)

var prettyJSON = jsoniter.Config{SortMapKeys: true, EscapeHTML: false}.Froze()

func newQueryCmd(root *rootOptions) *cobra.Command {
	var paramArgs []string
	var browser bool

	cmd := &cobra.Command{
		Use:   "query <query>",
		Short: "Run a one-shot query and print its result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			params, err := parseParams(paramArgs)
			if err != nil {
				return err
			}

			ctx := cmd.Context()

			a, err := newApp(ctx, root, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer func() { _ = a.Close(context.WithoutCancel(ctx)) }()

			if browser {
				ctx = loader.WithBrowserEnvironment(ctx)
			}

			result, err := a.queries.QueryRaw(ctx, args[0], params)
			if err != nil {
				return err
			}

			return printJSON(cmd, result)
		},
	}

	cmd.Flags().StringArrayVarP(&paramArgs, "param", "p", nil, "query parameter as name=value, value parsed as JSON when possible")
	cmd.Flags().BoolVar(&browser, "browser", false, "run as if called from a browser document")

	return cmd
}

func printJSON(cmd *cobra.Command, raw jsoniter.RawMessage) error {
	var value any
	if err := prettyJSON.Unmarshal(raw, &value); err != nil {
		return err
	}

	out, err := prettyJSON.MarshalIndent(value, "", "  ")
	if err != nil {
		return err
	}

	_, err = fmt.Fprintln(cmd.OutOrStdout(), string(out))

	return err
}
