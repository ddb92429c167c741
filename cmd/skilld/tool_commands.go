package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

func newListCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the tools exposed by the configured server",
		RunE: func(cmd *cobra.Command, args []string) error {
			facade, err := ctx.facade()
			if err != nil {
				return err
			}
			tools, err := facade.ListTools(cmd.Context())
			if err != nil {
				return err
			}

			if ctx.jsonOutput() {
				return writeJSON(cmd, tools)
			}

			rows := make([][]string, 0, len(tools))
			for _, tool := range tools {
				rows = append(rows, []string{tool.Name, tool.Description})
			}
			renderRows(cmd.OutOrStdout(), []string{"Tool", "Description"}, rows)
			return nil
		},
	}
}

func newDescribeCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "describe <tool>",
		Short: "Show one tool's description and input schema",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			facade, err := ctx.facade()
			if err != nil {
				return err
			}
			tool, err := facade.DescribeTool(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			if ctx.jsonOutput() {
				return writeJSON(cmd, tool)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Name:        %s\n", tool.Name)
			fmt.Fprintf(out, "Description: %s\n", tool.Description)
			if len(tool.InputSchema) > 0 {
				var pretty bytes.Buffer
				if err := json.Indent(&pretty, tool.InputSchema, "", "  "); err == nil {
					fmt.Fprintf(out, "Input schema:\n%s\n", pretty.String())
				} else {
					fmt.Fprintf(out, "Input schema: %s\n", string(tool.InputSchema))
				}
			}
			return nil
		},
	}
}

func newCallCommand(ctx *commandContext) *cobra.Command {
	var timeoutSeconds int

	cmd := &cobra.Command{
		Use:   "call <tool> [arguments-json]",
		Short: "Invoke a tool with JSON arguments",
		Long: `Invoke a tool with JSON arguments.

Arguments are read from the second positional argument, or from stdin when
it is "-". Omitting them sends an empty object.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			arguments, err := readCallArguments(cmd, args)
			if err != nil {
				return err
			}

			facade, err := ctx.facade()
			if err != nil {
				return err
			}
			resp, err := facade.CallTool(cmd.Context(), args[0], arguments,
				time.Duration(timeoutSeconds)*time.Second)
			if err != nil {
				return err
			}

			if ctx.jsonOutput() {
				return writeJSON(cmd, resp)
			}

			out := cmd.OutOrStdout()
			if resp.Text != "" {
				fmt.Fprintln(out, resp.Text)
				return nil
			}
			if len(resp.Content) > 0 {
				fmt.Fprintln(out, string(resp.Content))
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&timeoutSeconds, "timeout", 0, "Per-call timeout in seconds (0 uses the daemon default)")
	return cmd
}

func readCallArguments(cmd *cobra.Command, args []string) (json.RawMessage, error) {
	raw := "{}"
	if len(args) == 2 {
		raw = strings.TrimSpace(args[1])
	}
	if raw == "-" {
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return nil, fmt.Errorf("read arguments from stdin: %w", err)
		}
		raw = strings.TrimSpace(string(data))
	}
	if raw == "" {
		raw = "{}"
	}
	if !json.Valid([]byte(raw)) {
		return nil, fmt.Errorf("arguments are not valid JSON")
	}
	return json.RawMessage(raw), nil
}
