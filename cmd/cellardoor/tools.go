package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/CellarDoorExits/mcp-server/pkg/mcp"
)

func newPoliciesCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "policies",
		Short: "List the admission policies and the deployment policy in force",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			st, err := a.open(ctx)
			if err != nil {
				return err
			}
			defer st.close(ctx)
			return a.printJSON(st.svc.Policies())
		},
	}
}

func newCallCmd(a *app) *cobra.Command {
	var (
		sessionID string
		list      bool
	)
	cmd := &cobra.Command{
		Use:   "call <tool> [arguments-json|-]",
		Short: "Invoke a tool through the MCP dispatcher",
		Example: `  cellardoor call create_exit_marker '{"origin":"platform-a","exitType":"Voluntary"}'
  cellardoor call verify_marker - < marker-args.json
  cellardoor call --list`,
		Args: func(cmd *cobra.Command, args []string) error {
			if list {
				return cobra.NoArgs(cmd, args)
			}
			return cobra.RangeArgs(1, 2)(cmd, args)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			st, err := a.open(ctx)
			if err != nil {
				return err
			}
			defer st.close(ctx)

			if list {
				return a.printJSON(st.dispatcher.Tools())
			}

			req := mcp.ToolExecutionRequest{ToolName: args[0], SessionID: sessionID}
			if len(args) == 2 {
				raw := []byte(args[1])
				if args[1] == "-" {
					if raw, err = readInput(cmd, "-"); err != nil {
						return err
					}
				}
				if err := json.Unmarshal(raw, &req.Arguments); err != nil {
					return fmt.Errorf("tool arguments must be a JSON object: %w", err)
				}
			}

			resp := st.dispatcher.Call(ctx, req)
			if err := a.printJSON(resp); err != nil {
				return err
			}
			if resp.IsError {
				return fmt.Errorf("tool %s: %s", req.ToolName, resp.Error)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&sessionID, "session", "", "session id (UUID); empty uses a fresh default session")
	cmd.Flags().BoolVar(&list, "list", false, "list the available tools")
	return cmd
}
