package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/CellarDoorExits/mcp-server/pkg/codec"
	"github.com/CellarDoorExits/mcp-server/pkg/contracts"
	"github.com/CellarDoorExits/mcp-server/pkg/service"
)

type departOptions struct {
	origin      string
	exitType    string
	subject     string
	reason      string
	predecessor string
	platforms   []string
	generation  int
	snapHash    string
	snapLoc     string
	snapSize    int64
	out         string
}

func newDepartCmd(a *app) *cobra.Command {
	var o departOptions
	cmd := &cobra.Command{
		Use:   "depart",
		Short: "Create and sign an exit marker",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			st, err := a.open(ctx)
			if err != nil {
				return err
			}
			defer st.close(ctx)

			req := service.DepartRequest{
				Subject:  o.subject,
				Origin:   o.origin,
				ExitType: o.exitType,
				Reason:   o.reason,
			}
			flags := cmd.Flags()
			if flags.Changed("predecessor") || flags.Changed("platform") || flags.Changed("generation") {
				req.Lineage = &contracts.Lineage{
					PredecessorID: o.predecessor,
					Platforms:     o.platforms,
					Generation:    o.generation,
				}
			}
			if o.snapHash != "" {
				req.StateSnapshot = &contracts.StateSnapshot{Hash: o.snapHash, Location: o.snapLoc, SizeBytes: o.snapSize}
			}

			m, err := st.svc.Depart(ctx, st.sessions.Open(), req, a.now())
			if err != nil {
				return err
			}
			data, err := codec.EncodeExit(m)
			if err != nil {
				return err
			}
			data = append(data, '\n')
			if o.out != "" {
				if err := os.WriteFile(o.out, data, 0o644); err != nil {
					return fmt.Errorf("write %s: %w", o.out, err)
				}
				fmt.Fprintf(a.stdout, "%s\n", m.ID)
				return nil
			}
			_, err = a.stdout.Write(data)
			return err
		},
	}
	f := cmd.Flags()
	f.StringVar(&o.origin, "origin", "", "platform being departed (required)")
	f.StringVar(&o.exitType, "type", "", "exit type: Voluntary, Forced, Emergency or KeyCompromise (required)")
	f.StringVar(&o.subject, "subject", "", "agent identifier (default: the signing DID)")
	f.StringVar(&o.reason, "reason", "", "free-text departure reason")
	f.StringVar(&o.predecessor, "predecessor", "", "lineage: id of the previous exit marker")
	f.StringSliceVar(&o.platforms, "platform", nil, "lineage: previously hosting platform (repeatable)")
	f.IntVar(&o.generation, "generation", 0, "lineage: generation number")
	f.StringVar(&o.snapHash, "snapshot-hash", "", "state snapshot hash")
	f.StringVar(&o.snapLoc, "snapshot-location", "", "state snapshot location")
	f.Int64Var(&o.snapSize, "snapshot-size", 0, "state snapshot size in bytes")
	f.StringVarP(&o.out, "out", "o", "", "write the marker to a file and print its id")
	_ = cmd.MarkFlagRequired("origin")
	_ = cmd.MarkFlagRequired("type")
	return cmd
}

func newEvaluateCmd(a *app) *cobra.Command {
	var policy string
	cmd := &cobra.Command{
		Use:   "evaluate <exit-marker.json|->",
		Short: "Evaluate an exit marker against an admission policy",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			data, err := readInput(cmd, args[0])
			if err != nil {
				return err
			}
			st, err := a.open(ctx)
			if err != nil {
				return err
			}
			defer st.close(ctx)

			res, err := st.svc.Evaluate(ctx, data, policy, a.now())
			if err != nil {
				return err
			}
			if err := a.printJSON(res); err != nil {
				return err
			}
			if !res.Admitted {
				return errFailed
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&policy, "policy", "p", "", "policy preset (ignored when the deployment configures one)")
	return cmd
}

func newAdmitCmd(a *app) *cobra.Command {
	var policy, destination string
	cmd := &cobra.Command{
		Use:   "admit <exit-marker.json|->",
		Short: "Evaluate an exit marker and mint a signed arrival marker when admitted",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			data, err := readInput(cmd, args[0])
			if err != nil {
				return err
			}
			st, err := a.open(ctx)
			if err != nil {
				return err
			}
			defer st.close(ctx)

			adm, err := st.svc.Admit(ctx, st.sessions.Open(), data, policy, destination, a.now())
			if err != nil {
				return err
			}
			if err := a.printJSON(adm); err != nil {
				return err
			}
			if !adm.Result.Admitted {
				return errFailed
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&policy, "policy", "p", "", "policy preset (ignored when the deployment configures one)")
	cmd.Flags().StringVar(&destination, "destination", "", "destination recorded on the arrival (default: CELLAR_DOOR_PLATFORM_ID)")
	return cmd
}

func newVerifyCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "verify <marker.json|->",
		Short: "Verify the signature of an exit or arrival marker",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			data, err := readInput(cmd, args[0])
			if err != nil {
				return err
			}
			st, err := a.open(ctx)
			if err != nil {
				return err
			}
			defer st.close(ctx)

			res, err := st.svc.VerifyMarker(ctx, data)
			if err != nil {
				return err
			}
			if err := a.printJSON(res); err != nil {
				return err
			}
			if !res.Valid {
				return errFailed
			}
			return nil
		},
	}
}

func newVerifyTransferCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "verify-transfer <exit-marker.json> <arrival-marker.json>",
		Short: "Verify that an arrival marker continues from an exit marker",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			exit, err := readInput(cmd, args[0])
			if err != nil {
				return err
			}
			arrival, err := readInput(cmd, args[1])
			if err != nil {
				return err
			}
			st, err := a.open(ctx)
			if err != nil {
				return err
			}
			defer st.close(ctx)

			rec, err := st.svc.VerifyTransfer(ctx, exit, arrival)
			if err != nil {
				return err
			}
			if err := a.printJSON(rec); err != nil {
				return err
			}
			if !rec.Verified {
				return errFailed
			}
			return nil
		},
	}
}
