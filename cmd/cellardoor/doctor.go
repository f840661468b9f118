package main

import (
	"context"
	"fmt"
	"runtime"
	"strings"

	"github.com/spf13/cobra"

	"github.com/CellarDoorExits/mcp-server/pkg/admission"
	"github.com/CellarDoorExits/mcp-server/pkg/codec"
	"github.com/CellarDoorExits/mcp-server/pkg/contracts"
	"github.com/CellarDoorExits/mcp-server/pkg/service"
)

type checkResult struct {
	Name   string `json:"name"`
	Status string `json:"status"` // "ok", "warn", "fail"
	Detail string `json:"detail,omitempty"`
}

func newDoctorCmd(a *app) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check configuration, policies and signing",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			results := a.doctor(cmd.Context())
			allOK := true
			for _, r := range results {
				if r.Status == "fail" {
					allOK = false
				}
			}
			if asJSON {
				if err := a.printJSON(results); err != nil {
					return err
				}
			} else {
				fmt.Fprintln(a.stdout, "Cellar Door Doctor")
				for _, r := range results {
					fmt.Fprintf(a.stdout, "  [%-4s] %-16s %s\n", r.Status, r.Name, r.Detail)
				}
			}
			if !allOK {
				return errFailed
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print results as JSON")
	return cmd
}

func (a *app) doctor(ctx context.Context) []checkResult {
	results := []checkResult{{
		Name:   "go_runtime",
		Status: "ok",
		Detail: fmt.Sprintf("%s %s/%s", runtime.Version(), runtime.GOOS, runtime.GOARCH),
	}}

	server, err := a.cfg.ServerPolicy()
	switch {
	case err != nil:
		results = append(results, checkResult{Name: "server_policy", Status: "fail", Detail: err.Error()})
	case server == nil:
		results = append(results, checkResult{Name: "server_policy", Status: "ok", Detail: "none; callers select a preset"})
	default:
		results = append(results, checkResult{Name: "server_policy", Status: "ok", Detail: server.Name})
	}

	presets := checkResult{Name: "presets", Status: "ok"}
	for _, p := range admission.AllPresets() {
		if _, err := p.Policy(); err != nil {
			presets = checkResult{Name: "presets", Status: "fail", Detail: err.Error()}
			break
		}
		presets.Detail = strings.TrimPrefix(presets.Detail+", "+string(p), ", ")
	}
	results = append(results, presets)

	if a.cfg.OTelEnabled {
		results = append(results, checkResult{Name: "telemetry", Status: "ok", Detail: "exporting to " + a.cfg.OTLPEndpoint})
	} else {
		results = append(results, checkResult{Name: "telemetry", Status: "warn", Detail: "OTEL_ENABLED not set"})
	}

	if err != nil {
		results = append(results, checkResult{Name: "signing", Status: "fail", Detail: "skipped: server policy did not load"})
		return results
	}
	results = append(results, a.signingCheck(ctx))
	return results
}

// signingCheck signs a throwaway exit marker and verifies it through the
// full codec and verifier path.
func (a *app) signingCheck(ctx context.Context) checkResult {
	fail := func(err error) checkResult {
		return checkResult{Name: "signing", Status: "fail", Detail: err.Error()}
	}
	st, err := a.open(ctx)
	if err != nil {
		return fail(err)
	}
	defer st.close(ctx)

	m, err := st.svc.Depart(ctx, st.sessions.Open(), service.DepartRequest{
		Origin:   "doctor",
		ExitType: string(contracts.ExitVoluntary),
	}, a.now())
	if err != nil {
		return fail(err)
	}
	data, err := codec.EncodeExit(m)
	if err != nil {
		return fail(err)
	}
	res, err := st.svc.VerifyMarker(ctx, data)
	if err != nil {
		return fail(err)
	}
	if !res.Valid {
		return checkResult{Name: "signing", Status: "fail", Detail: fmt.Sprint(res.Errors)}
	}
	return checkResult{Name: "signing", Status: "ok", Detail: "ed25519 round trip as " + m.Signer}
}
