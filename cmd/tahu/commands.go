package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"runtime"
	"strconv"

	"github.com/tfarhan00/tahu-program/pkg/audit"
	"github.com/tfarhan00/tahu-program/pkg/config"
	"github.com/tfarhan00/tahu-program/pkg/dao"
	"github.com/tfarhan00/tahu-program/pkg/store"
)

type pinger interface {
	Ping(ctx context.Context) error
}

// runMigrateCmd implements `tahu migrate`. Only SQL stores have a schema.
func runMigrateCmd(a *app, stdout, stderr io.Writer) int {
	sqlStore, ok := a.store.(*store.SQLStore)
	if !ok {
		_, _ = fmt.Fprintf(stdout, "store %s has no schema to migrate\n", a.cfg.Store)
		return 0
	}
	if err := sqlStore.Migrate(a.ctx); err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: migrate: %v\n", err)
		return 2
	}
	_, _ = fmt.Fprintf(stdout, "migrated %s store\n", a.cfg.Store)
	return 0
}

// runDoctorCmd implements `tahu doctor`.
//
// Exit codes:
//
//	0 = all checks ok
//	1 = at least one check failed
func runDoctorCmd(stdout, stderr io.Writer) int {
	type checkResult struct {
		Name   string `json:"name"`
		Status string `json:"status"` // "ok", "fail"
		Detail string `json:"detail,omitempty"`
	}

	var results []checkResult
	allOK := true
	check := func(name string, err error, detail string) {
		if err != nil {
			results = append(results, checkResult{Name: name, Status: "fail", Detail: err.Error()})
			allOK = false
			return
		}
		results = append(results, checkResult{Name: name, Status: "ok", Detail: detail})
	}

	results = append(results, checkResult{
		Name:   "go_runtime",
		Status: "ok",
		Detail: fmt.Sprintf("%s %s/%s", runtime.Version(), runtime.GOOS, runtime.GOARCH),
	})

	cfg := config.Load()
	check("config", cfg.Validate(), fmt.Sprintf("store=%s log=%s/%s", cfg.Store, cfg.LogLevel, cfg.LogFormat))

	profile, err := config.LoadProfile(cfg.ProfilePath)
	if err == nil {
		_, err = profile.Rule()
	}
	detail := ""
	if profile != nil {
		detail = fmt.Sprintf("schema=%s counting=%s execution=%s", profile.SchemaVersion, profile.VoteCounting, profile.ExecutionMode)
	}
	check("profile", err, detail)

	if allOK {
		ctx := context.Background()
		s, err := openStore(ctx, cfg)
		if err == nil {
			if p, ok := s.(pinger); ok {
				err = p.Ping(ctx)
			}
			_ = s.Close()
		}
		check("store", err, cfg.Store)
	}

	for _, r := range results {
		_, _ = fmt.Fprintf(stdout, "[%-4s] %-10s %s\n", r.Status, r.Name, r.Detail)
	}
	if !allOK {
		_, _ = fmt.Fprintln(stderr, "doctor: one or more checks failed")
		return 1
	}
	return 0
}

// runInspectCmd implements `tahu inspect dao <id>` and
// `tahu inspect proposal <dao> <id>`.
func runInspectCmd(a *app, args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		_, _ = fmt.Fprintln(stderr, "Usage: tahu inspect dao <id> | tahu inspect proposal <dao> <id>")
		return 2
	}

	var (
		record any
		err    error
	)
	switch args[0] {
	case "dao":
		record, err = a.engine.GetDAO(a.ctx, dao.ID(args[1]))
	case "proposal":
		if len(args) < 3 {
			_, _ = fmt.Fprintln(stderr, "Usage: tahu inspect proposal <dao> <id>")
			return 2
		}
		id, perr := strconv.ParseUint(args[2], 10, 64)
		if perr != nil {
			_, _ = fmt.Fprintf(stderr, "Error: invalid proposal id %q\n", args[2])
			return 2
		}
		record, err = a.engine.GetProposal(a.ctx, dao.ID(args[1]), id)
	default:
		_, _ = fmt.Fprintf(stderr, "Unknown inspect target: %s\n", args[0])
		return 2
	}
	if err != nil {
		return reportLookupError(stderr, err)
	}
	if err := writeJSON(stdout, record); err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	return 0
}

// runEvaluateCmd implements `tahu evaluate <dao> <id>`. It exits 0 when
// the proposal would execute and 1 when it would not.
func runEvaluateCmd(a *app, args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		_, _ = fmt.Fprintln(stderr, "Usage: tahu evaluate <dao> <id>")
		return 2
	}
	id, err := strconv.ParseUint(args[1], 10, 64)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: invalid proposal id %q\n", args[1])
		return 2
	}

	decision, err := a.engine.Evaluate(a.ctx, dao.ID(args[0]), id)
	if err != nil {
		return reportLookupError(stderr, err)
	}
	if err := writeJSON(stdout, decision); err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	if !decision.Approved {
		return 1
	}
	return 0
}

// runVerifyCmd implements `tahu verify`.
//
// Exit codes:
//
//	0 = journal chain intact
//	1 = chain broken
//	2 = runtime error
func runVerifyCmd(a *app, args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("verify", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	var jsonOutput bool
	cmd.BoolVar(&jsonOutput, "json", false, "Output result as JSON")
	if err := cmd.Parse(args); err != nil {
		return 2
	}

	ctx, finish := a.telemetry.TrackOperation(a.ctx, "cli.verify")
	entries, err := a.store.Journal(ctx)
	if err != nil {
		finish(err)
		_, _ = fmt.Fprintf(stderr, "Error: read journal: %v\n", err)
		return 2
	}
	verr := audit.Verify(entries)
	finish(verr)

	head := audit.GenesisHead
	if len(entries) > 0 {
		head = audit.HeadOf(entries[len(entries)-1])
	}

	if jsonOutput {
		report := struct {
			Verified bool   `json:"verified"`
			Entries  int    `json:"entries"`
			Sequence uint64 `json:"head_sequence"`
			Hash     string `json:"head_hash"`
			Error    string `json:"error,omitempty"`
		}{Verified: verr == nil, Entries: len(entries), Sequence: head.Sequence, Hash: head.Hash}
		if verr != nil {
			report.Error = verr.Error()
		}
		if err := writeJSON(stdout, report); err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
			return 2
		}
	} else if verr == nil {
		_, _ = fmt.Fprintf(stdout, "journal ok: %d entries, head %d %s\n", len(entries), head.Sequence, head.Hash)
	}

	if verr != nil {
		_, _ = fmt.Fprintf(stderr, "journal broken: %v\n", verr)
		return 1
	}
	return 0
}

func reportLookupError(stderr io.Writer, err error) int {
	_, _ = fmt.Fprintf(stderr, "Error: %v (%s)\n", err, dao.ErrorCode(err))
	if errors.Is(err, dao.ErrNotFound) {
		return 1
	}
	return 2
}
