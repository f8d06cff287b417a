// Command scenarioctl drives scenario workspaces from the command line:
// provisioning, snapshot capture, launch, reset, restart, pause/resume, and
// status inspection. Storage and archive backends are selected through the
// HACCARE_* environment variables.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"haccare/internal/core"
	"haccare/internal/infra/archive"
	"haccare/pkg/domain"
)

const usage = `usage: scenarioctl <command> [flags]

commands:
  provision   create an empty workspace in pending status
  capture     capture a snapshot of a template workspace
  launch      restore a template snapshot into a pending workspace
  reset       wipe a running workspace and restore its template baseline
  restart     rerun a completed workspace
  pause       pause a running workspace
  resume      resume a paused workspace
  complete    mark a running workspace completed
  status      show a workspace's lifecycle state and snapshot version
`

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "scenarioctl: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	if len(args) == 0 {
		fmt.Fprint(os.Stderr, usage)
		return fmt.Errorf("missing command")
	}
	command, rest := args[0], args[1:]
	if command == "help" || command == "-h" || command == "--help" {
		fmt.Print(usage)
		return nil
	}

	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx := context.Background()
	store, err := core.OpenStore()
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() { _ = store.Close() }()

	archiveStore, err := archive.OpenFromEnv(ctx)
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}

	opts := []core.Option{core.WithLogger(logger)}
	if archiveStore != nil {
		opts = append(opts, core.WithArchive(archiveStore))
	}
	svc, err := core.NewService(store, nil, opts...)
	if err != nil {
		return fmt.Errorf("init service: %w", err)
	}

	switch command {
	case "provision":
		return runProvision(ctx, svc, rest)
	case "capture":
		return runCapture(ctx, svc, rest)
	case "launch":
		return runLaunch(ctx, svc, rest)
	case "reset":
		return runReset(ctx, svc, rest)
	case "restart":
		return runRestart(ctx, svc, rest)
	case "pause", "resume", "complete":
		return runStatusChange(ctx, svc, command, rest)
	case "status":
		return runStatus(ctx, svc, rest)
	default:
		fmt.Fprint(os.Stderr, usage)
		return fmt.Errorf("unknown command %q", command)
	}
}

func newFlagSet(name string) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.SortFlags = false
	return fs
}

// scope builds the restore scope from --session / --ephemeral.
func scope(sessionID string, ephemeral bool) (domain.Scope, error) {
	if ephemeral && sessionID != "" {
		return nil, fmt.Errorf("--session and --ephemeral are mutually exclusive")
	}
	if sessionID != "" {
		return domain.SessionScope{SessionID: sessionID}, nil
	}
	return domain.EphemeralScope{}, nil
}

func printJSON(v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func runProvision(ctx context.Context, svc *core.Service, args []string) error {
	fs := newFlagSet("provision")
	workspace := fs.String("workspace", "", "workspace id (generated when empty)")
	tenant := fs.String("tenant", "", "tenant namespace (required)")
	template := fs.String("template", "", "optional template binding")
	if err := fs.Parse(args); err != nil {
		return err
	}
	ws, err := svc.Provision(ctx, core.ProvisionRequest{
		WorkspaceID: *workspace,
		TenantID:    *tenant,
		TemplateID:  *template,
	})
	if err != nil {
		return err
	}
	return printJSON(ws)
}

func runCapture(ctx context.Context, svc *core.Service, args []string) error {
	fs := newFlagSet("capture")
	workspace := fs.String("workspace", "", "template workspace to capture (required)")
	actor := fs.String("actor", "", "actor recorded in the audit trail")
	if err := fs.Parse(args); err != nil {
		return err
	}
	snapshot, err := svc.CaptureSnapshot(ctx, core.CaptureRequest{
		TemplateWorkspaceID: *workspace,
		Actor:               *actor,
	})
	if err != nil {
		return err
	}
	fmt.Printf("captured snapshot version %d of template %s\n", snapshot.Version, snapshot.TemplateID)
	counts := snapshot.Document.Counts()
	entities := make([]string, 0, len(counts))
	for entity := range counts {
		entities = append(entities, string(entity))
	}
	sort.Strings(entities)
	for _, entity := range entities {
		fmt.Printf("  %s: %d rows\n", entity, counts[domain.EntityType(entity)])
	}
	return nil
}

func runLaunch(ctx context.Context, svc *core.Service, args []string) error {
	fs := newFlagSet("launch")
	template := fs.String("template", "", "template workspace id (required)")
	workspace := fs.String("workspace", "", "target workspace id (required)")
	tenant := fs.String("tenant", "", "expected tenant namespace")
	session := fs.String("session", "", "session id for a durable identifier mapping")
	ephemeral := fs.Bool("ephemeral", false, "use throwaway identifiers")
	actor := fs.String("actor", "", "actor recorded in the audit trail")
	if err := fs.Parse(args); err != nil {
		return err
	}
	sc, err := scope(*session, *ephemeral)
	if err != nil {
		return err
	}
	result, err := svc.Launch(ctx, core.LaunchRequest{
		TemplateID:        *template,
		TargetWorkspaceID: *workspace,
		ExpectedTenant:    *tenant,
		Scope:             sc,
		Actor:             *actor,
	})
	if err != nil {
		return err
	}
	return printJSON(result)
}

func runReset(ctx context.Context, svc *core.Service, args []string) error {
	fs := newFlagSet("reset")
	workspace := fs.String("workspace", "", "workspace id (required)")
	tenant := fs.String("tenant", "", "expected tenant namespace")
	session := fs.String("session", "", "session id for a durable identifier mapping")
	ephemeral := fs.Bool("ephemeral", false, "use throwaway identifiers")
	actor := fs.String("actor", "", "actor recorded in the audit trail")
	if err := fs.Parse(args); err != nil {
		return err
	}
	sc, err := scope(*session, *ephemeral)
	if err != nil {
		return err
	}
	result, err := svc.Reset(ctx, core.ResetRequest{
		WorkspaceID:    *workspace,
		ExpectedTenant: *tenant,
		Scope:          sc,
		Actor:          *actor,
	})
	if err != nil {
		return err
	}
	return printJSON(result)
}

func runRestart(ctx context.Context, svc *core.Service, args []string) error {
	fs := newFlagSet("restart")
	workspace := fs.String("workspace", "", "workspace id (required)")
	tenant := fs.String("tenant", "", "expected tenant namespace")
	session := fs.String("session", "", "session id for a durable identifier mapping")
	ephemeral := fs.Bool("ephemeral", false, "use throwaway identifiers")
	actor := fs.String("actor", "", "actor recorded in the audit trail")
	if err := fs.Parse(args); err != nil {
		return err
	}
	sc, err := scope(*session, *ephemeral)
	if err != nil {
		return err
	}
	result, err := svc.Restart(ctx, core.RestartRequest{
		WorkspaceID:    *workspace,
		ExpectedTenant: *tenant,
		Scope:          sc,
		Actor:          *actor,
	})
	if err != nil {
		return err
	}
	return printJSON(result)
}

func runStatusChange(ctx context.Context, svc *core.Service, command string, args []string) error {
	fs := newFlagSet(command)
	workspace := fs.String("workspace", "", "workspace id (required)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	var err error
	switch command {
	case "pause":
		err = svc.Pause(ctx, *workspace)
	case "resume":
		err = svc.Resume(ctx, *workspace)
	case "complete":
		err = svc.Complete(ctx, *workspace)
	}
	if err != nil {
		return err
	}
	fmt.Printf("workspace %s: %s applied\n", *workspace, command)
	return nil
}

func runStatus(ctx context.Context, svc *core.Service, args []string) error {
	fs := newFlagSet("status")
	workspace := fs.String("workspace", "", "workspace id (required)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	info, err := svc.Status(ctx, *workspace)
	if err != nil {
		return err
	}
	return printJSON(info)
}
