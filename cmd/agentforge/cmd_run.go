package main

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"agentforge/internal/types"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	runProjectID string
	runResumeID  string
	runUserID    string
)

// runCmd executes one build synchronously
var runCmd = &cobra.Command{
	Use:   "run [prompt]",
	Short: "Build a project from a prompt and wait for the result",
	Long: `Runs one workflow in the foreground: provision a sandbox, let the agent
build the project, then save the result (or an error) to the project.

Without --project a new project is created with the prompt as its first message.
With --resume the run id's completed steps are replayed instead of repeated.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runBuild,
}

func init() {
	runCmd.Flags().StringVarP(&runProjectID, "project", "p", "", "Existing project id")
	runCmd.Flags().StringVar(&runResumeID, "resume", "", "Resume an interrupted run by id")
	runCmd.Flags().StringVar(&runUserID, "user", "", "Owner of a newly created project (default: server.default_user_id)")
}

func runBuild(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, ws, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := wireApp(ctx, cfg, ws)
	if err != nil {
		return err
	}
	defer a.close()

	prompt := strings.Join(args, " ")
	projectID := runProjectID
	if projectID == "" {
		userID := runUserID
		if userID == "" {
			userID = cfg.Server.DefaultUserID
		}
		p, err := a.gateway.CreateProject(ctx, userID, prompt)
		if err != nil {
			return fmt.Errorf("create project: %w", err)
		}
		projectID = p.ID
		logger.Info("Created project", zap.String("id", p.ID), zap.String("name", p.Name))
	} else if runResumeID == "" {
		if _, err := a.gateway.SaveUserMessage(ctx, projectID, prompt); err != nil {
			return err
		}
	}

	req := types.WorkflowRequest{Prompt: prompt, ProjectID: projectID}
	var outcome types.Outcome
	if runResumeID != "" {
		outcome = a.runner.Resume(ctx, runResumeID, req)
	} else {
		outcome = a.runner.Run(ctx, req)
	}

	printOutcome(cmd, projectID, outcome)
	if !outcome.Success {
		return fmt.Errorf("run %s failed", outcome.RunID)
	}
	return nil
}

func printOutcome(cmd *cobra.Command, projectID string, o types.Outcome) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Project: %s\nRun:     %s\n", projectID, o.RunID)
	if !o.Success {
		fmt.Fprintln(out, errorStyle.Render("Error: "+o.Message))
		return
	}
	fmt.Fprintln(out, titleStyle.Render(o.Title))
	if o.URL != "" {
		fmt.Fprintf(out, "Preview: %s\n", o.URL)
	}
	for _, p := range sortedKeys(o.Files) {
		fmt.Fprintf(out, "  %s\n", p)
	}
}
