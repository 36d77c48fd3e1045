package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"agentforge/internal/types"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	projectUserID string
	projectNoRun  bool
	messagesCode  bool
	messagesPlain bool
	messagesJSON  bool
)

// projectCmd groups project commands
var projectCmd = &cobra.Command{
	Use:   "project",
	Short: "Create and list projects",
}

var projectCreateCmd = &cobra.Command{
	Use:   "create [prompt]",
	Short: "Create a project from a prompt and build it",
	Long: `Creates a project with a generated two-word name, stores the prompt as its
first message, then runs the build. Use --no-run to only create the project.`,
	Args: cobra.MinimumNArgs(1),
	RunE: createProject,
}

var projectListCmd = &cobra.Command{
	Use:   "list",
	Short: "List a user's projects, newest first",
	RunE:  listProjects,
}

// messagesCmd lists a project's messages
var messagesCmd = &cobra.Command{
	Use:   "messages [project-id]",
	Short: "Show a project's messages, newest first",
	Args:  cobra.ExactArgs(1),
	RunE:  listMessages,
}

// messageCmd groups single-message commands
var messageCmd = &cobra.Command{
	Use:   "message",
	Short: "Manage individual messages",
}

var messageDeleteCmd = &cobra.Command{
	Use:   "delete [message-id]",
	Short: "Delete a message and its fragment",
	Args:  cobra.ExactArgs(1),
	RunE:  deleteMessage,
}

func init() {
	projectCmd.PersistentFlags().StringVar(&projectUserID, "user", "", "Project owner (default: server.default_user_id)")
	projectCreateCmd.Flags().BoolVar(&projectNoRun, "no-run", false, "Create the project without building it")
	projectCmd.AddCommand(projectCreateCmd)
	projectCmd.AddCommand(projectListCmd)

	messagesCmd.Flags().BoolVar(&messagesCode, "code", false, "Print file contents")
	messagesCmd.Flags().BoolVar(&messagesPlain, "plain", false, "Disable markdown rendering")
	messagesCmd.Flags().BoolVar(&messagesJSON, "json", false, "Output JSON")

	messageCmd.AddCommand(messageDeleteCmd)
}

func ownerOr(flag, fallback string) string {
	if flag != "" {
		return flag
	}
	return fallback
}

func createProject(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg, ws, err := loadConfig()
	if err != nil {
		return err
	}

	var a *app
	if projectNoRun {
		a, err = openStore(cfg, ws)
	} else {
		a, err = wireApp(ctx, cfg, ws)
	}
	if err != nil {
		return err
	}
	defer a.close()

	prompt := strings.Join(args, " ")
	p, err := a.gateway.CreateProject(ctx, ownerOr(projectUserID, cfg.Server.DefaultUserID), prompt)
	if err != nil {
		return fmt.Errorf("create project: %w", err)
	}
	logger.Info("Created project", zap.String("id", p.ID), zap.String("name", p.Name))
	fmt.Fprintf(cmd.OutOrStdout(), "Created project %s (%s)\n", titleStyle.Render(p.Name), p.ID)

	if projectNoRun {
		return nil
	}
	outcome := a.runner.Run(ctx, types.WorkflowRequest{Prompt: prompt, ProjectID: p.ID})
	printOutcome(cmd, p.ID, outcome)
	if !outcome.Success {
		return fmt.Errorf("run %s failed", outcome.RunID)
	}
	return nil
}

func listProjects(cmd *cobra.Command, args []string) error {
	cfg, ws, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := openStore(cfg, ws)
	if err != nil {
		return err
	}
	defer a.close()

	projects, err := a.store.ListProjects(cmd.Context(), ownerOr(projectUserID, cfg.Server.DefaultUserID))
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if len(projects) == 0 {
		fmt.Fprintln(out, dimStyle.Render("no projects"))
		return nil
	}
	for _, p := range projects {
		fmt.Fprintf(out, "%s  %s  %s\n", p.ID, titleStyle.Render(p.Name), dimStyle.Render(p.CreatedAt.Format("2006-01-02 15:04")))
	}
	return nil
}

func listMessages(cmd *cobra.Command, args []string) error {
	cfg, ws, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := openStore(cfg, ws)
	if err != nil {
		return err
	}
	defer a.close()

	msgs, err := a.store.ListMessages(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	if messagesJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		if msgs == nil {
			msgs = []types.Message{}
		}
		return enc.Encode(msgs)
	}
	renderMessages(cmd.OutOrStdout(), msgs, messagesCode, messagesPlain)
	return nil
}

func deleteMessage(cmd *cobra.Command, args []string) error {
	cfg, ws, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := openStore(cfg, ws)
	if err != nil {
		return err
	}
	defer a.close()

	if err := a.store.DeleteMessage(cmd.Context(), args[0]); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Deleted message %s\n", args[0])
	return nil
}
