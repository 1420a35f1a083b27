package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/adhocore/gronx"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/clawden/internal/config"
	"github.com/nextlevelbuilder/clawden/internal/store"
	"github.com/nextlevelbuilder/clawden/internal/workspace"
)

func cronCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cron",
		Short: "Manage scheduled jobs",
	}
	cmd.AddCommand(cronListCmd())
	cmd.AddCommand(cronAddCmd())
	cmd.AddCommand(cronRemoveCmd())
	return cmd
}

func openJobStore() (*store.Store, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	ws, err := workspace.NewManager(cfg.Home)
	if err != nil {
		return nil, err
	}
	dataDir, err := ws.DataDir()
	if err != nil {
		return nil, err
	}
	return store.Open(filepath.Join(dataDir, "clawden.db"))
}

func cronListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List scheduled jobs",
		Run: func(cmd *cobra.Command, args []string) {
			st, err := openJobStore()
			if err != nil {
				fmt.Fprintln(os.Stderr, "error:", err)
				os.Exit(1)
			}
			defer st.Close()

			jobs, err := st.ListJobs(context.Background())
			if err != nil {
				fmt.Fprintln(os.Stderr, "error:", err)
				os.Exit(1)
			}
			if len(jobs) == 0 {
				fmt.Println("no jobs scheduled")
				return
			}
			for _, j := range jobs {
				when := j.CronExpr
				if j.Kind == store.JobKindOnce {
					when = "at " + j.At.Format(time.RFC3339)
				}
				fmt.Printf("%-36s  %-8s  %-20s  %s\n", j.ID, j.Kind, when, j.Prompt)
			}
		},
	}
}

func cronAddCmd() *cobra.Command {
	var (
		expr    string
		agentID string
		once    bool
	)
	cmd := &cobra.Command{
		Use:   "add <prompt>",
		Short: "Add a cron job",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			if !gronx.New().IsValid(expr) {
				fmt.Fprintf(os.Stderr, "error: invalid cron expression %q\n", expr)
				os.Exit(1)
			}
			st, err := openJobStore()
			if err != nil {
				fmt.Fprintln(os.Stderr, "error:", err)
				os.Exit(1)
			}
			defer st.Close()

			job := store.Job{
				ID:       uuid.NewString(),
				Kind:     store.JobKindCron,
				CronExpr: expr,
				AgentID:  agentID,
				Prompt:   args[0],
				RunOnce:  once,
			}
			if err := st.AddJob(context.Background(), job); err != nil {
				fmt.Fprintln(os.Stderr, "error:", err)
				os.Exit(1)
			}
			fmt.Println(job.ID)
		},
	}
	cmd.Flags().StringVar(&expr, "expr", "", "cron expression (required)")
	cmd.Flags().StringVar(&agentID, "agent", "", "target agent id (default: configured agent)")
	cmd.Flags().BoolVar(&once, "once", false, "delete the job after its first run")
	cmd.MarkFlagRequired("expr")
	return cmd
}

func cronRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <id>",
		Short: "Remove a scheduled job",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			st, err := openJobStore()
			if err != nil {
				fmt.Fprintln(os.Stderr, "error:", err)
				os.Exit(1)
			}
			defer st.Close()

			if err := st.RemoveJob(context.Background(), args[0]); err != nil {
				fmt.Fprintln(os.Stderr, "error:", err)
				os.Exit(1)
			}
			fmt.Println("removed", args[0])
		},
	}
}
