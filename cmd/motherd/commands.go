package main

import (
	"bufio"
	"context"
	stdErrors "errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"Mother-Agent/internal/agent"
	"Mother-Agent/internal/observability/metrics"
	"Mother-Agent/internal/task"
	"Mother-Agent/pkg/logger"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run job workers (and the metrics listener when configured)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := bootstrap(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			jobs, err := newJobPipeline(ctx, cfg)
			if err != nil {
				return err
			}
			defer jobs.service.Close()

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				return jobs.processor(a.sessions, cfg).Start(gctx)
			})
			if addr := cfg.Server.MetricsAddress; addr != "" {
				g.Go(func() error { return metrics.StartServer(gctx, addr) })
			}
			g.Go(func() error {
				ticker := time.NewTicker(time.Minute)
				defer ticker.Stop()
				for {
					select {
					case <-gctx.Done():
						return gctx.Err()
					case <-ticker.C:
						if n := a.sessions.Evict(); n > 0 {
							logger.L().Debug("evicted idle sessions", slog.Int("count", n))
						}
					}
				}
			})

			logger.L().Info("motherd serving",
				slog.String("queue", cfg.TaskQueue.Driver),
				slog.String("store", cfg.Storage.TaskStore.Driver),
				slog.Int("workers", cfg.TaskQueue.Worker),
			)
			if err := g.Wait(); err != nil && !stdErrors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}
}

func askCmd() *cobra.Command {
	var (
		sessionID string
		assumeYes bool
	)
	cmd := &cobra.Command{
		Use:   "ask [text]",
		Short: "Run a conversation turn; without text, start an interactive session",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := bootstrap(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			c := &console{
				sessions:  a.sessions,
				sessionID: sessionID,
				in:        bufio.NewReader(cmd.InOrStdin()),
				out:       cmd.OutOrStdout(),
				assumeYes: assumeYes,
			}
			if len(args) > 0 {
				c.ask(cmd.Context(), strings.Join(args, " "))
				return nil
			}
			return c.repl(cmd.Context())
		},
	}
	cmd.Flags().StringVarP(&sessionID, "session", "s", "", "session id to continue")
	cmd.Flags().BoolVarP(&assumeYes, "yes", "y", false, "approve destructive actions without prompting")
	return cmd
}

func planCmd() *cobra.Command {
	var (
		sessionID string
		assumeYes bool
	)
	cmd := &cobra.Command{
		Use:   "plan <text>",
		Short: "Create a multi-step plan, review it and execute on approval",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := bootstrap(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			c := &console{
				sessions:  a.sessions,
				sessionID: sessionID,
				in:        bufio.NewReader(cmd.InOrStdin()),
				out:       cmd.OutOrStdout(),
				assumeYes: assumeYes,
			}
			c.plan(cmd.Context(), strings.Join(args, " "))
			return nil
		},
	}
	cmd.Flags().StringVarP(&sessionID, "session", "s", "", "session id to continue")
	cmd.Flags().BoolVarP(&assumeYes, "yes", "y", false, "execute the plan without prompting")
	return cmd
}

func submitCmd() *cobra.Command {
	var (
		req  task.SubmitRequest
		kind string
		wait time.Duration
	)
	cmd := &cobra.Command{
		Use:   "submit [input]",
		Short: "Queue a turn job for the serve workers",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			jobs, err := newJobPipeline(ctx, cfg)
			if err != nil {
				return err
			}
			defer jobs.service.Close()

			// 内存队列只在本进程可见，就地起 worker 处理。
			if cfg.TaskQueue.Driver == "memory" {
				a, err := bootstrap(ctx, cfg)
				if err != nil {
					return err
				}
				defer a.Close()
				workerCtx, stop := context.WithCancel(ctx)
				defer stop()
				go func() { _ = jobs.processor(a.sessions, cfg).Start(workerCtx) }()
				if wait <= 0 {
					wait = 2 * time.Minute
				}
			}

			req.Kind = task.Kind(kind)
			req.Input = strings.Join(args, " ")
			job, err := jobs.service.Submit(ctx, req)
			if err != nil {
				return err
			}
			if wait > 0 {
				waitCtx, cancel := context.WithTimeout(ctx, wait)
				defer cancel()
				if job, err = jobs.service.WaitUntilCompleted(waitCtx, job.ID, 250*time.Millisecond); err != nil {
					return err
				}
			}
			renderJob(cmd.OutOrStdout(), job)
			return nil
		},
	}
	cmd.Flags().StringVar(&req.ID, "id", "", "idempotency key for the job")
	cmd.Flags().StringVarP(&req.SessionID, "session", "s", "", "session id (new session when empty)")
	cmd.Flags().StringVarP(&kind, "kind", "k", string(task.KindCommand), "command | confirm | plan | execute_plan")
	cmd.Flags().BoolVar(&req.PreConfirmed, "pre-confirmed", false, "resubmit a turn whose pending action the user approved")
	cmd.Flags().DurationVarP(&wait, "wait", "w", 0, "wait up to this long for the job to finish")
	return cmd
}

func jobCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "job",
		Short: "Inspect queued turn jobs",
	}

	get := &cobra.Command{
		Use:   "get <id>",
		Short: "Show a job and its result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jobs, err := newJobPipeline(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer jobs.service.Close()
			job, err := jobs.service.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			renderJob(cmd.OutOrStdout(), job)
			return nil
		},
	}

	var (
		sessionID string
		statuses  []string
		limit     int
		query     string
	)
	list := &cobra.Command{
		Use:   "list",
		Short: "List recent jobs",
		RunE: func(cmd *cobra.Command, _ []string) error {
			jobs, err := newJobPipeline(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer jobs.service.Close()

			filter := make([]task.Status, 0, len(statuses))
			for _, s := range statuses {
				filter = append(filter, task.Status(s))
			}
			opts := []task.ListOption{
				task.WithSession(sessionID),
				task.WithLimit(limit),
				task.WithQuery(query),
			}
			if len(filter) > 0 {
				opts = append(opts, task.WithStatuses(filter...))
			}
			found, err := jobs.service.List(cmd.Context(), opts...)
			if err != nil {
				return err
			}
			stats, err := jobs.service.Stats(cmd.Context(), task.WithSession(sessionID))
			if err != nil {
				return err
			}
			renderJobList(cmd.OutOrStdout(), found, stats)
			return nil
		},
	}
	list.Flags().StringVarP(&sessionID, "session", "s", "", "only jobs of this session")
	list.Flags().StringSliceVar(&statuses, "status", nil, "filter by status")
	list.Flags().IntVarP(&limit, "limit", "n", 20, "maximum number of jobs")
	list.Flags().StringVarP(&query, "query", "q", "", "match input, error or result text")

	cmd.AddCommand(get, list)
	return cmd
}

func toolsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tools",
		Short: "List the tool catalogue exposed to the model",
		RunE: func(cmd *cobra.Command, _ []string) error {
			tools, err := newToolManager(cfg)
			if err != nil {
				return err
			}
			if err := tools.StartAll(cmd.Context()); err != nil {
				return err
			}
			defer tools.StopAll(context.Background())

			w := cmd.OutOrStdout()
			namespace := ""
			for _, t := range tools.ListTools() {
				if t.Namespace != namespace {
					namespace = t.Namespace
					fmt.Fprintln(w, headerStyle.Sprint(namespace))
				}
				line := fmt.Sprintf("  %-24s %s", t.Command, t.Description)
				if t.RequiresConfirmation {
					line += " " + warnStyle.Sprint("[confirm]")
				}
				fmt.Fprintln(w, line)
			}
			return nil
		},
	}
}

// console 驱动终端上的交互回合。
type console struct {
	sessions  *agent.Sessions
	sessionID string
	in        *bufio.Reader
	out       io.Writer
	assumeYes bool
}

func (c *console) ask(ctx context.Context, input string) {
	resp := c.sessions.Process(ctx, c.sessionID, input, false)
	c.sessionID = resp.SessionID
	renderResponse(c.out, resp)

	for resp.PendingConfirmation != nil {
		if !c.approve("Proceed?") {
			renderResponse(c.out, c.sessions.Cancel(c.sessionID))
			return
		}
		confirmed, err := c.sessions.Confirm(ctx, c.sessionID, resp.PendingConfirmation.ID)
		renderResponse(c.out, confirmed)
		if err != nil {
			return
		}
		// 确认后让模型基于结果继续本轮任务。
		resp = c.sessions.Process(ctx, c.sessionID, "Continue with the task using the confirmed result.", false)
		renderResponse(c.out, resp)
	}
}

func (c *console) plan(ctx context.Context, input string) {
	resp := c.sessions.CreatePlan(ctx, c.sessionID, input)
	c.sessionID = resp.SessionID
	renderResponse(c.out, resp)
	if resp.PendingPlan == nil {
		return
	}
	if !c.approve("Execute this plan?") {
		renderResponse(c.out, c.sessions.Cancel(c.sessionID))
		return
	}
	executed, _ := c.sessions.ExecutePlan(ctx, c.sessionID, resp.PendingPlan.ID)
	renderResponse(c.out, executed)
}

func (c *console) repl(ctx context.Context) error {
	fmt.Fprintln(c.out, headerStyle.Sprint("Mother Agent")+dimStyle.Sprint("  (/plan <goal>, /reset, /quit)"))
	for {
		fmt.Fprint(c.out, "> ")
		line, err := c.in.ReadString('\n')
		line = strings.TrimSpace(line)
		switch {
		case line == "/quit" || line == "/exit":
			return nil
		case line == "/reset":
			if c.sessionID != "" {
				c.sessions.Reset(c.sessionID)
			}
			fmt.Fprintln(c.out, dimStyle.Sprint("conversation cleared"))
		case strings.HasPrefix(line, "/plan "):
			c.plan(ctx, strings.TrimSpace(strings.TrimPrefix(line, "/plan ")))
		case line != "":
			c.ask(ctx, line)
		}
		if err != nil {
			if stdErrors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

func (c *console) approve(question string) bool {
	if c.assumeYes {
		return true
	}
	fmt.Fprint(c.out, warnStyle.Sprint(question)+" [y/N] ")
	answer, _ := c.in.ReadString('\n')
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "y", "yes":
		return true
	default:
		return false
	}
}
