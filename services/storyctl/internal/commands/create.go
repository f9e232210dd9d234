package commands

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"storybookai/pkg/domain"
	"storybookai/pkg/generation"
	"storybookai/pkg/queue"
)

func bindRequestFlags(cmd *cobra.Command, req *domain.GenerateRequest) {
	f := cmd.Flags()
	f.StringVar(&req.Name, "name", "", "Main character's name")
	f.StringVar(&req.BookTitle, "title", "", "Book title (generated when empty)")
	f.StringVar(&req.MainTopic, "topic", "", "What the story is about")
	f.StringVar(&req.Gender, "gender", "", "boy, girl or neutral")
	f.IntVar(&req.Age, "age", 0, "Reader age")
	f.StringVar(&req.Language, "language", "", "Story language code")
	f.StringVar(&req.Theme, "theme", "", "Story theme")
	f.StringVar(&req.Tone, "tone", "", "Story tone")
	f.StringVar(&req.CoverStyle, "cover-style", "", "Cover illustration style")
	f.StringVar(&req.Giver, "giver", "", "Who the book is from")
	f.StringVar(&req.Length, "length", "", "Short, Medium or Long")
	f.BoolVar(&req.IsPublic, "public", false, "Share the finished book on Discover")
	_ = cmd.MarkFlagRequired("name")
}

func newCreateCmd(env *environment) *cobra.Command {
	var req domain.GenerateRequest
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Write a new storybook and wait for it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := env.screens(cmd)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			var lastStep generation.Step
			outcome, err := a.Create.Submit(cmd.Context(), req, func(s generation.State) {
				if step := s.Step(); step != lastStep {
					lastStep = step
					fmt.Fprintf(out, "%3d%%  %s\n", s.Progress, step.Label())
				}
			})
			if err != nil {
				return err
			}
			switch outcome.Status {
			case generation.Completed:
				fmt.Fprintf(out, "Book %d is ready. Read it with: storyctl book show %d\n", outcome.BookID, outcome.BookID)
			case generation.TimedOut:
				fmt.Fprintf(out, "Book %d is taking longer than usual. It will appear in your library when it is done.\n", outcome.BookID)
			case generation.Aborted:
				return cmd.Context().Err()
			}
			return nil
		},
	}
	bindRequestFlags(cmd, &req)
	return cmd
}

func newOptionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "options",
		Short: "List story options; Premium ones are marked",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			catalogs := []struct {
				flag    string
				options []domain.Option
			}{
				{"theme", domain.Themes},
				{"tone", domain.Tones},
				{"cover-style", domain.CoverStyles},
				{"length", domain.Lengths},
				{"age", domain.Ages},
				{"language", domain.Languages},
				{"gender", domain.Genders},
			}
			for i, c := range catalogs {
				if i > 0 {
					fmt.Fprintln(out)
				}
				fmt.Fprintf(out, "--%s\n", c.flag)
				printOptions(out, c.options)
			}
			return nil
		},
	}
}

func printOptions(w io.Writer, options []domain.Option) {
	for _, opt := range options {
		marker := ""
		if domain.Locked(opt.MinTier, domain.TierFree) {
			marker = "  [Premium]"
		}
		fmt.Fprintf(w, "  %-18s %s%s\n", opt.Value, opt.Label, marker)
	}
}

func newQueueCmd(env *environment) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Hand book requests to the batch worker",
	}
	cmd.AddCommand(newQueueAddCmd(env), newQueueStatusCmd(env))
	return cmd
}

func (e *environment) jobQueue(cmd *cobra.Command) (*queue.RedisJobQueue, error) {
	if err := e.loadConfig(cmd); err != nil {
		return nil, err
	}
	q, err := queue.NewRedisJobQueue(queue.RedisQueueConfig{
		Addr:     e.cfg.RedisAddr,
		Password: e.cfg.RedisPassword,
		Stream:   e.cfg.QueueStream,
		Logger:   e.logger,
	})
	if err != nil {
		return nil, err
	}
	e.closers = append(e.closers, q.Close)
	return q, nil
}

func newQueueAddCmd(env *environment) *cobra.Command {
	var req domain.GenerateRequest
	var owner string
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Queue a book for the worker to generate",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			// the worker gates options by its own account tier
			full := req.WithDefaults()
			if err := full.Validate(domain.TierPremium); err != nil {
				return err
			}
			q, err := env.jobQueue(cmd)
			if err != nil {
				return err
			}
			job, err := q.Enqueue(cmd.Context(), strings.TrimSpace(owner), full)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Queued job %s\n", job.ID)
			return nil
		},
	}
	bindRequestFlags(cmd, &req)
	cmd.Flags().StringVar(&owner, "owner", "", "Who the book is for (recorded on the job)")
	return cmd
}

func newQueueStatusCmd(env *environment) *cobra.Command {
	return &cobra.Command{
		Use:   "status JOB_ID",
		Short: "Show a queued job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			q, err := env.jobQueue(cmd)
			if err != nil {
				return err
			}
			job, ok, err := q.GetJob(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if !ok {
				return errors.New("job not found")
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Job %s: %s (attempts %d)\n", job.ID, job.Status, job.Attempts)
			if job.BookID > 0 {
				fmt.Fprintf(out, "Book: %d\n", job.BookID)
			}
			if job.ErrorMessage != "" {
				fmt.Fprintf(out, "Last error: %s\n", job.ErrorMessage)
			}
			return nil
		},
	}
}
