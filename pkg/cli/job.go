package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
)

func newJobCommand(app *App) *Command {
	cmd := &Command{
		Name:        "job",
		Description: "Inspect, stop or create jobs with the bearer API",
		Subcommands: make(map[string]*Command),
		Flags:       app.newFlagSet("job"),
	}
	for _, sub := range []*Command{
		newJobDetailCommand(app),
		newJobStopCommand(app),
		newJobCreateCommand(app),
	} {
		cmd.Subcommands[sub.Name] = sub
	}
	return cmd
}

type jobOutput struct {
	JobID  string          `json:"job_id"`
	Detail json.RawMessage `json:"detail,omitempty"`
	Error  string          `json:"error,omitempty"`
}

func newJobDetailCommand(app *App) *Command {
	cmd := &Command{
		Name:        "detail",
		Description: "Print job details as JSON: job detail ID...",
		Flags:       app.newFlagSet("job detail"),
	}
	cmd.Run = func(args []string) error {
		if err := cmd.Flags.Parse(args); err != nil {
			return err
		}
		ids := cmd.Flags.Args()
		if len(ids) == 0 {
			return fmt.Errorf("job_id is required")
		}
		s, ctx, err := app.open()
		if err != nil {
			return err
		}
		defer s.Close()

		results := s.Platform().GetJobsDetail(ctx, ids)

		out := make([]jobOutput, 0, len(ids))
		failed := 0
		seen := make(map[string]bool, len(ids))
		for _, id := range ids {
			if seen[id] {
				continue
			}
			seen[id] = true
			r := results[id]
			if r.Err != nil {
				failed++
				out = append(out, jobOutput{JobID: id, Error: r.Err.Error()})
				continue
			}
			out = append(out, jobOutput{JobID: id, Detail: r.Detail.Raw})
		}

		enc := json.NewEncoder(app.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(out); err != nil {
			return err
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d jobs failed", failed, len(out))
		}
		return nil
	}
	return cmd
}

func newJobStopCommand(app *App) *Command {
	cmd := &Command{
		Name:        "stop",
		Description: "Stop a job: job stop [--yes] ID",
		Flags:       app.newFlagSet("job stop"),
	}
	yes := cmd.Flags.Bool("yes", false, "Skip the confirmation prompt")

	cmd.Run = func(args []string) error {
		if err := cmd.Flags.Parse(args); err != nil {
			return err
		}
		if cmd.Flags.NArg() != 1 {
			return fmt.Errorf("job_id is required")
		}
		jobID := cmd.Flags.Arg(0)

		if !*yes {
			answer, err := app.prompt(fmt.Sprintf("Stop job %s? [y/N] ", jobID))
			if err != nil {
				return err
			}
			if a := strings.ToLower(answer); a != "y" && a != "yes" {
				app.printf("Cancelled\n")
				return nil
			}
		}

		s, ctx, err := app.open()
		if err != nil {
			return err
		}
		defer s.Close()

		if err := s.Platform().StopJob(ctx, jobID); err != nil {
			return err
		}
		app.printf("Stopped %s\n", jobID)
		return nil
	}
	return cmd
}

func newJobCreateCommand(app *App) *Command {
	cmd := &Command{
		Name:        "create",
		Description: "Submit a job spec: job create --file spec.json",
		Flags:       app.newFlagSet("job create"),
	}
	file := cmd.Flags.String("file", "", "JSON job spec, - for stdin")

	cmd.Run = func(args []string) error {
		if err := cmd.Flags.Parse(args); err != nil {
			return err
		}
		if *file == "" {
			return fmt.Errorf("file is required")
		}

		var (
			spec []byte
			err  error
		)
		if *file == "-" {
			spec, err = io.ReadAll(app.reader())
		} else {
			spec, err = os.ReadFile(*file)
		}
		if err != nil {
			return fmt.Errorf("failed to read job spec: %w", err)
		}

		s, ctx, err := app.open()
		if err != nil {
			return err
		}
		defer s.Close()

		data, err := s.Platform().CreateJob(ctx, json.RawMessage(spec))
		if err != nil {
			return err
		}
		app.printf("%s\n", data)
		return nil
	}
	return cmd
}
