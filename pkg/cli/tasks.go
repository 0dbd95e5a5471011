package cli

import (
	"errors"
	"fmt"

	"github.com/platinummonkey/qzcli/pkg/platform"
)

func newTasksCommand(app *App) *Command {
	cmd := &Command{
		Name:        "tasks",
		Description: "List running tasks of a workspace with the saved cookie",
		Flags:       app.newFlagSet("tasks"),
	}
	workspace := cmd.Flags.String("workspace", "", "Workspace ID (defaults to the one saved with the cookie)")
	project := cmd.Flags.String("project", "", "Only tasks whose project name contains this")
	page := cmd.Flags.Int("page", 1, "Page number")
	size := cmd.Flags.Int("size", platform.DefaultPageSize, "Page size")
	all := cmd.Flags.Bool("all", false, "Follow every page")

	cmd.Run = func(args []string) error {
		if err := cmd.Flags.Parse(args); err != nil {
			return err
		}
		s, ctx, err := app.open()
		if err != nil {
			return err
		}
		defer s.Close()

		record, err := s.Cookie(ctx)
		if err != nil {
			return err
		}
		ws, err := s.Workspace(record, *workspace)
		if err != nil {
			return err
		}

		q := platform.TaskQuery{WorkspaceID: ws, Page: *page, PageSize: *size, Project: *project}
		var (
			tasks []platform.Task
			total int
		)
		if *all {
			tasks, err = s.Platform().ListAllWorkspaceTasks(ctx, record.Cookie, q)
			total = len(tasks)
		} else {
			var p *platform.TaskPage
			p, err = s.Platform().ListWorkspaceTasks(ctx, record.Cookie, q)
			if p != nil {
				tasks, total = p.Tasks, p.Total
			}
		}
		if errors.Is(err, platform.ErrCookieExpired) {
			return fmt.Errorf("cookie rejected, run `qzcli login` again: %w", err)
		}
		if err != nil {
			return err
		}

		for _, t := range tasks {
			app.printf("%s\t%s\t%s\t%s\t%s\t%d\n", t.ID, t.Name, t.Status, t.Project.Name, t.User.Name, t.GPU.Total)
		}
		app.printf("%d shown, %d in workspace %s\n", len(tasks), total, ws)
		return nil
	}
	return cmd
}
