package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"github.com/FranksOps/scour/internal/serp"
	"github.com/FranksOps/scour/internal/session"
)

const shellHelp = `commands:
  images <query>   search images (alias: i)
  web <query>      search the web (alias: w)
  toggle           rerun the last query as the other kind (alias: t)
  cancel           stop the running query
  quit             leave (alias: exit)
`

func newShellCmd(a *app) *cobra.Command {
	var materialize bool
	cmd := &cobra.Command{
		Use:   "shell",
		Short: "Run queries interactively",
		Long: `Read queries from stdin and print results as they arrive.

A new query cancels the one still running; results of the earlier query are
never printed after the new one starts.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runShell(cmd.Context(), cmd.InOrStdin(), cmd.OutOrStdout(), materialize)
		},
	}
	cmd.Flags().BoolVar(&materialize, "materialize", false, "download and decode image results")
	return cmd
}

func (a *app) runShell(ctx context.Context, in io.Reader, out io.Writer, materialize bool) error {
	rt, err := buildRuntime(ctx, a.cfg, a.logger)
	if err != nil {
		return err
	}
	defer rt.Close()

	sess, err := rt.newSession(a.cfg, materialize, a.logger)
	if err != nil {
		return err
	}

	ms := a.startMetrics()
	defer ms.Stop(context.Background())

	var (
		mu   sync.Mutex
		view = session.NewView()
		wg   sync.WaitGroup
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		for ev := range sess.Events() {
			if !view.Apply(ev) {
				continue
			}
			mu.Lock()
			renderEvent(out, ev)
			mu.Unlock()
		}
	}()

	printf := func(format string, args ...any) {
		mu.Lock()
		defer mu.Unlock()
		fmt.Fprintf(out, format, args...)
	}

	// Last dispatched query, for toggle.
	var (
		lastKind  serp.Kind
		lastQuery string
	)

	printf("%s", shellHelp)
	sc := bufio.NewScanner(in)
scan:
	for sc.Scan() {
		verb, rest, _ := strings.Cut(strings.TrimSpace(sc.Text()), " ")
		var kind serp.Kind
		switch verb {
		case "":
			continue
		case "quit", "exit":
			break scan
		case "help":
			printf("%s", shellHelp)
			continue
		case "cancel":
			sess.Cancel()
			printf("cancelled\n")
			continue
		case "images", "i":
			kind = serp.KindImage
		case "web", "w":
			kind = serp.KindWeb
		case "toggle", "t":
			if lastQuery == "" {
				printf("nothing to toggle\n")
				continue
			}
			kind, rest = otherKind(lastKind), lastQuery
		default:
			printf("unknown command %q\n", verb)
			continue
		}
		if _, ok := sess.Submit(kind, rest); !ok {
			printf("empty query, nothing sent\n")
			continue
		}
		lastKind, lastQuery = kind, rest
	}
	if err := sc.Err(); err != nil {
		a.logger.Error("reading input", "err", err)
	}

	err = sess.Close()
	wg.Wait()
	return err
}

func otherKind(k serp.Kind) serp.Kind {
	if k == serp.KindImage {
		return serp.KindWeb
	}
	return serp.KindImage
}

func renderEvent(out io.Writer, ev session.Event) {
	switch ev.Type {
	case session.EventStarted:
		fmt.Fprintf(out, "[%d] searching %s for %q\n", ev.Generation, ev.Kind, ev.Query)
	case session.EventImageURLs:
		for _, u := range ev.ImageURLs {
			fmt.Fprintf(out, "[%d] %s\n", ev.Generation, u)
		}
	case session.EventWebResults:
		for _, r := range ev.WebResults {
			fmt.Fprintf(out, "[%d] %s\n    %s\n    %s\n", ev.Generation, r.Title, r.Link, r.Description)
		}
	case session.EventImage:
		img := ev.Image
		fmt.Fprintf(out, "[%d] decoded %s (%s %dx%d)\n", ev.Generation, img.URL, img.Format, img.Width, img.Height)
	case session.EventDone:
		if ev.Stats != nil {
			fmt.Fprintf(out, "[%d] done: %d of %d images decoded\n", ev.Generation, ev.Stats.Decoded, ev.Stats.Requested)
		} else {
			fmt.Fprintf(out, "[%d] done\n", ev.Generation)
		}
	case session.EventFailed:
		fmt.Fprintf(out, "[%d] failed: %v\n", ev.Generation, ev.Err)
	}
}
