package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/FranksOps/scour/internal/materializer"
	"github.com/FranksOps/scour/internal/serp"
	"github.com/FranksOps/scour/internal/session"
)

func newImagesCmd(a *app) *cobra.Command {
	var (
		materialize bool
		saveDir     string
		asJSON      bool
	)
	cmd := &cobra.Command{
		Use:   "images <query...>",
		Short: "Fetch image result URLs for a query",
		Long: `Fetch the Google image result page for a query and print the
data-src URL of every result image in page order.

Whitespace is removed from the query before it is sent.

Examples:
  scour images red panda              # Print image URLs
  scour images --materialize cats     # Download and decode each image
  scour images --save-dir out cats    # ...and write them to out/`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if saveDir != "" {
				materialize = true
				if err := os.MkdirAll(saveDir, 0o755); err != nil {
					return err
				}
			}
			if materialize {
				return a.runMaterialize(ctx, cmd.OutOrStdout(), joinQuery(args), saveDir)
			}
			return a.runSearch(ctx, cmd.OutOrStdout(), serp.KindImage, joinQuery(args), asJSON)
		},
	}
	cmd.Flags().BoolVar(&materialize, "materialize", false, "download and decode every result image")
	cmd.Flags().StringVar(&saveDir, "save-dir", "", "write decoded images to this directory (implies --materialize)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "output as JSON")
	return cmd
}

func newWebCmd(a *app) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "web <query...>",
		Short: "Fetch organic web results for a query",
		Long: `Fetch the Bing result page for a query and print the title, link and
description of every organic result in page order.

Examples:
  scour web golang generics
  scour web --json golang generics`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return a.runSearch(ctx, cmd.OutOrStdout(), serp.KindWeb, joinQuery(args), asJSON)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "output as JSON")
	return cmd
}

// runSearch runs one query to completion and prints its results.
func (a *app) runSearch(ctx context.Context, out io.Writer, kind serp.Kind, raw string, asJSON bool) error {
	rt, err := buildRuntime(ctx, a.cfg, a.logger)
	if err != nil {
		return err
	}
	defer rt.Close()

	sess, err := rt.newSession(a.cfg, false, a.logger)
	if err != nil {
		return err
	}
	defer sess.Close()

	rec, err := sess.Do(ctx, kind, raw)
	if errors.Is(err, session.ErrEmptyQuery) {
		a.logger.Warn("query is empty after removing whitespace; nothing sent")
		return nil
	}
	if err != nil {
		return err
	}

	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if kind == serp.KindImage {
			return enc.Encode(rec.ImageURLs)
		}
		return enc.Encode(rec.WebResults)
	}

	if kind == serp.KindImage {
		for _, u := range rec.ImageURLs {
			fmt.Fprintln(out, u)
		}
		return nil
	}
	for i, r := range rec.WebResults {
		if i > 0 {
			fmt.Fprintln(out)
		}
		fmt.Fprintf(out, "%s\n%s\n%s\n", r.Title, r.Link, r.Description)
	}
	return nil
}

// runMaterialize submits an image query through the session event stream and
// prints each image as it is decoded.
func (a *app) runMaterialize(ctx context.Context, out io.Writer, raw, saveDir string) error {
	rt, err := buildRuntime(ctx, a.cfg, a.logger)
	if err != nil {
		return err
	}
	defer rt.Close()

	sess, err := rt.newSession(a.cfg, true, a.logger)
	if err != nil {
		return err
	}
	defer sess.Close()

	gen, ok := sess.Submit(serp.KindImage, raw)
	if !ok {
		a.logger.Warn("query is empty after removing whitespace; nothing sent")
		return nil
	}

	view := session.NewView()
	saved := 0
	for {
		select {
		case <-ctx.Done():
			sess.Cancel()
			return ctx.Err()
		case ev, open := <-sess.Events():
			if !open {
				return nil
			}
			if ev.Generation != gen || !view.Apply(ev) {
				continue
			}
			switch ev.Type {
			case session.EventImageURLs:
				a.logger.Info("image results", "query", ev.Query, "urls", len(ev.ImageURLs))
			case session.EventImage:
				img := ev.Image
				fmt.Fprintf(out, "%s\t%s\t%dx%d\n", img.URL, img.Format, img.Width, img.Height)
				if saveDir != "" {
					if err := saveImage(saveDir, saved, img); err != nil {
						return err
					}
					saved++
				}
			case session.EventDone:
				snap := view.Snapshot()
				if ev.Stats != nil {
					a.logger.Info("images materialized",
						"requested", ev.Stats.Requested,
						"decoded", ev.Stats.Decoded,
						"dropped", ev.Stats.Dropped)
				}
				if snap.State == session.StateEmpty {
					a.logger.Info("no image results", "query", snap.Query)
				}
				return nil
			case session.EventFailed:
				return ev.Err
			}
		}
	}
}

// saveImage writes the original bytes under a name derived from arrival order.
func saveImage(dir string, n int, img *materializer.Image) error {
	name := filepath.Join(dir, fmt.Sprintf("%03d.%s", n, img.Format))
	if err := os.WriteFile(name, img.Data, 0o644); err != nil {
		return fmt.Errorf("saving %s: %w", img.URL, err)
	}
	return nil
}
