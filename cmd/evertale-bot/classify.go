package main

import (
	"context"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"jordanella.com/evertale-go/internal/config"
	"jordanella.com/evertale-go/internal/device"
	"jordanella.com/evertale-go/internal/logging"
	"jordanella.com/evertale-go/internal/screen"
	"jordanella.com/evertale-go/pkg/templates"
)

func newClassifyCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "classify <image>...",
		Short: "Recognize saved screenshots against the template catalog",
		Long: `Classify runs the state classifier over image files without touching a
device. It is the quickest way to tune template thresholds and regions.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			states, err := a.classifyFiles(cmd.Context(), args)
			if err != nil {
				return err
			}
			for i, file := range args {
				printState(cmd.OutOrStdout(), file, states[i])
			}
			return nil
		},
	}
}

// classifyFiles decodes and classifies files concurrently; results keep
// the order of files
func (a *app) classifyFiles(ctx context.Context, files []string) ([]screen.State, error) {
	catalog, err := templates.Load(ctx, a.cfg.Catalog.Dir, logging.Component(a.logger, "templates"))
	if err != nil {
		return nil, &config.ConfigError{Field: "catalog.dir", Reason: "cannot load template catalog", Err: err}
	}
	classifier, err := screen.NewClassifier(catalog, screen.WithClassifierLogger(logging.Component(a.logger, "classifier")))
	if err != nil {
		return nil, err
	}

	states := make([]screen.State, len(files))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i, file := range files {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			img, err := templates.LoadImage(file, 1)
			if err != nil {
				return err
			}
			states[i] = classifier.Classify(&device.Screenshot{Image: img})
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return states, nil
}
