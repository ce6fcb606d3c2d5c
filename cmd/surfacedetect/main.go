// Package main runs surface detection over point cloud files.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"go.uber.org/multierr"

	"github.com/godel-robotics/surfacedetection/logging"
	pc "github.com/godel-robotics/surfacedetection/pointcloud"
	"github.com/godel-robotics/surfacedetection/services/surfacedetection"
	"github.com/godel-robotics/surfacedetection/utils"
)

const (
	flagConfig    = "config"
	flagNamespace = "namespace"
	flagOut       = "out"
	flagLAS       = "las"
	flagDebug     = "debug"
	flagTrace     = "trace"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func newApp() *cli.App {
	var logger logging.Logger
	return &cli.App{
		Name:  "surfacedetect",
		Usage: "find smooth surfaces in point clouds and mesh them",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    flagDebug,
				Aliases: []string{"vvv"},
				Usage:   "enable debug logging",
			},
		},
		Before: func(c *cli.Context) error {
			if c.Bool(flagDebug) {
				logger = logging.NewDebugLogger("surfacedetect")
			} else {
				logger = logging.NewLogger("surfacedetect")
			}
			return nil
		},
		Commands: []*cli.Command{
			{
				Name:      "run",
				Usage:     "run the pipeline over PCD or LAS files",
				ArgsUsage: "<cloud file>...",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    flagConfig,
						Aliases: []string{"c"},
						Usage:   "load parameters from `FILE`",
					},
					&cli.StringFlag{
						Name:  flagNamespace,
						Value: surfacedetection.DefaultNamespace,
						Usage: "parameter namespace inside the config file",
					},
					&cli.StringFlag{
						Name:     flagOut,
						Aliases:  []string{"o"},
						Required: true,
						Usage:    "write results to `DIR`",
					},
					&cli.BoolFlag{
						Name:  flagLAS,
						Usage: "also write the full cloud as LAS",
					},
					&cli.BoolFlag{
						Name:  flagTrace,
						Usage: "log every pipeline stage of this run under a trace key",
					},
				},
				Action: func(c *cli.Context) error {
					if c.NArg() == 0 {
						return errors.New("no cloud files given")
					}
					ctx := c.Context
					if c.Bool(flagTrace) {
						ctx = logging.EnableDebugMode(ctx, "")
					}
					return runDetection(ctx, c, logger, runOptions{
						configPath: c.String(flagConfig),
						namespace:  c.String(flagNamespace),
						outDir:     c.String(flagOut),
						writeLAS:   c.Bool(flagLAS),
						files:      c.Args().Slice(),
					})
				},
			},
			{
				Name:  "defaults",
				Usage: "print the default parameters",
				Action: func(c *cli.Context) error {
					enc := json.NewEncoder(c.App.Writer)
					enc.SetIndent("", "  ")
					return enc.Encode(map[string]surfacedetection.Config{
						surfacedetection.DefaultNamespace: surfacedetection.DefaultConfig(),
					})
				},
			},
		},
	}
}

type runOptions struct {
	configPath string
	namespace  string
	outDir     string
	writeLAS   bool
	files      []string
}

func runDetection(ctx context.Context, c *cli.Context, logger logging.Logger, opts runOptions) error {
	clouds, err := readClouds(ctx, opts.files, logger)
	if err != nil {
		return err
	}

	sd := surfacedetection.NewSurfaceDetection(logger.Sublogger("detection"))
	if opts.configPath != "" {
		if err := sd.LoadParameters(opts.configPath, opts.namespace); err != nil {
			return err
		}
	}
	if err := sd.Init(); err != nil {
		return err
	}
	for i, cloud := range clouds {
		if err := sd.AddCloud(cloud); err != nil {
			return errors.Wrapf(err, "adding %q", opts.files[i])
		}
	}
	findErr := sd.FindSurfacesContext(ctx)

	if err := os.MkdirAll(opts.outDir, 0o750); err != nil {
		return err
	}
	if err := writeResults(sd, opts, logger); err != nil {
		return err
	}
	fmt.Fprintln(c.App.Writer, sd.GetResultsSummary())
	return findErr
}

// readClouds reads every file in parallel and returns the clouds in argument order.
func readClouds(ctx context.Context, files []string, logger logging.Logger) ([]*pc.PointCloud, error) {
	clouds := make([]*pc.PointCloud, len(files))
	fs := make([]utils.SimpleFunc, 0, len(files))
	for i, fn := range files {
		i, fn := i, fn
		fs = append(fs, func(ctx context.Context) error {
			cloud, err := pc.NewFromFile(fn, logger)
			if err != nil {
				return err
			}
			clouds[i] = cloud
			return nil
		})
	}
	took, err := utils.RunInParallel(ctx, fs)
	if err != nil {
		return nil, err
	}
	logger.Debugw("read clouds", "files", len(files), "took", took)
	return clouds, nil
}

func writeResults(sd *surfacedetection.SurfaceDetection, opts runOptions, logger logging.Logger) error {
	write := func(name string, fn func(f *os.File) error) (err error) {
		//nolint:gosec
		f, err := os.Create(filepath.Join(opts.outDir, name))
		if err != nil {
			return err
		}
		defer func() {
			err = multierr.Combine(err, f.Close())
		}()
		return fn(f)
	}

	err := multierr.Combine(
		write("full.pcd", func(f *os.File) error { return sd.WriteFullCloud(f) }),
		write("regions.pcd", func(f *os.File) error { return sd.WriteRegionColoredCloud(f) }),
		write("markers.json", func(f *os.File) error {
			enc := json.NewEncoder(f)
			enc.SetIndent("", "  ")
			return enc.Encode(sd.GetSurfaceMarkers())
		}),
	)
	for i, cloud := range sd.GetSurfaceClouds() {
		cloud := cloud
		err = multierr.Append(err, write(fmt.Sprintf("surface_%d.pcd", i), func(f *os.File) error {
			return pc.ToPCD(cloud, f, pc.PCDBinary)
		}))
	}
	if opts.writeLAS {
		err = multierr.Append(err, pc.WriteToLASFile(sd.GetFullCloud(), filepath.Join(opts.outDir, "full.las")))
	}
	if err == nil {
		logger.Infow("wrote results", "dir", opts.outDir)
	}
	return err
}
