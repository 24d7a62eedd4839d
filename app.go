package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/kwv/submesh/align"
	"github.com/kwv/submesh/objmap"
	"github.com/kwv/submesh/report"
	"github.com/kwv/submesh/store"
)

// AppOptions holds CLI options passed to the App.
type AppOptions struct {
	Out         io.Writer
	ConfigFile  string
	Verbose     bool
	OutputDir   string
	Publish     bool
	GroundTruth string
	SegmentSlam bool
	RobotA      string
	RobotB      string
	NoStore     bool
}

// Runner is what the CLI drives. App is the production implementation.
type Runner interface {
	ApplyOptions(opts AppOptions)
	RunSubmaps(ctx context.Context, mapPath string) error
	RunAlign(ctx context.Context, pathA, pathB string) error
	RunConcat(ctx context.Context, output string, inputs []string) error
	RunListRuns(ctx context.Context) error
}

// App encapsulates the application state and dependencies
type App struct {
	Config *Config
	// MQTTClient is used instead of dialing the configured broker when set.
	MQTTClient mqtt.Client

	opts AppOptions
	out  io.Writer
}

// NewApp creates a new App instance
func NewApp() *App {
	return &App{out: os.Stdout}
}

// ApplyOptions applies CLI options to the App instance
func (a *App) ApplyOptions(opts AppOptions) {
	a.opts = opts
	if opts.Out != nil {
		a.out = opts.Out
	}
}

// config loads the configuration once. An explicit config file replaces
// any preset Config.
func (a *App) config() (*Config, error) {
	if a.opts.ConfigFile != "" {
		cfg, err := LoadConfig(a.opts.ConfigFile)
		if err != nil {
			return nil, err
		}
		a.Config = cfg
		a.opts.ConfigFile = ""
	}
	if a.Config == nil {
		a.Config = DefaultConfig()
	}
	if a.opts.OutputDir != "" {
		a.Config.Output.Dir = a.opts.OutputDir
	}
	return a.Config, nil
}

// RunSubmaps partitions one map and reports the submaps.
func (a *App) RunSubmaps(ctx context.Context, mapPath string) error {
	cfg, err := a.config()
	if err != nil {
		return err
	}
	m, err := objmap.LoadMap(mapPath)
	if err != nil {
		return err
	}

	var gt objmap.PoseProvider
	if a.opts.GroundTruth != "" {
		gtMap, err := objmap.LoadMap(a.opts.GroundTruth)
		if err != nil {
			return fmt.Errorf("loading ground truth: %w", err)
		}
		poses, err := objmap.NewTrajectoryPoses(gtMap, cfg.Output.GTMaxGap)
		if err != nil {
			return fmt.Errorf("loading ground truth: %w", err)
		}
		gt = poses
	}

	submaps, err := objmap.Partition(m, cfg.Submap, gt)
	if err != nil {
		return err
	}
	logger.Infof("[SUBMAP] %s: %d segments, %d poses -> %d submaps", mapPath, len(m.Segments), len(m.Trajectory), len(submaps))

	fmt.Fprintf(a.out, "%s: %d submaps\n", mapPath, len(submaps))
	fmt.Fprintf(a.out, "%6s %10s %8s  %s\n", "ID", "TIME", "OBJECTS", "POSITION")
	for _, sm := range submaps {
		p := sm.Position()
		gtMark := ""
		if sm.HasGT() {
			gtMark = " gt"
		}
		fmt.Fprintf(a.out, "%6d %10.2f %8d  (%.2f, %.2f, %.2f)%s\n", sm.ID, sm.Time, sm.Len(), p.X, p.Y, p.Z, gtMark)
	}

	if cfg.Output.GeoJSON {
		fc := report.SubmapFeatures(submaps)
		fc.Append(report.TrajectoryFeature(m, cfg.Output.SimplifyTolerance))
		path := filepath.Join(cfg.Output.Dir, baseName(mapPath)+"-submaps.geojson")
		if err := report.WriteGeoJSON(path, fc); err != nil {
			return err
		}
		fmt.Fprintf(a.out, "wrote %s\n", path)
	}

	if a.opts.Publish {
		pub, done, err := a.publisher(cfg)
		if err != nil {
			return err
		}
		defer done()
		runID := uuid.NewString()
		for _, sm := range submaps {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := pub.PublishSubmapPose(runID, sm); err != nil {
				return err
			}
		}
		fmt.Fprintf(a.out, "published %d submap poses (run %s)\n", len(submaps), runID)
	}
	return nil
}

// RunAlign aligns every submap of one map against every submap of another.
func (a *App) RunAlign(ctx context.Context, pathA, pathB string) error {
	cfg, err := a.config()
	if err != nil {
		return err
	}
	subA, err := a.loadSubmaps(cfg, pathA, a.opts.RobotA)
	if err != nil {
		return err
	}
	subB, err := a.loadSubmaps(cfg, pathB, a.opts.RobotB)
	if err != nil {
		return err
	}

	solver, err := align.NewRelaxationSolver(cfg.Solver)
	if err != nil {
		return err
	}
	reg, err := align.NewRegistration(cfg.Registration, solver)
	if err != nil {
		return err
	}

	start := time.Now()
	res, err := align.AlignSubmaps(ctx, subA, subB, reg, cfg.Align)
	if err != nil {
		return err
	}
	logger.Infof("[ALIGN] %dx%d submaps aligned in %v", len(subA), len(subB), time.Since(start).Round(time.Millisecond))

	runID := uuid.NewString()
	if cfg.Store.Path != "" && !a.opts.NoStore {
		st, err := store.Open(cfg.Store.Path)
		if err != nil {
			return err
		}
		run, err := st.SaveRun(ctx, pathA, pathB, cfg.Registration, res)
		st.Close()
		if err != nil {
			return err
		}
		runID = run.ID
	}

	a.printAlignment(runID, res)

	if cfg.Output.GeoJSON {
		fc := report.AlignmentFeatures(subA, subB, res, cfg.Output.MinAssociations)
		path := filepath.Join(cfg.Output.Dir, "align-"+runID+".geojson")
		if err := report.WriteGeoJSON(path, fc); err != nil {
			return err
		}
		fmt.Fprintf(a.out, "wrote %s\n", path)
	}

	if a.opts.Publish {
		pub, done, err := a.publisher(cfg)
		if err != nil {
			return err
		}
		defer done()
		if err := pub.PublishResults(runID, res); err != nil {
			return err
		}
	}
	return nil
}

func (a *App) printAlignment(runID string, res *align.AlignmentResults) {
	fmt.Fprintf(a.out, "run %s: %d x %d submaps\n", runID, res.NumA, res.NumB)
	for _, p := range res.Pairs {
		switch {
		case p.GravityRejected:
			fmt.Fprintf(a.out, "  (%d, %d) rejected: %v\n", p.A, p.B, p.Err)
		case len(p.Associations) > 0:
			fmt.Fprintf(a.out, "  (%d, %d) %d associations\n", p.A, p.B, len(p.Associations))
		}
	}
	if best, ok := res.Best(); ok {
		fmt.Fprintf(a.out, "best pair (%d, %d) with %d associations\n", best.A, best.B, len(best.Associations))
	} else {
		fmt.Fprintln(a.out, "no associations found")
	}
}

// loadSubmaps reads segment_slam submaps or partitions an object map.
func (a *App) loadSubmaps(cfg *Config, path, robot string) ([]*objmap.Submap, error) {
	if a.opts.SegmentSlam {
		return objmap.LoadSegmentSlamSubmaps(path, robot)
	}
	m, err := objmap.LoadMap(path)
	if err != nil {
		return nil, err
	}
	return objmap.Partition(m, cfg.Submap, nil)
}

// RunConcat concatenates maps into output.
func (a *App) RunConcat(ctx context.Context, output string, inputs []string) error {
	if len(inputs) == 0 {
		return errors.New("no input maps")
	}
	maps := make([]*objmap.ObjectMap, 0, len(inputs))
	for _, path := range inputs {
		if err := ctx.Err(); err != nil {
			return err
		}
		m, err := objmap.LoadMap(path)
		if err != nil {
			return err
		}
		maps = append(maps, m)
	}
	merged, err := objmap.Concatenate(maps...)
	if err != nil {
		return err
	}
	if err := objmap.SaveMap(output, merged); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "wrote %s: %d segments, %d poses from %d maps\n",
		output, len(merged.Segments), len(merged.Trajectory), len(inputs))
	return nil
}

// RunListRuns prints stored alignment runs.
func (a *App) RunListRuns(ctx context.Context) error {
	cfg, err := a.config()
	if err != nil {
		return err
	}
	if cfg.Store.Path == "" {
		return errors.New("store.path is not configured")
	}
	st, err := store.Open(cfg.Store.Path)
	if err != nil {
		return err
	}
	defer st.Close()

	runs, err := st.ListRuns(ctx)
	if err != nil {
		return err
	}
	for _, r := range runs {
		pairs, err := st.Pairs(ctx, r.ID)
		if err != nil {
			return err
		}
		fmt.Fprintf(a.out, "%s  %s  %s x %s  %d stored pairs\n",
			r.ID, r.CreatedAt.Format(time.RFC3339), r.MapA, r.MapB, len(pairs))
	}
	if len(runs) == 0 {
		fmt.Fprintln(a.out, "no runs")
	}
	return nil
}

// publisher returns a publisher and a cleanup func. A preset MQTTClient is
// left connected.
func (a *App) publisher(cfg *Config) (*report.Publisher, func(), error) {
	if a.MQTTClient != nil {
		return report.NewPublisher(a.MQTTClient, cfg.MQTT), func() {}, nil
	}
	client, err := report.Connect(cfg.MQTT, 10*time.Second)
	if err != nil {
		return nil, nil, err
	}
	return report.NewPublisher(client, cfg.MQTT), func() { client.Disconnect(250) }, nil
}

func baseName(path string) string {
	return strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
}
