// cmd_run.go - Run Command
// Hauptfunktionen: RunHandler, loadPredictor, inputValues, parseShape
package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/go-caffe2/predictor/fetch"
	"github.com/go-caffe2/predictor/ml"
	"github.com/go-caffe2/predictor/predictor"
	"github.com/go-caffe2/predictor/preprocess"
)

// runOptions - Optionen fuer einen run-Aufruf
type runOptions struct {
	Init    string
	Predict string
	ONNX    string

	Shape []int
	DType ml.DType
	Fill  float32
	Image string
	Norm  string

	Device  ml.DeviceKind
	Engine  string
	Workers int

	Repeat  int
	TopK    int
	Profile bool
	Format  string
}

// parseRunOptions - Liest und prueft die Flags des run Commands
func parseRunOptions(cmd *cobra.Command) (runOptions, error) {
	var opts runOptions
	var err error
	flags := cmd.Flags()

	opts.Init, _ = flags.GetString("init")
	opts.Predict, _ = flags.GetString("predict")
	opts.ONNX, _ = flags.GetString("onnx")
	if opts.ONNX == "" && (opts.Init == "" || opts.Predict == "") {
		return opts, errors.New("either --onnx or both --init and --predict are required")
	}

	input, _ := flags.GetString("input")
	if opts.Shape, err = parseShape(input); err != nil {
		return opts, err
	}

	dtype, _ := flags.GetString("dtype")
	if opts.DType, err = ml.ParseDType(dtype); err != nil {
		return opts, err
	}

	device, _ := flags.GetString("device")
	if opts.Device, err = ml.ParseDeviceKind(device); err != nil {
		return opts, err
	}

	opts.Fill, _ = flags.GetFloat32("fill")
	opts.Image, _ = flags.GetString("image")
	opts.Norm, _ = flags.GetString("norm")
	opts.Engine, _ = flags.GetString("engine")
	opts.Workers, _ = flags.GetInt("workers")
	opts.Repeat, _ = flags.GetInt("repeat")
	opts.TopK, _ = flags.GetInt("top-k")
	opts.Profile, _ = flags.GetBool("profile")
	opts.Format, _ = flags.GetString("format")

	if opts.Repeat < 1 {
		return opts, fmt.Errorf("--repeat must be at least 1, got %d", opts.Repeat)
	}
	switch opts.Format {
	case "":
		opts.Format = "json"
		if isTerminal() {
			opts.Format = "table"
		}
	case "table", "json":
	default:
		return opts, fmt.Errorf("unknown format %q", opts.Format)
	}

	return opts, nil
}

// parseShape - "1,3,224,224" -> [1 3 224 224]
func parseShape(s string) ([]int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, errors.New("--input shape is required")
	}

	var shape []int
	for _, part := range strings.Split(s, ",") {
		d, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			return nil, fmt.Errorf("invalid dimension %q in shape %q", part, s)
		}
		shape = append(shape, d)
	}
	if !ml.ValidShape(shape) {
		return nil, fmt.Errorf("invalid shape %v", shape)
	}
	return shape, nil
}

// RunHandler - Laedt das Netz, bindet Eingabe 0 und fuehrt es aus
func RunHandler(cmd *cobra.Command, _ []string) error {
	opts, err := parseRunOptions(cmd)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	rt := predictor.Default()
	if err := rt.Init(opts.Device); err != nil {
		return err
	}

	p, err := loadPredictor(ctx, rt, opts)
	if err != nil {
		return err
	}
	defer p.Close()

	values, err := inputValues(opts)
	if err != nil {
		return err
	}
	t, err := ml.FromFloat32(opts.DType, values, opts.Shape...)
	if err != nil {
		return err
	}
	if err := p.BindInput(0, t.DType(), t.Bytes(), opts.Shape); err != nil {
		return err
	}

	if opts.Profile {
		p.StartProfiling("", fmt.Sprintf("shape=%v", opts.Shape))
	}

	var total time.Duration
	for i := range opts.Repeat {
		started := time.Now()
		if err := p.Run(ctx); err != nil {
			return err
		}
		elapsed := time.Since(started)
		total += elapsed
		slog.Debug("run finished", "iteration", i+1, "duration", elapsed)
	}
	p.EndProfiling()

	res, err := collectResult(p, opts.TopK, total/time.Duration(opts.Repeat))
	if err != nil {
		return err
	}
	res.Runs = opts.Repeat

	if opts.Format == "json" {
		return displayJSON(cmd.OutOrStdout(), res)
	}
	displayResult(cmd.OutOrStdout(), res)
	return nil
}

// loadPredictor - Laedt das Netz ueber fetch (lokal, http(s), gs://)
func loadPredictor(ctx context.Context, rt *predictor.Runtime, opts runOptions) (*predictor.Predictor, error) {
	options := []predictor.Option{
		predictor.WithDevice(opts.Device),
		predictor.WithNumWorkers(opts.Workers),
	}
	if opts.Engine != "" {
		options = append(options, predictor.WithEngine(opts.Engine))
	}

	fetcher := fetch.New("")
	if opts.ONNX != "" {
		path, err := fetcher.Resolve(ctx, opts.ONNX)
		if err != nil {
			return nil, err
		}
		payload, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		return rt.NewFromONNX(payload, options...)
	}

	paths, err := fetcher.ResolveAll(ctx, opts.Init, opts.Predict)
	if err != nil {
		return nil, err
	}
	return rt.New(paths[0], paths[1], options...)
}

// inputValues - Bilddaten oder ein konstanter Fuellwert
func inputValues(opts runOptions) ([]float32, error) {
	if opts.Image != "" {
		img, err := preprocess.Load(opts.Image)
		if err != nil {
			return nil, err
		}

		mean, std := preprocess.ImageNetMean, preprocess.ImageNetStd
		switch opts.Norm {
		case "imagenet":
		case "none":
			mean, std = preprocess.NoNormMean, preprocess.NoNormStd
		default:
			return nil, fmt.Errorf("unknown normalization %q", opts.Norm)
		}
		return preprocess.Tensor(img, opts.Shape, mean, std)
	}

	values := make([]float32, ml.Numel(opts.Shape))
	for i := range values {
		values[i] = opts.Fill
	}
	return values, nil
}
