package predictor

import (
	"github.com/go-caffe2/predictor/envconfig"
	"github.com/go-caffe2/predictor/ml"
)

// DefaultName wird verwendet, wenn das Vorhersage-Netz keinen Namen hat
const DefaultName = "predictor"

// Options bestimmen Geraet und Ausfuehrung eines Predictors. Sie sind nach
// der Konstruktion fest.
type Options struct {
	Device ml.DeviceKind

	// Engine ist ein Backend-Name (eigen, nnpack, mkl, ...); leer waehlt den
	// Standard des Geraets
	Engine string

	// NumWorkers > 1 fuehrt unabhaengige Operatoren parallel aus
	NumWorkers int

	// Name ueberschreibt den Namen des Vorhersage-Netzes
	Name string
}

type Option func(*Options)

func WithDevice(kind ml.DeviceKind) Option {
	return func(o *Options) { o.Device = kind }
}

func WithEngine(backend string) Option {
	return func(o *Options) { o.Engine = backend }
}

func WithNumWorkers(n int) Option {
	return func(o *Options) { o.NumWorkers = n }
}

func WithName(name string) Option {
	return func(o *Options) { o.Name = name }
}

func newOptions(opts []Option) Options {
	o := Options{
		Device:     ml.CPU,
		NumWorkers: int(envconfig.NumThreads()),
	}
	for _, fn := range opts {
		fn(&o)
	}
	return o
}
