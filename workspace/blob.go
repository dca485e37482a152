package workspace

import (
	"github.com/go-caffe2/predictor/ml"
)

// Blob ist ein benannter, veraenderbarer Tensor-Platz im Workspace
type Blob struct {
	name   string
	tensor *ml.Tensor
}

func (b *Blob) Name() string { return b.name }

// Tensor gibt den Tensor zurueck; ein leerer Blob erhaelt einen leeren float32-Tensor
func (b *Blob) Tensor() *ml.Tensor {
	if b.tensor == nil {
		b.tensor = ml.NewTensor(ml.DTypeF32, 0)
	}
	return b.tensor
}

// Set ersetzt den Inhalt; vorheriger Geraetespeicher wird freigegeben
func (b *Blob) Set(t *ml.Tensor) {
	if b.tensor != nil && b.tensor != t {
		b.tensor.Free()
	}
	b.tensor = t
}

// ShareExternal laesst den Blob auf data zeigen (ohne Kopie)
func (b *Blob) ShareExternal(dtype ml.DType, data []byte, shape ...int) error {
	return b.Tensor().ShareExternal(dtype, data, shape...)
}

// IsEmpty meldet, ob der Blob noch keine Elemente enthaelt
func (b *Blob) IsEmpty() bool {
	return b.tensor == nil || b.tensor.Numel() == 0
}

func (b *Blob) free() {
	if b.tensor != nil {
		b.tensor.Free()
		b.tensor = nil
	}
}
