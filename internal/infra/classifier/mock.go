// Package classifier holds the stand-in pest classifier. It draws random
// detections and quality figures; only the image dimensions are real.
package classifier

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"math/rand"
	"sync"
	"time"

	_ "golang.org/x/image/webp"

	"github.com/agroia/agroia-backend/internal/domain/analysis"
)

// DetectionChance is the probability that an image yields any detection.
const DetectionChance = 0.35

type pest struct {
	name        string
	description string
	treatment   string
	severity    analysis.Severity
}

var catalog = []pest{
	{"Pulgón", "Insecto pequeño que se alimenta de la savia de las plantas", "Aplicar jabón insecticida o aceite de neem", analysis.SeverityMedium},
	{"Mosca blanca", "Insecto volador que causa daño por succión", "Usar trampas amarillas y control biológico", analysis.SeverityHigh},
	{"Araña roja", "Ácaro que causa manchas amarillas en las hojas", "Aumentar humedad y usar acaricidas", analysis.SeverityMedium},
	{"Oídio", "Hongo que forma una capa blanca en las hojas", "Aplicar fungicida de azufre", analysis.SeverityHigh},
	{"Escarabajo de la patata", "Escarabajo que se alimenta de hojas de solanáceas", "Recolección manual y uso de Bacillus thuringiensis", analysis.SeverityMedium},
}

// Float64er is the slice of *rand.Rand the classifier draws from.
type Float64er interface {
	Float64() float64
}

type Mock struct {
	mu  sync.Mutex
	rnd Float64er
}

// New returns a classifier seeded from the clock.
func New() *Mock {
	return WithRand(rand.New(rand.NewSource(time.Now().UnixNano())))
}

// WithRand returns a classifier drawing from r. r need not be goroutine safe.
func WithRand(r Float64er) *Mock {
	return &Mock{rnd: r}
}

func (m *Mock) Classify(ctx context.Context, img []byte) (analysis.Result, error) {
	if err := ctx.Err(); err != nil {
		return analysis.Result{}, err
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(img))
	if err != nil {
		return analysis.Result{}, fmt.Errorf("%w: image could not be decoded: %v", analysis.ErrInvalidInput, err)
	}

	m.mu.Lock()
	detections := []analysis.Detection{}
	if m.rnd.Float64() < DetectionChance {
		count := int(m.rnd.Float64()*2) + 1
		for i := 0; i < count; i++ {
			p := catalog[int(m.rnd.Float64()*float64(len(catalog)))]
			detections = append(detections, analysis.Detection{
				PestType:    p.name,
				Confidence:  m.rnd.Float64()*0.3 + 0.7,
				Description: p.description,
				Treatment:   p.treatment,
				Severity:    p.severity,
			})
		}
	}
	brightness := m.rnd.Float64() * 100
	contrast := m.rnd.Float64() * 100
	m.mu.Unlock()

	q := Grade(brightness, contrast)
	return analysis.Result{
		HasPest:    len(detections) > 0,
		Detections: detections,
		ImageAnalysis: analysis.ImageAnalysis{
			Brightness: brightness,
			Contrast:   contrast,
			Quality:    q,
			Dimensions: analysis.Dimensions{Width: cfg.Width, Height: cfg.Height},
			FileSize:   int64(len(img)),
		},
		Recommendations: Recommend(detections, q, cfg.Width, cfg.Height),
	}, nil
}

// Grade maps brightness and contrast (0..100) to a quality bucket.
func Grade(brightness, contrast float64) analysis.Quality {
	switch {
	case brightness > 50 && contrast > 40:
		return analysis.QualityGood
	case brightness > 30 && contrast > 25:
		return analysis.QualityFair
	default:
		return analysis.QualityPoor
	}
}

// Recommend builds the user-facing advice list shown with a result.
func Recommend(dets []analysis.Detection, q analysis.Quality, width, height int) []string {
	var out []string
	if len(dets) > 0 {
		out = append(out,
			"Se detectaron plagas en tu cultivo",
			"Aplica el tratamiento recomendado lo antes posible",
		)
		high, aphid, whitefly := false, false, false
		for _, d := range dets {
			high = high || d.Severity == analysis.SeverityHigh
			aphid = aphid || d.PestType == "Pulgón"
			whitefly = whitefly || d.PestType == "Mosca blanca"
		}
		if high {
			out = append(out, "⚠️ Plagas de alta severidad detectadas - acción inmediata requerida")
		}
		if aphid {
			out = append(out, "💡 Para pulgones, considera usar mariquitas como control biológico")
		}
		if whitefly {
			out = append(out, "💡 Las trampas adhesivas amarillas son muy efectivas contra moscas blancas")
		}
	} else {
		out = append(out,
			"✅ No se detectaron plagas en la imagen",
			"Tu cultivo se ve saludable",
			"💡 Continúa monitoreando regularmente para prevenir infestaciones",
		)
	}

	if q == analysis.QualityPoor {
		out = append(out, "💡 Mejora la iluminación para un mejor análisis")
	}
	if width > 0 && height > 0 {
		if ratio := float64(width) / float64(height); ratio < 0.8 || ratio > 1.2 {
			out = append(out, "💡 Intenta tomar la foto más centrada en la planta")
		}
	}
	return out
}
