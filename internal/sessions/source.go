package sessions

import (
	"fmt"
	"os"
	"strings"
	"unicode"

	"gopkg.in/yaml.v3"

	"github.com/rickgao/market-watcher/internal/model"
	"github.com/rickgao/market-watcher/internal/sessiontime"
)

// Source supplies the ordered session ranges for an instrument's current
// trading day. An empty result means the instrument has no active sessions
// and all its ticks will be rejected.
type Source interface {
	SessionRanges(instrumentID string) []model.SessionRange
}

// rangeSpec is the YAML shape of one session range.
type rangeSpec struct {
	Start string `yaml:"start"` // "HH:MM:SS"
	End   string `yaml:"end"`   // "HH:MM:SS"
}

// tableFile is the YAML shape of a session table.
type tableFile struct {
	Default  []rangeSpec            `yaml:"default"`
	Products map[string][]rangeSpec `yaml:"products"`
}

// FileSource is a Source backed by a YAML session table keyed by product
// code, with a default schedule for unlisted products.
type FileSource struct {
	defaults []model.SessionRange
	products map[string][]model.SessionRange
}

// DefaultRanges is the schedule used when a table lists no default:
// the standard day session (09:00-10:15, 10:30-11:30, 13:30-15:00).
func DefaultRanges() []model.SessionRange {
	return []model.SessionRange{
		{Start: 9 * 3600, End: 10*3600 + 15*60},
		{Start: 10*3600 + 30*60, End: 11*3600 + 30*60},
		{Start: 13*3600 + 30*60, End: 15 * 3600},
	}
}

// LoadFile reads a YAML session table.
func LoadFile(path string) (*FileSource, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read session table: %w", err)
	}

	var f tableFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse session table yaml: %w", err)
	}

	src := &FileSource{products: make(map[string][]model.SessionRange, len(f.Products))}

	if len(f.Default) > 0 {
		src.defaults, err = convertRanges(f.Default)
		if err != nil {
			return nil, fmt.Errorf("default schedule: %w", err)
		}
	} else {
		src.defaults = DefaultRanges()
	}

	for product, specs := range f.Products {
		ranges, err := convertRanges(specs)
		if err != nil {
			return nil, fmt.Errorf("product %q schedule: %w", product, err)
		}
		src.products[strings.ToLower(product)] = ranges
	}

	return src, nil
}

// NewStaticSource builds a Source from in-memory tables; used in tests and
// when no session-table file is configured.
func NewStaticSource(defaults []model.SessionRange, products map[string][]model.SessionRange) *FileSource {
	if defaults == nil {
		defaults = DefaultRanges()
	}
	if products == nil {
		products = make(map[string][]model.SessionRange)
	}
	return &FileSource{defaults: defaults, products: products}
}

// SessionRanges returns the schedule for instrumentID, looked up by its
// product code with the default schedule as fallback.
func (s *FileSource) SessionRanges(instrumentID string) []model.SessionRange {
	if ranges, ok := s.products[ProductCode(instrumentID)]; ok {
		out := make([]model.SessionRange, len(ranges))
		copy(out, ranges)
		return out
	}
	out := make([]model.SessionRange, len(s.defaults))
	copy(out, s.defaults)
	return out
}

// ProductCode extracts the product code from an instrument identifier:
// the lowercased leading letters before the contract month digits
// ("cu1705" -> "cu", "IF1705" -> "if").
func ProductCode(instrumentID string) string {
	for i, r := range instrumentID {
		if unicode.IsDigit(r) {
			return strings.ToLower(instrumentID[:i])
		}
	}
	return strings.ToLower(instrumentID)
}

func convertRanges(specs []rangeSpec) ([]model.SessionRange, error) {
	out := make([]model.SessionRange, 0, len(specs))
	for _, spec := range specs {
		start, err := sessiontime.ParseHHMMSS(spec.Start)
		if err != nil {
			return nil, err
		}
		end, err := sessiontime.ParseHHMMSS(spec.End)
		if err != nil {
			return nil, err
		}
		out = append(out, model.SessionRange{Start: start, End: end})
	}
	return out, nil
}
