package enhance

import (
	"fmt"
	"strconv"
	"strings"
)

// FilterID identifies a stage in the external filter chain.
type FilterID string

const (
	FilterDeesser        FilterID = "deesser"
	FilterNoiseReduction FilterID = "noise_reduction"
	FilterCompressor     FilterID = "compressor"
	FilterNormalizer     FilterID = "normalizer"
)

// FilterOrder is the canonical stage order. Inactive stages are skipped, the
// order of the remaining ones never changes.
var FilterOrder = []FilterID{
	FilterDeesser,
	FilterNoiseReduction,
	FilterCompressor,
	FilterNormalizer,
}

// filterSeparator joins stage fragments into one -af expression.
const filterSeparator = ","

// filterBuilderFunc returns the ffmpeg fragment for a stage, or "" if the stage is inactive.
type filterBuilderFunc func(Config) string

// filterBuilders maps FilterID to its builder function.
var filterBuilders = map[FilterID]filterBuilderFunc{
	FilterDeesser:        buildDeesser,
	FilterNoiseReduction: buildNoiseReduction,
	FilterCompressor:     buildCompressor,
	FilterNormalizer:     buildNormalizer,
}

// FilterStage is one active stage of a chain.
type FilterStage struct {
	ID         FilterID
	Expression string
}

// FilterChain is the ordered list of active stages for one run.
type FilterChain []FilterStage

// BuildFilterChain assembles the active stages for cfg. The chain is empty
// when the filter stage is switched off.
func BuildFilterChain(cfg Config) FilterChain {
	if !cfg.ApplyFilterStage {
		return nil
	}

	chain := make(FilterChain, 0, len(FilterOrder))
	for _, id := range FilterOrder {
		if expr := filterBuilders[id](cfg); expr != "" {
			chain = append(chain, FilterStage{ID: id, Expression: expr})
		}
	}
	return chain
}

// Expression joins the stage fragments into a composite ffmpeg -af argument.
func (c FilterChain) Expression() string {
	parts := make([]string, len(c))
	for i, s := range c {
		parts[i] = s.Expression
	}
	return strings.Join(parts, filterSeparator)
}

// Has reports whether the stage is part of the chain.
func (c FilterChain) Has(id FilterID) bool {
	for _, s := range c {
		if s.ID == id {
			return true
		}
	}
	return false
}

// IDs returns the stage identifiers in chain order.
func (c FilterChain) IDs() []FilterID {
	ids := make([]FilterID, len(c))
	for i, s := range c {
		ids[i] = s.ID
	}
	return ids
}

// buildDeesser cuts everything at and above the configured frequency by 5 dB.
func buildDeesser(cfg Config) string {
	if !cfg.ApplyDeesser {
		return ""
	}
	return fmt.Sprintf("firequalizer=gain='if(gte(f,%s),-5,0)'", formatNumber(cfg.DeesserFreqHz))
}

func buildNoiseReduction(cfg Config) string {
	if cfg.NoiseReductionLevel <= 0 {
		return ""
	}
	return "afftdn=nr=" + formatNumber(cfg.NoiseReductionLevel)
}

// buildCompressor is always active once the filter stage runs.
func buildCompressor(cfg Config) string {
	return fmt.Sprintf("acompressor=threshold=%.3f:ratio=%s:attack=10:release=100",
		cfg.CompressorThreshold, formatNumber(cfg.CompressorRatio))
}

// buildNormalizer is always active and always last.
func buildNormalizer(cfg Config) string {
	return fmt.Sprintf("dynaudnorm=f=%d:g=%d", cfg.NormalizationFrameLen, cfg.EffectiveSmoothingWindow())
}

// formatNumber renders v without trailing zeros, so 3000 stays "3000".
func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
