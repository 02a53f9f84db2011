package model

import (
	"errors"
	"fmt"

	"github.com/example/go-tinyml-audio/internal/quant"
)

// Config describes the single compiled classifier artifact the runner is
// built for. It never changes for the lifetime of a process.
type Config struct {
	MelBands    int
	Frames      int
	InputLen    int
	OutputLen   int
	MaxOps      int
	ArenaSize   int
	InputQuant  quant.Params
	OutputQuant quant.Params
}

// Default returns the constants of the int8 student model: a 128x62
// log-mel spectrogram in, 10 class probabilities out.
func Default() Config {
	return Config{
		MelBands:    128,
		Frames:      62,
		InputLen:    128 * 62,
		OutputLen:   10,
		MaxOps:      200,
		ArenaSize:   104 * 1024,
		InputQuant:  quant.Params{Scale: 0.3137255012989044, ZeroPoint: 127},
		OutputQuant: quant.Params{Scale: 0.00390625, ZeroPoint: -128},
	}
}

// Validate reports the first inconsistency in c.
func (c Config) Validate() error {
	if c.MelBands < 1 || c.Frames < 1 {
		return fmt.Errorf("input geometry must be positive, got %dx%d", c.MelBands, c.Frames)
	}
	if c.InputLen != c.MelBands*c.Frames {
		return fmt.Errorf("input length %d does not match %dx%d", c.InputLen, c.MelBands, c.Frames)
	}
	if c.OutputLen < 1 {
		return errors.New("output length must be positive")
	}
	if c.MaxOps < 1 {
		return errors.New("operation budget must be positive")
	}
	if c.ArenaSize < 1 {
		return errors.New("arena size must be positive")
	}
	if err := c.InputQuant.Validate(); err != nil {
		return fmt.Errorf("input: %w", err)
	}
	if err := c.OutputQuant.Validate(); err != nil {
		return fmt.Errorf("output: %w", err)
	}
	return nil
}
