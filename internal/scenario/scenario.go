// Package scenario loads the ordered list of drill questions from YAML. The
// built-in scenario is embedded; an operator can point training.scenario_path
// at their own file.
package scenario

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	yaml "go.yaml.in/yaml/v3"

	"drillbot/internal/training"
)

//go:embed scenario.yaml
var builtin []byte

type file struct {
	Version int        `yaml:"version"`
	Items   []fileItem `yaml:"items"`
}

type fileItem struct {
	Index      int    `yaml:"index"`
	Category   string `yaml:"category"`
	Difficulty string `yaml:"difficulty"`
	Text       string `yaml:"text"`
}

// Default returns the embedded scenario.
func Default() ([]training.ScenarioItem, error) {
	return Parse(builtin)
}

// Load reads path, or the embedded scenario when path is empty.
func Load(path string) ([]training.ScenarioItem, error) {
	if strings.TrimSpace(path) == "" {
		return Default()
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("scenario %s: %w", path, err)
	}
	items, err := Parse(b)
	if err != nil {
		return nil, fmt.Errorf("scenario %s: %w", path, err)
	}
	return items, nil
}

func Parse(data []byte) ([]training.ScenarioItem, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	var f file
	if err := dec.Decode(&f); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("scenario is empty")
		}
		return nil, err
	}
	items := make([]training.ScenarioItem, 0, len(f.Items))
	for _, it := range f.Items {
		diff := training.Difficulty(strings.ToLower(strings.TrimSpace(it.Difficulty)))
		if diff == "" {
			diff = training.DifficultyMedium
		}
		items = append(items, training.ScenarioItem{
			Index:      it.Index,
			Text:       strings.TrimSpace(it.Text),
			Category:   strings.TrimSpace(it.Category),
			Difficulty: diff,
		})
	}
	if err := Validate(items); err != nil {
		return nil, err
	}
	return items, nil
}

// Validate requires items to be numbered 1..N in order with non-empty text
// and a known difficulty.
func Validate(items []training.ScenarioItem) error {
	if len(items) == 0 {
		return errors.New("scenario has no items")
	}
	var errs []error
	for i, it := range items {
		if it.Index != i+1 {
			errs = append(errs, fmt.Errorf("item #%d: index %d, want %d", i+1, it.Index, i+1))
		}
		if it.Text == "" {
			errs = append(errs, fmt.Errorf("item %d: empty text", it.Index))
		}
		if !it.Difficulty.Valid() {
			errs = append(errs, fmt.Errorf("item %d: unknown difficulty %q", it.Index, it.Difficulty))
		}
	}
	return errors.Join(errs...)
}
