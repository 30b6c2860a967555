package routing

import (
	"fmt"

	"github.com/spf13/viper"

	contractx "github.com/tanpawarit/Chative-Retail-Agent-Pipeline/agent/contract"
)

type fileTable struct {
	Transitions     map[string]map[string]string `mapstructure:"transitions"`
	Fallbacks       map[string]string            `mapstructure:"fallbacks"`
	DefaultFallback string                       `mapstructure:"default_fallback"`
}

// LoadTable reads a routing table from a YAML, JSON or TOML file. Stage and
// category names are case-insensitive. An empty path returns DefaultTable.
//
//	transitions:
//	  dialog:
//	    product_query: inventory
//	fallbacks:
//	  inventory: dialog
//	default_fallback: dialog
func LoadTable(path string) (*Table, error) {
	if path == "" {
		return DefaultTable(), nil
	}

	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read routing file %s: %w", path, err)
	}

	var raw fileTable
	if err := v.Unmarshal(&raw); err != nil {
		return nil, fmt.Errorf("decode routing file %s: %w", path, err)
	}
	spec, err := raw.toSpec()
	if err != nil {
		return nil, fmt.Errorf("routing file %s: %w", path, err)
	}
	return NewTable(spec)
}

func (f fileTable) toSpec() (TableSpec, error) {
	spec := TableSpec{
		Transitions: make(map[contractx.Stage]map[contractx.Category]contractx.Stage, len(f.Transitions)),
		Fallbacks:   make(map[contractx.Stage]contractx.Stage, len(f.Fallbacks)),
	}

	for fromName, row := range f.Transitions {
		from, err := contractx.ParseStage(fromName)
		if err != nil {
			return TableSpec{}, err
		}
		out := make(map[contractx.Category]contractx.Stage, len(row))
		for category, toName := range row {
			to, err := contractx.ParseStage(toName)
			if err != nil {
				return TableSpec{}, err
			}
			out[contractx.Category(category)] = to
		}
		spec.Transitions[from] = out
	}

	for fromName, toName := range f.Fallbacks {
		from, err := contractx.ParseStage(fromName)
		if err != nil {
			return TableSpec{}, err
		}
		to, err := contractx.ParseStage(toName)
		if err != nil {
			return TableSpec{}, err
		}
		spec.Fallbacks[from] = to
	}

	if f.DefaultFallback != "" {
		def, err := contractx.ParseStage(f.DefaultFallback)
		if err != nil {
			return TableSpec{}, err
		}
		spec.DefaultFallback = def
	}
	return spec, nil
}
