package domain

import (
	"fmt"
	"strconv"
)

// Setting names as stored in layered_settings.
const (
	SettingShowQuantities = "show_quantities"
	SettingFullTree       = "full_tree"
	SettingPriceUseTax    = "price_use_tax"
	SettingCategoryDepth  = "category_depth"
	SettingPriceRounding  = "price_rounding"
	SettingIndexed        = "indexed"
)

// Settings are the module-wide facet options.
type Settings struct {
	ShowQuantities bool `json:"show_quantities"`
	FullTree       bool `json:"full_tree"`
	PriceUseTax    bool `json:"price_use_tax"`
	CategoryDepth  int  `json:"category_depth"`
	PriceRounding  bool `json:"price_rounding"`
	Indexed        bool `json:"indexed"`
}

// DefaultSettings returns the settings of a fresh installation.
func DefaultSettings() Settings {
	return Settings{
		ShowQuantities: true,
		FullTree:       true,
		PriceUseTax:    true,
		CategoryDepth:  1,
		PriceRounding:  true,
	}
}

// Values flattens the settings into name/value pairs. The indexed flag is
// left out; it is only written by the price index engine.
func (s Settings) Values() map[string]string {
	return map[string]string{
		SettingShowQuantities: strconv.FormatBool(s.ShowQuantities),
		SettingFullTree:       strconv.FormatBool(s.FullTree),
		SettingPriceUseTax:    strconv.FormatBool(s.PriceUseTax),
		SettingCategoryDepth:  strconv.Itoa(s.CategoryDepth),
		SettingPriceRounding:  strconv.FormatBool(s.PriceRounding),
	}
}

// SettingsFromValues builds settings from stored name/value pairs, falling
// back to defaults for missing names.
func SettingsFromValues(values map[string]string) (Settings, error) {
	s := DefaultSettings()
	bools := map[string]*bool{
		SettingShowQuantities: &s.ShowQuantities,
		SettingFullTree:       &s.FullTree,
		SettingPriceUseTax:    &s.PriceUseTax,
		SettingPriceRounding:  &s.PriceRounding,
		SettingIndexed:        &s.Indexed,
	}
	for name, dst := range bools {
		raw, ok := values[name]
		if !ok {
			continue
		}
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return Settings{}, fmt.Errorf("setting %s: %w", name, err)
		}
		*dst = v
	}
	if raw, ok := values[SettingCategoryDepth]; ok {
		v, err := strconv.Atoi(raw)
		if err != nil {
			return Settings{}, fmt.Errorf("setting %s: %w", SettingCategoryDepth, err)
		}
		s.CategoryDepth = v
	}
	return s, nil
}
