// Package report holds the data that parameterizes the report-authoring
// flow: the category set, the required field list, and the photo categories.
// Bot variants differ in this configuration, not in code paths.
package report

import coreconfig "github.com/fieldops/reportbot/core/config"

// PhotoCategory is one selectable attachment category.
type PhotoCategory struct {
	Key   string
	Label string
}

// Flow is the engine's view of the report configuration.
type Flow struct {
	Categories      []string
	RequiredFields  []string
	PhotoCategories []PhotoCategory

	AutoPrefix        string
	AllowEmptyPackage bool
}

// FlowFromConfig maps the loaded configuration onto a Flow.
func FlowFromConfig(cfg coreconfig.ReportConfig) Flow {
	flow := Flow{
		Categories:        append([]string(nil), cfg.Categories...),
		RequiredFields:    append([]string(nil), cfg.RequiredFields...),
		AutoPrefix:        cfg.AutoPrefix,
		AllowEmptyPackage: cfg.AllowEmptyPackage,
	}
	for _, pc := range cfg.PhotoCategories {
		flow.PhotoCategories = append(flow.PhotoCategories, PhotoCategory{Key: pc.Key, Label: pc.Label})
	}
	return flow
}

// ValidCategory reports whether s is one of the configured report categories.
func (f Flow) ValidCategory(s string) bool {
	for _, c := range f.Categories {
		if c == s {
			return true
		}
	}
	return false
}

// PhotoLabel resolves a photo category key to its display label. Unknown keys
// fall back to the key itself.
func (f Flow) PhotoLabel(key string) string {
	for _, pc := range f.PhotoCategories {
		if pc.Key == key {
			return pc.Label
		}
	}
	return key
}

// ValidPhotoCategory reports whether key is a configured photo category.
func (f Flow) ValidPhotoCategory(key string) bool {
	for _, pc := range f.PhotoCategories {
		if pc.Key == key {
			return true
		}
	}
	return false
}
