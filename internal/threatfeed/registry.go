// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package threatfeed

import (
	"context"
	_ "embed"

	"gopkg.in/yaml.v3"

	"grimm.is/bindctl/internal/errors"
	"grimm.is/bindctl/internal/model"
	"grimm.is/bindctl/internal/store"
)

//go:embed feeds.yaml
var registryYAML []byte

type registry struct {
	Feeds []registryFeed `yaml:"feeds"`
}

type registryFeed struct {
	Name             string `yaml:"name"`
	URL              string `yaml:"url"`
	Format           string `yaml:"format"`
	Category         string `yaml:"category"`
	RPZZone          string `yaml:"rpz_zone"`
	UpdateFrequencyS int    `yaml:"update_frequency_s"`
}

// SeedRegistry inserts the built-in feeds that are not yet present, keyed
// by name. New entries start disabled; existing rows are never modified.
func SeedRegistry(ctx context.Context, st *store.Store) error {
	var reg registry
	if err := yaml.Unmarshal(registryYAML, &reg); err != nil {
		return errors.Wrap(err, errors.KindInternal, "parsing built-in feed registry")
	}

	return st.WithTx(ctx, func(tx *store.Tx) error {
		existing, err := tx.ListThreatFeeds(false)
		if err != nil {
			return err
		}
		known := make(map[string]bool, len(existing))
		for _, f := range existing {
			known[f.Name] = true
		}

		for _, rf := range reg.Feeds {
			if known[rf.Name] {
				continue
			}
			_, err := tx.CreateThreatFeed(&model.ThreatFeed{
				Name:             rf.Name,
				URL:              rf.URL,
				Format:           model.FeedFormat(rf.Format),
				Category:         rf.Category,
				RPZZone:          rf.RPZZone,
				UpdateFrequencyS: rf.UpdateFrequencyS,
				Enabled:          false,
				LastStatus:       model.FeedNever,
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
}
