package template

import (
	"context"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/wisbric/scriptrt/pkg/capability"
	"github.com/wisbric/scriptrt/pkg/tenant"
)

// Fixture is the YAML shape for a local/dev template bundle, decoded into
// the same UpsertParams the database attachment path produces. It exists so
// a developer (or the demo seeder) can declare a tenant's templates as a
// checked-in file instead of hand-writing Upsert calls.
type Fixture struct {
	Guild     uint64              `yaml:"guild"`
	Templates []FixtureTemplate `yaml:"templates"`
}

// FixtureTemplate is one template entry within a Fixture.
type FixtureTemplate struct {
	Name         string   `yaml:"name"`
	Language     string   `yaml:"language"`
	Source       string   `yaml:"source"`
	AllowedCaps  []string `yaml:"allowed_caps"`
	Events       []string `yaml:"events"`
	ErrorChannel string   `yaml:"error_channel"`
	Disabled     bool     `yaml:"disabled"`
}

// DecodeFixture parses a YAML document into the UpsertParams each of its
// templates need, attached to the fixture's guild tenant.
func DecodeFixture(data []byte) ([]UpsertParams, error) {
	var f Fixture
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decoding template fixture: %w", err)
	}

	t := tenant.Guild(f.Guild)
	out := make([]UpsertParams, 0, len(f.Templates))
	for _, ft := range f.Templates {
		if ft.Name == "" {
			return nil, fmt.Errorf("decoding template fixture: entry missing name")
		}
		caps := make([]capability.String, len(ft.AllowedCaps))
		for i, c := range ft.AllowedCaps {
			caps[i] = capability.String(c)
		}
		state := StateActive
		if ft.Disabled {
			state = StateDisabled
		}
		out = append(out, UpsertParams{
			Tenant:       t,
			Name:         ft.Name,
			Language:     ft.Language,
			Content:      map[string]string{EntryPoint: ft.Source},
			AllowedCaps:  caps,
			Events:       ft.Events,
			ErrorChannel: ft.ErrorChannel,
			State:        state,
		})
	}
	return out, nil
}

// LoadFixtures loads and applies a YAML fixture file's templates through the
// given store, returning the attached templates in fixture order.
func LoadFixtures(ctx context.Context, store *Store, data []byte) ([]*Template, error) {
	params, err := DecodeFixture(data)
	if err != nil {
		return nil, err
	}
	out := make([]*Template, 0, len(params))
	for _, p := range params {
		tpl, err := store.Upsert(ctx, p)
		if err != nil {
			return nil, fmt.Errorf("applying fixture template %q: %w", p.Name, err)
		}
		out = append(out, tpl)
	}
	return out, nil
}
