package runconfig

import (
	"strconv"

	"github.com/elisa-tech/BASIL-sub001/internal/kv"
	"github.com/elisa-tech/BASIL-sub001/internal/model"
)

// Fields returns the run configuration as override fields: scalars keyed by
// column name, plus env and context decoded from their variable strings. The
// raw plugin, environment and context variable strings are not included.
func Fields(rc model.RunConfig) map[string]any {
	fields := map[string]any{
		"id":                   rc.ID,
		"title":                rc.Title,
		"plugin":               rc.Plugin,
		"plugin_preset":        rc.PluginPreset,
		"git_repo_ref":         rc.GitRepoRef,
		"provision_type":       rc.ProvisionType,
		"provision_guest":      rc.ProvisionGuest,
		"provision_guest_port": rc.ProvisionGuestPort,
		"ssh_key":              rc.SSHKey,
		KeyEnv:                 toAnyMap(kv.Decode(rc.EnvironmentVars)),
		KeyContext:             toAnyMap(kv.Decode(rc.ContextVars)),
	}
	if rc.CreatedByID != 0 {
		fields["created_by_id"] = rc.CreatedByID
	}
	return fields
}

// Resolve builds the configuration for one run. It does not touch its inputs.
//
// Seed: the named preset when rc.PluginPreset is set (an unknown name leaves
// the seed empty), otherwise the decoded plugin_vars. Then every field from
// Fields is merged: nested maps only gain keys the seed does not have, and
// scalars overwrite only when truthy. Finally the identity keys are written.
func Resolve(rc model.RunConfig, presets Presets, id Identity) Config {
	cfg := Config{}

	if rc.PluginPreset != "" {
		if preset, ok := presets.Lookup(rc.Plugin, rc.PluginPreset); ok {
			for k, v := range preset {
				cfg[k] = v
			}
		}
	} else {
		for k, v := range kv.Decode(rc.PluginVars) {
			cfg[k] = v
		}
	}

	for k, v := range Fields(rc) {
		merge(cfg, k, v)
	}

	for _, key := range []string{KeyEnv, KeyContext} {
		if _, ok := cfg[key].(map[string]any); !ok {
			cfg[key] = map[string]any{}
		}
	}

	vars := id.Vars()
	env := copyMap(cfg[KeyEnv].(map[string]any))
	for k, v := range vars {
		env[k] = v
	}
	cfg[KeyEnv] = env
	cfg[KeyBasilEnv] = kv.Encode(vars)
	cfg[KeyUID] = id.Run.UID
	cfg[KeyUserID] = strconv.FormatInt(id.Run.CreatedByID, 10)

	return cfg
}

// merge applies one override field. The nested-map rule keeps existing keys:
// {env:{a:1}} merged with {env:{a:2,b:3}} gives {env:{a:1,b:3}}.
func merge(cfg Config, key string, value any) {
	if override, ok := value.(map[string]any); ok {
		existing, ok := cfg[key].(map[string]any)
		if !ok {
			existing = map[string]any{}
		} else {
			existing = copyMap(existing)
		}
		for k, v := range override {
			if _, present := existing[k]; !present {
				existing[k] = v
			}
		}
		cfg[key] = existing
		return
	}
	if truthy(value) {
		cfg[key] = value
	}
}
