package builtin

import "github.com/nexus3/nexus3/internal/skills"

// Register installs every nexus_* orchestration skill into reg, grounded
// on the original registration.register_builtin_skills. This repo doesn't
// ship the original's file/bash skills (spec's Non-goals exclude concrete
// skill implementations), so only the pool-reaching primitives register
// here; all five are strict-schema, matching the original's exhaustive
// parameter sets.
func Register(reg *skills.Registry, _ map[string]any) error {
	registrations := []struct {
		name    string
		factory skills.Factory
		params  map[string]any
	}{
		{"nexus_send", NewNexusSendSkill, (&nexusSendSkill{}).Parameters()},
		{"nexus_status", NewNexusStatusSkill, (&nexusStatusSkill{}).Parameters()},
		{"nexus_cancel", NewNexusCancelSkill, (&nexusCancelSkill{}).Parameters()},
		{"nexus_destroy", NewNexusDestroySkill, (&nexusDestroySkill{}).Parameters()},
		{"nexus_shutdown", NewNexusShutdownSkill, (&nexusShutdownSkill{}).Parameters()},
	}

	for _, r := range registrations {
		if err := reg.Register(r.name, r.factory, r.params, true); err != nil {
			return err
		}
	}
	return nil
}
