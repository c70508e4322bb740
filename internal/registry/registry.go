// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

// Package registry holds the catalog of fleet instances the admin
// dashboard knows about, and the HTTP client used to reach them.
package registry

import (
	"encoding/json"
	"fmt"
)

// CurrentVersion of the registry file format.
const CurrentVersion = 1

// Auth is the per-instance credential descriptor. Only "basic" is
// decodable today; any other type, and any field this build does not
// know, survives a load/save cycle untouched.
type Auth struct {
	Type     string
	Username string
	Password string
	Extra    map[string]json.RawMessage
}

func (a *Auth) UnmarshalJSON(data []byte) error {
	raw := make(map[string]json.RawMessage)
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	take := func(key string, dst *string) {
		if v, ok := raw[key]; ok {
			if json.Unmarshal(v, dst) == nil {
				delete(raw, key)
			}
		}
	}
	take("type", &a.Type)
	take("username", &a.Username)
	take("password", &a.Password)
	if len(raw) > 0 {
		a.Extra = raw
	}
	return nil
}

func (a Auth) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(a.Extra)+3)
	for k, v := range a.Extra {
		out[k] = v
	}
	out["type"] = a.Type
	if a.Username != "" {
		out["username"] = a.Username
	}
	if a.Password != "" {
		out["password"] = a.Password
	}
	return json.Marshal(out)
}

// Instance is one addressable agent. Like Auth, fields this build
// does not know survive a load/save cycle untouched.
type Instance struct {
	ID      string
	Label   string
	BaseURL string
	Role    string // kiosk | admin
	Auth    Auth
	Extra   map[string]json.RawMessage
}

func (i *Instance) UnmarshalJSON(data []byte) error {
	raw := make(map[string]json.RawMessage)
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	take := func(key string, dst any) {
		if v, ok := raw[key]; ok {
			if json.Unmarshal(v, dst) == nil {
				delete(raw, key)
			}
		}
	}
	take("id", &i.ID)
	take("label", &i.Label)
	take("baseUrl", &i.BaseURL)
	take("role", &i.Role)
	take("auth", &i.Auth)
	if len(raw) > 0 {
		i.Extra = raw
	}
	return nil
}

func (i Instance) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(i.Extra)+5)
	for k, v := range i.Extra {
		out[k] = v
	}
	out["id"] = i.ID
	out["label"] = i.Label
	out["baseUrl"] = i.BaseURL
	out["role"] = i.Role
	out["auth"] = i.Auth
	return json.Marshal(out)
}

// Validate checks the fields the admin API requires.
func (i *Instance) Validate() error {
	if i.ID == "" {
		return fmt.Errorf("instance id is required")
	}
	if i.BaseURL == "" {
		return fmt.Errorf("instance %s: baseUrl is required", i.ID)
	}
	switch i.Role {
	case "kiosk", "admin":
	default:
		return fmt.Errorf("instance %s: role must be kiosk or admin, got %q", i.ID, i.Role)
	}
	return nil
}

// Registry is the instance catalog. Unknown top-level keys are kept
// through a load/save cycle.
type Registry struct {
	Version   int
	Instances []Instance
	Extra     map[string]json.RawMessage
}

func (r *Registry) UnmarshalJSON(data []byte) error {
	raw := make(map[string]json.RawMessage)
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	take := func(key string, dst any) {
		if v, ok := raw[key]; ok {
			if json.Unmarshal(v, dst) == nil {
				delete(raw, key)
			}
		}
	}
	take("version", &r.Version)
	take("instances", &r.Instances)
	if len(raw) > 0 {
		r.Extra = raw
	}
	return nil
}

func (r Registry) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(r.Extra)+2)
	for k, v := range r.Extra {
		out[k] = v
	}
	out["version"] = r.Version
	instances := r.Instances
	if instances == nil {
		instances = []Instance{}
	}
	out["instances"] = instances
	return json.Marshal(out)
}

// Find returns the instance with the given id.
func (r *Registry) Find(id string) (*Instance, bool) {
	for i := range r.Instances {
		if r.Instances[i].ID == id {
			return &r.Instances[i], true
		}
	}
	return nil, false
}

// merge overlays other onto r, keyed by instance id. Entries in other
// replace same-id entries in r; new ids are appended in order. Unknown
// top-level keys from other win over r's.
func (r *Registry) merge(other *Registry) {
	index := make(map[string]int, len(r.Instances))
	for i, inst := range r.Instances {
		index[inst.ID] = i
	}
	for _, inst := range other.Instances {
		if i, ok := index[inst.ID]; ok {
			r.Instances[i] = inst
		} else {
			r.Instances = append(r.Instances, inst)
		}
	}
	for k, v := range other.Extra {
		if r.Extra == nil {
			r.Extra = make(map[string]json.RawMessage)
		}
		r.Extra[k] = v
	}
}
