// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package registry

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLog() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func TestAuth_UnknownTypeRoundTrips(t *testing.T) {
	in := `{"type":"sso","issuer":"https://idp.example.com","client_id":"abc","nested":{"k":1}}`

	var a Auth
	require.NoError(t, json.Unmarshal([]byte(in), &a))
	assert.Equal(t, "sso", a.Type)

	out, err := json.Marshal(a)
	require.NoError(t, err)

	var got, want map[string]any
	require.NoError(t, json.Unmarshal(out, &got))
	require.NoError(t, json.Unmarshal([]byte(in), &want))
	assert.Equal(t, want, got, "unknown auth fields survive load/save")
}

func TestAuth_BasicRoundTrip(t *testing.T) {
	in := `{"type":"basic","username":"op","password":"pw"}`
	var a Auth
	require.NoError(t, json.Unmarshal([]byte(in), &a))
	assert.Equal(t, "basic", a.Type)
	assert.Equal(t, "op", a.Username)
	assert.Equal(t, "pw", a.Password)

	out, err := json.Marshal(a)
	require.NoError(t, err)
	var got map[string]any
	require.NoError(t, json.Unmarshal(out, &got))
	assert.Equal(t, map[string]any{"type": "basic", "username": "op", "password": "pw"}, got)
}

func TestRegistry_UnknownFieldsRoundTripAllLevels(t *testing.T) {
	in := `{"version":1,"schema_hint":"v2-preview","instances":[
		{"id":"k1","label":"Kiosk 1","baseUrl":"http://a:8000","role":"kiosk",
		 "site":"warehouse-3","tags":["night-shift"],
		 "auth":{"type":"cert","ca_bundle":"-----BEGIN-----"}}]}`

	var reg Registry
	require.NoError(t, json.Unmarshal([]byte(in), &reg))
	assert.Equal(t, "k1", reg.Instances[0].ID)
	assert.Equal(t, json.RawMessage(`"warehouse-3"`), reg.Instances[0].Extra["site"])
	assert.Equal(t, json.RawMessage(`"v2-preview"`), reg.Extra["schema_hint"])

	out, err := json.Marshal(reg)
	require.NoError(t, err)

	var got, want map[string]any
	require.NoError(t, json.Unmarshal(out, &got))
	require.NoError(t, json.Unmarshal([]byte(in), &want))
	assert.Equal(t, want, got, "unknown registry and instance fields survive load/save")

	// byte-level idempotence after one canonicalization
	var reg2 Registry
	require.NoError(t, json.Unmarshal(out, &reg2))
	out2, err := json.Marshal(reg2)
	require.NoError(t, err)
	assert.Equal(t, string(out), string(out2))
}

func regFile(t *testing.T, dir, name string, reg string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(reg), 0o600))
	return path
}

func TestStore_LocalOverridesRemote(t *testing.T) {
	dir := t.TempDir()
	remote := regFile(t, dir, "remote.json", `{"version":1,"instances":[
		{"id":"k1","label":"remote k1","baseUrl":"http://a:8000","role":"kiosk","auth":{"type":"basic"}},
		{"id":"k2","label":"remote k2","baseUrl":"http://b:8000","role":"kiosk","auth":{"type":"basic"}}]}`)
	local := regFile(t, dir, "local.json", `{"version":1,"instances":[
		{"id":"k2","label":"local override","baseUrl":"http://b2:8000","role":"kiosk","auth":{"type":"basic"}},
		{"id":"k3","label":"local only","baseUrl":"http://c:8000","role":"kiosk","auth":{"type":"basic"}}]}`)

	s := NewStore("file://"+remote, local, quietLog())
	reg, err := s.Load(context.Background())
	require.NoError(t, err)
	require.Len(t, reg.Instances, 3)

	k2, ok := reg.Find("k2")
	require.True(t, ok)
	assert.Equal(t, "local override", k2.Label)
	assert.Equal(t, "http://b2:8000", k2.BaseURL)

	_, ok = reg.Find("k3")
	assert.True(t, ok)
}

func TestStore_SaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	local := filepath.Join(dir, "local.json")
	s := NewStore("", local, quietLog())

	reg := &Registry{Instances: []Instance{{
		ID: "k1", Label: "Kiosk 1", BaseURL: "http://kiosk1:8000", Role: "kiosk",
		Auth: Auth{Type: "token", Extra: map[string]json.RawMessage{
			"token": json.RawMessage(`"opaque"`),
		}},
	}}}
	require.NoError(t, s.Save(reg, "local"))

	again, err := s.Load(context.Background())
	require.NoError(t, err)
	require.Len(t, again.Instances, 1)
	assert.Equal(t, CurrentVersion, again.Version)
	assert.Equal(t, "token", again.Instances[0].Auth.Type)
	assert.Equal(t, json.RawMessage(`"opaque"`), again.Instances[0].Auth.Extra["token"])

	// byte-level idempotence after one canonicalization
	first, err := os.ReadFile(local)
	require.NoError(t, err)
	require.NoError(t, s.Save(again, "local"))
	second, err := os.ReadFile(local)
	require.NoError(t, err)
	assert.Equal(t, string(first), string(second))
}

func TestStore_RemoteHTTPUnavailableDegrades(t *testing.T) {
	dir := t.TempDir()
	local := regFile(t, dir, "local.json", `{"version":1,"instances":[
		{"id":"k1","label":"l","baseUrl":"http://a:8000","role":"kiosk","auth":{"type":"basic"}}]}`)

	s := NewStore("http://127.0.0.1:1/registry.json", local, quietLog())
	s.client.Timeout = 200 * time.Millisecond
	reg, err := s.Load(context.Background())
	require.NoError(t, err)
	assert.Len(t, reg.Instances, 1)
}

func TestStore_SaveRemoteRequiresFileURL(t *testing.T) {
	s := NewStore("https://example.com/r.json", "", quietLog())
	err := s.Save(&Registry{}, "remote")
	assert.ErrorContains(t, err, "not writable")
}

func TestStore_NewerVersionRejected(t *testing.T) {
	dir := t.TempDir()
	local := regFile(t, dir, "local.json", `{"version":99,"instances":[]}`)
	s := NewStore("", local, quietLog())
	_, err := s.Load(context.Background())
	assert.ErrorContains(t, err, "version 99")
}

func TestClient_EnvelopeAndBasicAuth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		require.True(t, ok)
		assert.Equal(t, "op", user)
		assert.Equal(t, "pw", pass)
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"success":true,"data":{"uptimeSec":12},"timestamp":"t","signature":null,"encrypted":false}`)
	}))
	defer srv.Close()

	inst := &Instance{ID: "k1", BaseURL: srv.URL, Role: "kiosk",
		Auth: Auth{Type: "basic", Username: "op", Password: "pw"}}

	env, err := NewClient(0).Get(context.Background(), inst, "/api/status")
	require.NoError(t, err)
	assert.True(t, env.Success)
	assert.JSONEq(t, `{"uptimeSec":12}`, string(env.Data))
}

func TestClient_FailureCategories(t *testing.T) {
	t.Run("connection refused", func(t *testing.T) {
		inst := &Instance{ID: "k", BaseURL: "http://127.0.0.1:1", Role: "kiosk"}
		_, err := NewClient(time.Second).Get(context.Background(), inst, "/api/status")
		var f *Failure
		require.ErrorAs(t, err, &f)
		assert.Equal(t, FailRefused, f.Category)
	})

	t.Run("http status", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "nope", http.StatusForbidden)
		}))
		defer srv.Close()
		inst := &Instance{ID: "k", BaseURL: srv.URL, Role: "kiosk"}
		_, err := NewClient(0).Get(context.Background(), inst, "/api/status")
		var f *Failure
		require.ErrorAs(t, err, &f)
		assert.Equal(t, FailHTTPStatus, f.Category)
		assert.Equal(t, http.StatusForbidden, f.Status)
	})

	t.Run("decode failure", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			io.WriteString(w, "not json")
		}))
		defer srv.Close()
		inst := &Instance{ID: "k", BaseURL: srv.URL, Role: "kiosk"}
		_, err := NewClient(0).Get(context.Background(), inst, "/api/status")
		var f *Failure
		require.ErrorAs(t, err, &f)
		assert.Equal(t, FailDecode, f.Category)
	})
}

func TestInstance_Validate(t *testing.T) {
	inst := Instance{ID: "k1", BaseURL: "http://x", Role: "kiosk"}
	assert.NoError(t, inst.Validate())

	bad := Instance{ID: "k1", BaseURL: "http://x", Role: "router"}
	assert.ErrorContains(t, bad.Validate(), "role")
}
