// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// Store loads the registry from two layered tiers: an optional remote
// source (http(s):// or file:// URL) and a local override file. Local
// entries replace or augment remote ones, keyed by id.
type Store struct {
	remoteURL string
	localPath string
	client    *http.Client
	log       *logrus.Logger
}

// NewStore builds a store; either tier may be empty.
func NewStore(remoteURL, localPath string, log *logrus.Logger) *Store {
	return &Store{
		remoteURL: remoteURL,
		localPath: localPath,
		client:    &http.Client{Timeout: 10 * time.Second},
		log:       log,
	}
}

// Load fetches remote first, then overlays local. A missing local
// file is fine; a failing remote degrades to local-only with a
// warning so the dashboard stays usable offline.
func (s *Store) Load(ctx context.Context) (*Registry, error) {
	reg := &Registry{Version: CurrentVersion}

	if s.remoteURL != "" {
		remote, err := s.loadRemote(ctx)
		if err != nil {
			s.log.Warnf("remote registry unavailable: %v", err)
		} else {
			reg.merge(remote)
		}
	}
	if s.localPath != "" {
		local, err := s.loadFile(s.localPath)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("local registry: %w", err)
			}
		} else {
			reg.merge(local)
		}
	}
	return reg, nil
}

// Save writes the registry to the chosen tier: "local" or "remote".
// Remote saves require a file:// URL; a hosted remote registry is
// read-only from here.
func (s *Store) Save(reg *Registry, tier string) error {
	reg.Version = CurrentVersion
	switch tier {
	case "local":
		if s.localPath == "" {
			return fmt.Errorf("no local registry path configured")
		}
		return s.writeFile(s.localPath, reg)
	case "remote":
		path, ok := strings.CutPrefix(s.remoteURL, "file://")
		if !ok {
			return fmt.Errorf("remote registry %q is not writable", s.remoteURL)
		}
		return s.writeFile(path, reg)
	default:
		return fmt.Errorf("unknown registry tier %q", tier)
	}
}

func (s *Store) loadRemote(ctx context.Context) (*Registry, error) {
	if path, ok := strings.CutPrefix(s.remoteURL, "file://"); ok {
		return s.loadFile(path)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.remoteURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch registry: HTTP %d", resp.StatusCode)
	}
	return decodeRegistry(resp.Body)
}

func (s *Store) loadFile(path string) (*Registry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return decodeRegistry(f)
}

func (s *Store) writeFile(path string, reg *Registry) error {
	data, err := json.MarshalIndent(reg, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, append(data, '\n'), 0o600); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}

func decodeRegistry(r io.Reader) (*Registry, error) {
	var reg Registry
	if err := json.NewDecoder(r).Decode(&reg); err != nil {
		return nil, fmt.Errorf("parse registry: %w", err)
	}
	if reg.Version > CurrentVersion {
		return nil, fmt.Errorf("registry version %d is newer than supported %d", reg.Version, CurrentVersion)
	}
	return &reg, nil
}
