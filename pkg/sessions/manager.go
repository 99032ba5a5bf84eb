// Copyright 2025 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package sessions

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"
)

const (
	sessionsDirName = "sessions"
	timeFormat      = "20060102"
)

// ErrSessionNotFound is returned when no session has the requested id.
var ErrSessionNotFound = errors.New("session not found")

// SessionManager manages the persisted conversations under BasePath.
type SessionManager struct {
	BasePath string
}

// NewSessionManager returns a manager rooted at ~/.searchagent/sessions.
func NewSessionManager() (*SessionManager, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("finding home directory: %w", err)
	}
	return NewSessionManagerAt(filepath.Join(homeDir, ".searchagent", sessionsDirName))
}

func NewSessionManagerAt(basePath string) (*SessionManager, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("creating sessions directory %q: %w", basePath, err)
	}
	return &SessionManager{
		BasePath: basePath,
	}, nil
}

// NewSession creates a new, empty session.
// IDs are prefixed with the creation date so that they sort chronologically.
func (sm *SessionManager) NewSession(meta Metadata) (*Session, error) {
	now := time.Now()
	sessionID := now.Format(timeFormat) + "-" + uuid.NewString()[:8]
	sessionPath := filepath.Join(sm.BasePath, sessionID)

	if err := os.MkdirAll(sessionPath, 0755); err != nil {
		return nil, fmt.Errorf("creating session directory: %w", err)
	}

	s := &Session{
		ID:   sessionID,
		Path: sessionPath,
	}

	meta.CreatedAt = now
	meta.LastAccessed = now
	if err := s.SaveMetadata(&meta); err != nil {
		return nil, err
	}
	return s, nil
}

// ListSessions lists all the sessions, newest first.
func (sm *SessionManager) ListSessions() ([]*Session, error) {
	entries, err := os.ReadDir(sm.BasePath)
	if err != nil {
		return nil, fmt.Errorf("reading sessions directory: %w", err)
	}

	var sessions []*Session
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		sessions = append(sessions, &Session{
			ID:   entry.Name(),
			Path: filepath.Join(sm.BasePath, entry.Name()),
		})
	}

	sort.Slice(sessions, func(i, j int) bool {
		mi, erri := sessions[i].LoadMetadata()
		mj, errj := sessions[j].LoadMetadata()
		if erri == nil && errj == nil && !mi.CreatedAt.Equal(mj.CreatedAt) {
			return mi.CreatedAt.After(mj.CreatedAt)
		}
		return sessions[i].ID > sessions[j].ID
	})

	return sessions, nil
}

// GetLatestSession returns the most recently created session, or nil if there is none.
func (sm *SessionManager) GetLatestSession() (*Session, error) {
	sessions, err := sm.ListSessions()
	if err != nil {
		return nil, err
	}
	if len(sessions) == 0 {
		return nil, nil
	}
	return sessions[0], nil
}

func (sm *SessionManager) FindSessionByID(id string) (*Session, error) {
	sessions, err := sm.ListSessions()
	if err != nil {
		return nil, err
	}
	for _, s := range sessions {
		if s.ID == id {
			return s, nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrSessionNotFound, id)
}

// DeleteSession deletes a session and all its data.
func (sm *SessionManager) DeleteSession(id string) error {
	session, err := sm.FindSessionByID(id)
	if err != nil {
		return err
	}
	return os.RemoveAll(session.Path)
}

// GetSessionInfo returns a session together with its metadata.
func (sm *SessionManager) GetSessionInfo(id string) (*Session, *Metadata, error) {
	session, err := sm.FindSessionByID(id)
	if err != nil {
		return nil, nil, err
	}

	meta, err := session.LoadMetadata()
	if err != nil {
		return nil, nil, err
	}

	return session, meta, nil
}
