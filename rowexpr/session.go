// Copyright (C) 2023 Quern Labs, Inc.
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

package rowexpr

import (
	"time"

	"github.com/google/uuid"
)

// Session carries the per-query context that session-dependent
// builtins (now(), current_user, ...) read from. A Session is
// immutable once constructed and safe to share between
// concurrent evaluations.
type Session struct {
	// QueryID identifies the query this evaluation belongs to.
	QueryID uuid.UUID
	// User is the authenticated principal running the query.
	User string
	// Start is the query start time; now() returns this value
	// so that every expression in one query sees one clock.
	Start time.Time
	// Zone is the session time zone.
	Zone *time.Location
	// Properties holds free-form session settings.
	Properties map[string]string
}

// NewSession constructs a session for user starting now,
// with a fresh query ID and the UTC time zone.
func NewSession(user string) *Session {
	return &Session{
		QueryID: uuid.New(),
		User:    user,
		Start:   time.Now().UTC(),
		Zone:    time.UTC,
	}
}

// Property returns a session property, or def when unset.
func (s *Session) Property(name, def string) string {
	if s == nil {
		return def
	}
	if v, ok := s.Properties[name]; ok {
		return v
	}
	return def
}
