// Copyright (C) 2025 efchat.net <tj@efchat.net>
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package models

import "errors"

// Error taxonomy shared by every component. Callers classify with errors.Is;
// producers wrap with fmt.Errorf("...: %w", ErrX).
var (
	ErrValidation       = errors.New("validation failed")
	ErrPermissionDenied = errors.New("permission denied")
	ErrAlreadyExists    = errors.New("already exists")
	ErrUpload           = errors.New("upload failed")
	ErrNotFound         = errors.New("not found")
	ErrService          = errors.New("service error")
	ErrUnauthenticated  = errors.New("unauthenticated")
	ErrRateLimited      = errors.New("rate limited")
)

// IsDomainError reports whether err carries one of the taxonomy errors other
// than ErrService. Domain errors are final and never retried.
func IsDomainError(err error) bool {
	for _, target := range []error{
		ErrValidation, ErrPermissionDenied, ErrAlreadyExists, ErrUpload,
		ErrNotFound, ErrUnauthenticated, ErrRateLimited,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
