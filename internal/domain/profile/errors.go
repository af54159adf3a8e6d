package profile

import "fmt"

// ProfileNotFoundError is returned when a source system has no active profile.
type ProfileNotFoundError struct {
	SourceSystem string
}

func (e *ProfileNotFoundError) Error() string {
	return fmt.Sprintf("no active mapping profile for source system %q", e.SourceSystem)
}

// InvalidProfileError is returned when a profile document fails validation.
type InvalidProfileError struct {
	ProfileID string
	Reason    string
}

func (e *InvalidProfileError) Error() string {
	if e.ProfileID == "" {
		return "invalid mapping profile: " + e.Reason
	}
	return fmt.Sprintf("invalid mapping profile %s: %s", e.ProfileID, e.Reason)
}

// VersionConflictError is returned when a version is republished with
// different content.
type VersionConflictError struct {
	SourceSystem string
	Version      string
}

func (e *VersionConflictError) Error() string {
	return fmt.Sprintf("profile %s version %s already published with different content", e.SourceSystem, e.Version)
}
