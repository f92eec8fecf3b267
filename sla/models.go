package sla

import "time"

// DefaultResolutionHours applies when a dispute has no policy.
const DefaultResolutionHours = 720

// Policy is a per-organization pair of escalation and resolution windows.
// EscalationHours is expected to be below ResolutionHours but that is not
// enforced.
type Policy struct {
	ID              string
	OrganizationID  string
	Name            string
	ResolutionHours int
	EscalationHours int
	IsDefault       bool
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Deadline is createdAt plus the resolution window of p, or plus
// defaultHours when p is nil.
func Deadline(createdAt time.Time, p *Policy, defaultHours int) time.Time {
	hours := defaultHours
	if p != nil {
		hours = p.ResolutionHours
	}
	if hours <= 0 {
		hours = DefaultResolutionHours
	}
	return createdAt.Add(time.Duration(hours) * time.Hour)
}

// AgeHours is the elapsed time between createdAt and now in fractional hours.
func AgeHours(createdAt, now time.Time) float64 {
	return now.Sub(createdAt).Hours()
}

// EscalationDue reports whether a dispute created at createdAt has reached
// the escalation threshold of p by now.
func (p Policy) EscalationDue(createdAt, now time.Time) bool {
	return AgeHours(createdAt, now) >= float64(p.EscalationHours)
}

// Breached reports whether a dispute created at createdAt has reached the
// resolution window of p by now.
func (p Policy) Breached(createdAt, now time.Time) bool {
	return AgeHours(createdAt, now) >= float64(p.ResolutionHours)
}
