package changerequest

import (
	"fmt"
	"strings"
)

type Status string

const (
	StatusPending      Status = "Pending"
	StatusAutoApproved Status = "AutoApproved"
	StatusApproved     Status = "Approved"
	StatusDeclined     Status = "Declined"
	StatusApplied      Status = "Applied"
	StatusFailed       Status = "Failed"
)

var allStatuses = []Status{
	StatusPending, StatusAutoApproved, StatusApproved,
	StatusDeclined, StatusApplied, StatusFailed,
}

func ParseStatus(raw string) (Status, error) {
	for _, s := range allStatuses {
		if strings.EqualFold(string(s), strings.TrimSpace(raw)) {
			return s, nil
		}
	}
	return "", fmt.Errorf("changerequest: unknown status %q", raw)
}

// Terminal reports whether no transition leaves s.
func (s Status) Terminal() bool {
	return s == StatusDeclined || s == StatusApplied || s == StatusFailed
}

// Open reports whether a request in s may still mutate its entity.
func (s Status) Open() bool {
	return s == StatusPending || s == StatusApproved || s == StatusAutoApproved
}

type Source string

const (
	SourceSystem Source = "System"
	SourceManual Source = "Manual"
	SourceImport Source = "Import"
	SourceAPI    Source = "API"
)

func ParseSource(raw string) (Source, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return SourceManual, nil
	}
	for _, s := range []Source{SourceSystem, SourceManual, SourceImport, SourceAPI} {
		if strings.EqualFold(string(s), raw) {
			return s, nil
		}
	}
	return "", fmt.Errorf("changerequest: unknown source %q", raw)
}

type Transition string

const (
	TransitionApprove Transition = "approve"
	TransitionDecline Transition = "decline"
	TransitionApply   Transition = "apply"
)

var transitions = map[Transition][]Status{
	TransitionApprove: {StatusPending},
	TransitionDecline: {StatusPending},
	TransitionApply:   {StatusApproved, StatusAutoApproved},
}

// CanTransition reports whether t is permitted out of from.
func CanTransition(from Status, t Transition) bool {
	for _, s := range transitions[t] {
		if s == from {
			return true
		}
	}
	return false
}
