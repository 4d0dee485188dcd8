package engine

import (
	"fmt"
	"strings"
	"unicode"
)

// Deposit size ceilings. Payloads are opaque to the engine but not unbounded.
const (
	maxPayloadChars  = 65536
	maxEvidenceChars = 4096
	maxTaskSegments  = 8
)

var validOutcomes = map[string]bool{
	"success":         true,
	"partial_success": true,
	"failure":         true,
	"aborted":         true,
}

// DepositRequest is the raw deposit input, checked by the schema validator
// before any state changes.
type DepositRequest struct {
	XRID           string  `json:"xr_id,omitempty"` // optional; generated when empty
	AgentID        string  `json:"agent_id"`
	TaskType       string  `json:"task_type"`
	OutcomeStatus  string  `json:"outcome_status"`
	ParentXRID     string  `json:"parent_xr_id,omitempty"`
	SelfAssessment float64 `json:"self_assessment"`
	Payload        string  `json:"payload,omitempty"`
}

// SchemaValidator checks structural validity of a deposit. The engine
// consumes it as a collaborator so callers can substitute a stricter one.
type SchemaValidator interface {
	ValidateStructure(req *DepositRequest) error
}

// StructuralValidator is the built-in schema check: required fields, value
// ranges, classification shape, and size ceilings (oversized payloads are
// rejected, not truncated — content is immutable once deposited).
type StructuralValidator struct{}

func (StructuralValidator) ValidateStructure(req *DepositRequest) error {
	if strings.TrimSpace(req.AgentID) == "" {
		return fmt.Errorf("agent_id required")
	}
	if strings.TrimSpace(req.TaskType) == "" {
		return fmt.Errorf("task_type required")
	}
	if !validOutcomes[req.OutcomeStatus] {
		return fmt.Errorf("invalid outcome_status %q", req.OutcomeStatus)
	}
	if req.SelfAssessment < 0 || req.SelfAssessment > 1 {
		return fmt.Errorf("self_assessment %v outside [0,1]", req.SelfAssessment)
	}
	if err := validateTaskType(req.TaskType); err != nil {
		return err
	}
	if len(req.Payload) > maxPayloadChars {
		return fmt.Errorf("payload too large (%d chars, max %d)", len(req.Payload), maxPayloadChars)
	}
	return nil
}

// validateTaskType checks the hierarchical dot notation: non-empty segments
// of [a-z0-9_-], bounded depth.
func validateTaskType(taskType string) error {
	segments := strings.Split(taskType, ".")
	if len(segments) > maxTaskSegments {
		return fmt.Errorf("task_type too deep (%d segments, max %d)", len(segments), maxTaskSegments)
	}
	for _, seg := range segments {
		if seg == "" {
			return fmt.Errorf("task_type %q has an empty segment", taskType)
		}
		for _, r := range seg {
			if !validSegmentChar(r) {
				return fmt.Errorf("task_type segment %q contains invalid character %q", seg, r)
			}
		}
	}
	return nil
}

func validSegmentChar(r rune) bool {
	return unicode.IsLower(r) || unicode.IsDigit(r) || r == '-' || r == '_'
}
