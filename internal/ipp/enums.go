package ipp

// JobState represents the IPP job-state enum (RFC 8011 section 5.3.7)
type JobState int

const (
	JobStatePending    JobState = 3
	JobStateHeld       JobState = 4
	JobStateProcessing JobState = 5
	JobStateStopped    JobState = 6
	JobStateCanceled   JobState = 7
	JobStateAborted    JobState = 8
	JobStateCompleted  JobState = 9
)

// String returns the registered keyword for the state
func (s JobState) String() string {
	switch s {
	case JobStatePending:
		return "pending"
	case JobStateHeld:
		return "pending-held"
	case JobStateProcessing:
		return "processing"
	case JobStateStopped:
		return "processing-stopped"
	case JobStateCanceled:
		return "canceled"
	case JobStateAborted:
		return "aborted"
	case JobStateCompleted:
		return "completed"
	default:
		return "unknown"
	}
}

// Terminal reports whether the state is final (canceled, aborted or completed)
func (s JobState) Terminal() bool {
	return s >= JobStateCanceled
}

// DocumentState represents the IPP document-state enum (PWG 5100.5)
type DocumentState int

const (
	DocumentStatePending    DocumentState = 3
	DocumentStateProcessing DocumentState = 5
	DocumentStateCanceled   DocumentState = 7
	DocumentStateAborted    DocumentState = 8
	DocumentStateCompleted  DocumentState = 9
)

// String returns the registered keyword for the state
func (s DocumentState) String() string {
	switch s {
	case DocumentStatePending:
		return "pending"
	case DocumentStateProcessing:
		return "processing"
	case DocumentStateCanceled:
		return "canceled"
	case DocumentStateAborted:
		return "aborted"
	case DocumentStateCompleted:
		return "completed"
	default:
		return "unknown"
	}
}

// PrinterState represents the IPP printer-state enum
type PrinterState int

const (
	PrinterStateIdle       PrinterState = 3
	PrinterStateProcessing PrinterState = 4
	PrinterStateStopped    PrinterState = 5
)

// String returns a human-readable state
func (s PrinterState) String() string {
	switch s {
	case PrinterStateIdle:
		return "idle"
	case PrinterStateProcessing:
		return "processing"
	case PrinterStateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Print quality values for the print-quality job template attribute
const (
	QualityDraft  = 3
	QualityNormal = 4
	QualityHigh   = 5
)
