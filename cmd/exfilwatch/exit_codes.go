package main

// Exit codes communicate sweep outcome to the scheduler wrapping the binary.

const (
	// ExitCodeClean indicates a completed sweep with no findings, or none
	// above medium.
	ExitCodeClean = 0

	// ExitCodeHighFinding indicates at least one high severity finding.
	ExitCodeHighFinding = 1

	// ExitCodeConfigOrSource indicates a configuration error or an
	// unavailable audit source; nothing was ingested.
	ExitCodeConfigOrSource = 2

	// ExitCodeInternal indicates an engine or emission failure after ingest.
	ExitCodeInternal = 3
)
