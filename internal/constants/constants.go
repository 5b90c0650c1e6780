// Package constants provides named constants used throughout the quicksim codebase.
// This centralizes magic numbers for better maintainability and documentation.
package constants

// Weight lookup constants
const (
	// ExportQ2Offset is added to a record's Q2 lower edge before looking up its
	// weight during export, so the lookup lands inside the record's own bracket
	// rather than on a shared boundary.
	ExportQ2Offset = 0.0001

	// DefaultExperimentalLuminosity is used when no luminosity table rescales
	// the sample.
	DefaultExperimentalLuminosity = 1.0

	// AbsentWeight marks a manifest row that carries no user weight.
	AbsentWeight = -1.0
)

// Binning constants
const (
	// BinKeySeparator joins per-dimension bin indices into an accumulator key.
	BinKeySeparator = "_"

	// InvalidBin is the per-dimension index of a value outside the edges.
	InvalidBin = -1

	// ScaledEventsColumn is the trailing column of a binned output table.
	ScaledEventsColumn = "scaled_events"

	// MissingEdge is written in place of an edge value for an invalid index.
	MissingEdge = "NA"
)

// Migration constants
const (
	// ResponsePercentScale converts a response table entry into a fraction.
	ResponsePercentScale = 100.0
)

// Manifest constants
const (
	// MinManifestColumns is the number of required manifest columns; an
	// eighth optional column carries a user weight.
	MinManifestColumns = 7

	// DefaultProtonMarker identifies a proton-beam sample in a manifest
	// filename when inferring collision types.
	DefaultProtonMarker = "_ep_"

	// LowEnergyElectronBeam is the electron beam energy at which the highest
	// Q2 bracket is not simulated.
	LowEnergyElectronBeam = 5
)
