package ir

// Format tags stamped on every container this build writes.
// Readers require an exact match on both tag and version.
const (
	// DatasetFormat tags sequence store containers.
	DatasetFormat = "msmbuilder-dataset"

	// ModelFormat tags fitted model containers.
	ModelFormat = "msmbuilder-model"

	// FormatVersion is the only container version this build reads or writes.
	FormatVersion = "1.0"

	// Version is the msmbuilder3 release.
	Version = "3.0.0"
)
