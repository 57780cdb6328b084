package cli

// Formatting of table output.
const (
	// TabWidth is the padding between table columns.
	TabWidth = 2
	// checksumDisplayLength is how much of a checksum tables show.
	checksumDisplayLength = 12
)
