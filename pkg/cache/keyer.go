package cache

// Keyer generates cache keys.
type Keyer interface {
	// MetadataKey returns the key for the document extracted from the
	// archive whose SHA-256 is archiveHash.
	MetadataKey(archiveHash string, opts MetadataKeyOpts) string
}

// MetadataKeyOpts are the extraction options that change the document.
type MetadataKeyOpts struct {
	Interpreter   string `json:"interpreter"`
	ScriptName    string `json:"script_name"`
	SchemaVersion int    `json:"schema_version"`
}

// DefaultKeyer hashes its inputs into "metadata:<sha256>" keys.
type DefaultKeyer struct{}

// NewDefaultKeyer creates the default keyer.
func NewDefaultKeyer() Keyer {
	return DefaultKeyer{}
}

// MetadataKey implements Keyer.
func (DefaultKeyer) MetadataKey(archiveHash string, opts MetadataKeyOpts) string {
	return hashKey("metadata", archiveHash, opts)
}
