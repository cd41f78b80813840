package artifacts

// MaxInlineDataBytes is the maximum size (in bytes) for returning artifact data inline.
// This aligns with the inline-data ceiling on models.Artifact.Data.
const MaxInlineDataBytes int64 = 1024 * 1024
