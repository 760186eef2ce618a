package entity

// DirectoryUser is the engine's read-only view of a user in the
// organizational directory.
type DirectoryUser struct {
	ID     string `json:"id"`
	UnitID string `json:"unit_id"`
	Level  int    `json:"level"`
	Active bool   `json:"active"`
}
