package constants

// CollisionType identifies the hadron beam species of a simulated sample.
type CollisionType string

const (
	// CollisionEP is electron-proton scattering.
	CollisionEP CollisionType = "ep"

	// CollisionEN is electron-neutron scattering.
	CollisionEN CollisionType = "en"
)

// Valid returns true if the collision type is a recognized value.
func (c CollisionType) Valid() bool {
	switch c {
	case CollisionEP, CollisionEN:
		return true
	}
	return false
}

// String returns the string representation of the collision type.
func (c CollisionType) String() string {
	return string(c)
}
