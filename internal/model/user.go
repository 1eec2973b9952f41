package model

// CropFrame is a rectangular crop applied to a profile picture.
type CropFrame struct {
	X, Y, W, H float64
}

// ProfilePicture is one entry in a user's ordered list of profile
// pictures: a path relative to the dataset root plus an optional crop.
type ProfilePicture struct {
	RelativePath string
	Frame        *CropFrame
}

// User is a participant in a dataset, identified by a positive integer
// id unique within that dataset. Exactly one user per dataset has
// IsMyself set (spec §3.3 invariant 2).
type User struct {
	DsUUID    DatasetUUID
	ID        UserID
	FirstName *string
	LastName  *string
	Username  *string
	Phone     *string
	Pictures  []ProfilePicture
	IsMyself  bool
}

// PrettyName renders the best available display name for the user,
// falling back through first+last, first, last, username, to the fixed
// placeholder "User" — the same fallback chain chat renaming logic depends on
// (spec §4.2.6 update_user / personal chat renaming).
func (u *User) PrettyName() string {
	switch {
	case u.FirstName != nil && *u.FirstName != "" && u.LastName != nil && *u.LastName != "":
		return *u.FirstName + " " + *u.LastName
	case u.FirstName != nil && *u.FirstName != "":
		return *u.FirstName
	case u.LastName != nil && *u.LastName != "":
		return *u.LastName
	case u.Username != nil && *u.Username != "":
		return *u.Username
	default:
		return "User"
	}
}

// Validate checks invariant 1 (dataset existence is checked by the
// caller) and invariant "positive user id" (spec §7 Invalid-input).
func (u *User) Validate() error {
	if u.ID == InvalidUserID {
		return errInvalidUserID
	}
	if u.ID < 0 {
		return errNegativeUserID
	}
	return nil
}
