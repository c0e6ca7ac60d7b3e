package model

// Feature is one dashboard capability and whether the caller may use it.
type Feature struct {
	Key      string `json:"key"`
	Name     string `json:"name"`
	ProOnly  bool   `json:"proOnly"`
	Unlocked bool   `json:"unlocked"`
}

// Dashboard is the entitlement-gated view served to a signed-in user.
type Dashboard struct {
	Profile      *Profile  `json:"profile"`
	ProjectLimit int       `json:"projectLimit"`
	Features     []Feature `json:"features"`
}
