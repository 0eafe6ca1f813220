package types

// AccountProfile records the directory a device registered with.
type AccountProfile struct {
	DirectoryURL  string  `json:"directory_url"`
	Address       Address `json:"address"`
	RegisteredUTC int64   `json:"registered_utc"`
}
