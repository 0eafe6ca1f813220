package interfaces

import domaintypes "cipherkit/internal/domain/types"

// AccountStore persists the directory registration of this device.
type AccountStore interface {
	SaveAccountProfile(profile domaintypes.AccountProfile) error
	LoadAccountProfile() (domaintypes.AccountProfile, bool, error)
}
