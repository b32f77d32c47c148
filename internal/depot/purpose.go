package depot

// TokenPurpose names the single use an ephemeral token is issued for.
type TokenPurpose string

const (
	PurposePasswordReset   TokenPurpose = "password_reset"
	PurposeAccountDeletion TokenPurpose = "account_deletion"
)

// Consumable reports whether validating the token should be followed by
// clearing it. Quick-share links are stored separately and are repeatable
// until expiry, so only the two account-level purposes exist here.
func (p TokenPurpose) Consumable() bool {
	return p == PurposePasswordReset || p == PurposeAccountDeletion
}

func (p TokenPurpose) Valid() bool {
	switch p {
	case PurposePasswordReset, PurposeAccountDeletion:
		return true
	}
	return false
}
