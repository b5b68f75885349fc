package fs

// Stores bundles the three file stores rooted at one directory
type Stores struct {
	Users         *FSUserStore
	RefreshTokens *FSRefreshTokenStore
	ResetCodes    *FSResetCodeStore
}

// New opens all stores under storagePath
func New(storagePath string) *Stores {
	return &Stores{
		Users:         NewFSUserStore(storagePath),
		RefreshTokens: NewFSRefreshTokenStore(storagePath),
		ResetCodes:    NewFSResetCodeStore(storagePath),
	}
}
