package profile

import (
	"errors"

	"github.com/penguinchat/penguinchat/internal/config"
)

// ErrNoWallet is returned when neither a flag nor the config names a wallet.
var ErrNoWallet = errors.New("no wallet selected: pass --wallet or set default_wallet in config.toml")

// Resolve determines the active wallet using precedence:
// 1. flagOverride (--wallet flag)
// 2. config.toml default_wallet
func Resolve(flagOverride string) (string, error) {
	wallet := flagOverride
	if wallet == "" {
		if cfg, err := config.Load(ConfigPath()); err == nil {
			wallet = cfg.DefaultWallet
		}
	}
	if wallet == "" {
		return "", ErrNoWallet
	}
	if err := ValidateAddress(wallet); err != nil {
		return "", err
	}
	return wallet, nil
}
