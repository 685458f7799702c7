package profile

import (
	"os"
	"path/filepath"
)

// HomeEnv overrides the base directory, mainly for tests and multi-user setups.
const HomeEnv = "PENGUIN_HOME"

// BaseDir returns ~/.penguinchat, or $PENGUIN_HOME when set.
func BaseDir() string {
	if dir := os.Getenv(HomeEnv); dir != "" {
		return dir
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".penguinchat")
}

// Dir returns the profile directory of a wallet.
func Dir(wallet string) string {
	return filepath.Join(BaseDir(), "wallets", wallet)
}

// SocketPath returns the control socket of the wallet daemon.
func SocketPath(wallet string) string {
	return filepath.Join(Dir(wallet), "daemon.sock")
}

// LockPath returns the lock file path of a wallet profile.
func LockPath(wallet string) string {
	return filepath.Join(Dir(wallet), "LOCK")
}

// SQLitePath returns the SQLite store of a wallet.
func SQLitePath(wallet string) string {
	return filepath.Join(Dir(wallet), "penguin.db")
}

// LevelDBDir returns the LevelDB store directory of a wallet.
func LevelDBDir(wallet string) string {
	return filepath.Join(Dir(wallet), "leveldb")
}

func LogDir(wallet string) string {
	return filepath.Join(Dir(wallet), "logs")
}

// LogPath returns the daemon log file path.
func LogPath(wallet string) string {
	return filepath.Join(LogDir(wallet), "penguind.log")
}

// ConfigPath returns the global config file path.
func ConfigPath() string {
	return filepath.Join(BaseDir(), "config.toml")
}

// EnsureDir creates the wallet profile tree with owner-only permissions.
func EnsureDir(wallet string) error {
	for _, d := range []string{Dir(wallet), LogDir(wallet)} {
		if err := os.MkdirAll(d, 0700); err != nil {
			return err
		}
	}
	return nil
}
