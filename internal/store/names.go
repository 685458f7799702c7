package store

import "github.com/penguinchat/penguinchat/internal/chat"

// DisplayName resolves an address for display: the mapping table first, then
// .sui names as-is, then the abbreviated address.
func (s *Store) DisplayName(addr string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.displayName(addr)
}

func (s *Store) displayName(addr string) string {
	names := map[string]string{}
	if _, err := s.getJSON(displayNamesKey, &names); err == nil {
		if name := names[addr]; name != "" {
			return name
		}
	}
	if chat.IsNameServiceName(addr) {
		return addr
	}
	return chat.ShortAddress(addr)
}

// SetDisplayName maps addr to name. An empty name removes the mapping.
func (s *Store) SetDisplayName(addr, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	names := map[string]string{}
	if _, err := s.getJSON(displayNamesKey, &names); err != nil {
		return err
	}
	if name == "" {
		delete(names, addr)
	} else {
		names[addr] = name
	}
	return s.putJSON(displayNamesKey, names)
}

// Sender returns the display snapshot for addr.
func (s *Store) Sender(addr string) chat.Sender {
	return chat.Sender{Name: s.DisplayName(addr), Avatar: chat.AvatarURL(addr)}
}
