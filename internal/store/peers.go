package store

import "time"

// UpsertPeer records that we connected to peerID at addr, incrementing its
// connection count. Used by internal/node's connection-notify bundle.
func (s *Store) UpsertPeer(peerID, addr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().Unix()
	_, err := s.db.Exec(`INSERT INTO peers (peer_id, addresses, first_seen, last_seen, connection_count)
		VALUES (?, ?, ?, ?, 1)
		ON CONFLICT(peer_id) DO UPDATE SET
			addresses = excluded.addresses,
			last_seen = excluded.last_seen,
			connection_count = connection_count + 1`,
		peerID, addr, now, now)
	return err
}

// RecentPeerAddrs returns the dialable addresses of up to limit peers
// ordered by most recently seen, used to seed reconnection attempts after a
// restart.
func (s *Store) RecentPeerAddrs(limit int) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`SELECT addresses FROM peers
		WHERE addresses != '' ORDER BY last_seen DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var addr string
		if err := rows.Scan(&addr); err != nil {
			return nil, err
		}
		out = append(out, addr)
	}
	return out, rows.Err()
}
