package storage

// ===== HELPER FUNCTIONS =====

type scanner interface {
	Scan(dest ...any) error
}

func scanMessage(s scanner) (*StoredMessage, error) {
	var (
		msg        StoredMessage
		isOutgoing int
	)

	err := s.Scan(
		&msg.ID,
		&msg.MessageID,
		&msg.Peer,
		&msg.UserID,
		&msg.Content,
		&msg.Timestamp,
		&msg.Status,
		&isOutgoing,
		&msg.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	msg.IsOutgoing = intToBool(isOutgoing)
	return &msg, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func intToBool(i int) bool {
	return i != 0
}
