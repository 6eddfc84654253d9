package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"open-data-insight/internal/model"
)

// SeedID derives a stable id for a seed connection without one, so that
// reseeding on every start does not duplicate it.
func SeedID(conn *model.DatasetConnection) string {
	key := conn.PortalName + "\x00" + conn.DatasetID + "\x00" + conn.BaseURL + "\x00" + conn.Path
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(key)).String()
}

// Seed registers connections that are not stored yet and returns how many
// were added.
func Seed(ctx context.Context, repo Repository, conns []model.DatasetConnection) (int, error) {
	added := 0
	for i := range conns {
		conn := conns[i].Clone()
		if conn.ID == "" {
			conn.ID = SeedID(conn)
		}
		err := repo.CreateConnection(ctx, conn)
		switch {
		case err == nil:
			added++
		case errors.Is(err, ErrAlreadyExists):
		default:
			return added, fmt.Errorf("seed connection %s: %w", conn.ID, err)
		}
	}
	return added, nil
}
