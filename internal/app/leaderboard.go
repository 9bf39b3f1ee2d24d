package app

import (
	"sort"

	"quiz-room-service/internal/domain"
)

// rankPlayers orders players by score, highest first. Ties keep join order
// because players is kept in join order and the sort is stable. limit <= 0
// returns everyone.
func rankPlayers(players []*domain.Player, limit int) []domain.LeaderboardEntry {
	ordered := make([]*domain.Player, len(players))
	copy(ordered, players)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Score > ordered[j].Score
	})
	if limit > 0 && len(ordered) > limit {
		ordered = ordered[:limit]
	}

	entries := make([]domain.LeaderboardEntry, len(ordered))
	for i, p := range ordered {
		entries[i] = domain.LeaderboardEntry{
			Rank:  i + 1,
			ID:    p.ID,
			Name:  p.Name,
			Score: p.Score,
		}
	}
	return entries
}
