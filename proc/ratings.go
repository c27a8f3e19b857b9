package proc

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/yuigahama/hibiki/sys"
)

// RatingSource supplies per-guild aggregate scores to the autoplay engine.
type RatingSource interface {
	GuildRatings(ctx context.Context, guildID string) (map[string]int, error)
}

// RatedTrack is an aggregate rating row for listing views.
type RatedTrack struct {
	VideoID string
	Title   string
	Artist  string
	Score   int
	Votes   int
}

// RatingStore persists per-user track ratings and serves guild aggregates.
// One row per (guild, video, user); the guild score is the sum of user votes.
type RatingStore struct {
	db *sql.DB
}

func NewRatingStore(db *sql.DB) *RatingStore {
	return &RatingStore{db: db}
}

var defaultRatingStore *RatingStore

// InitRatings wires the default store used by the command layer.
func InitRatings(db *sql.DB) *RatingStore {
	defaultRatingStore = NewRatingStore(db)
	return defaultRatingStore
}

func GetRatingStore() *RatingStore {
	return defaultRatingStore
}

// Rate records a user's vote for a track, replacing any prior vote.
// Valid ratings are -2..2; 0 clears the vote.
func (s *RatingStore) Rate(ctx context.Context, guildID, videoID, userID string, rating int, title, artist string) error {
	if rating < -2 || rating > 2 {
		return fmt.Errorf("rating out of range: %d", rating)
	}
	if rating == 0 {
		return s.Clear(ctx, guildID, videoID, userID)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO song_ratings (guild_id, video_id, rating, rated_by, title, artist)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(guild_id, video_id, rated_by)
		DO UPDATE SET rating = excluded.rating, title = excluded.title, artist = excluded.artist`,
		guildID, videoID, rating, userID, title, artist)
	if err != nil {
		return fmt.Errorf("save rating: %w", err)
	}
	sys.LogRatings("User %s rated %s %+d in guild %s", userID, videoID, rating, guildID)
	return nil
}

// Clear removes a user's vote for a track. Clearing an absent vote is a no-op.
func (s *RatingStore) Clear(ctx context.Context, guildID, videoID, userID string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM song_ratings WHERE guild_id = ? AND video_id = ? AND rated_by = ?`,
		guildID, videoID, userID)
	if err != nil {
		return fmt.Errorf("clear rating: %w", err)
	}
	return nil
}

// UserRating returns the caller's current vote for a track, 0 when unset.
func (s *RatingStore) UserRating(ctx context.Context, guildID, videoID, userID string) (int, error) {
	var rating int
	err := s.db.QueryRowContext(ctx,
		`SELECT rating FROM song_ratings WHERE guild_id = ? AND video_id = ? AND rated_by = ?`,
		guildID, videoID, userID).Scan(&rating)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return rating, nil
}

// TrackScore returns the summed guild score and vote count for one track.
func (s *RatingStore) TrackScore(ctx context.Context, guildID, videoID string) (score, votes int, err error) {
	err = s.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(rating), 0), COUNT(*) FROM song_ratings WHERE guild_id = ? AND video_id = ?`,
		guildID, videoID).Scan(&score, &votes)
	return score, votes, err
}

// GuildRatings returns every rated track's summed score for a guild.
func (s *RatingStore) GuildRatings(ctx context.Context, guildID string) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT video_id, SUM(rating) FROM song_ratings WHERE guild_id = ? GROUP BY video_id`,
		guildID)
	if err != nil {
		return nil, fmt.Errorf("load guild ratings: %w", err)
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var id string
		var score int
		if err := rows.Scan(&id, &score); err != nil {
			return nil, err
		}
		out[id] = score
	}
	return out, rows.Err()
}

// TopRated lists a guild's highest scored tracks for the ratings view.
func (s *RatingStore) TopRated(ctx context.Context, guildID string, limit int) ([]RatedTrack, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT video_id, COALESCE(MAX(title), ''), COALESCE(MAX(artist), ''), SUM(rating), COUNT(*)
		FROM song_ratings
		WHERE guild_id = ?
		GROUP BY video_id
		ORDER BY SUM(rating) DESC, COUNT(*) DESC
		LIMIT ?`,
		guildID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RatedTrack
	for rows.Next() {
		var t RatedTrack
		if err := rows.Scan(&t.VideoID, &t.Title, &t.Artist, &t.Score, &t.Votes); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
