package gateway

import (
	"context"
	"fmt"
	"net/http"
)

// SongList fetches track details for a set of song ids. Negative ids
// are user uploads; the gateway resolves them like any other song.
func (c *Client) SongList(ctx context.Context, ids []int64) ([]Song, error) {
	req := struct {
		SongIDs []int64 `json:"sng_ids"`
	}{SongIDs: ids}

	var results listResults[Song]
	if err := c.call(ctx, methodSongList, req, nil, &results); err != nil {
		return nil, err
	}
	return results.Data, nil
}

// SongData fetches one song. Unlike SongList it goes through
// song.getData, which also resolves tracks not in the user's region by
// returning a fallback.
func (c *Client) SongData(ctx context.Context, id int64) (Song, error) {
	req := struct {
		SongID int64 `json:"sng_id"`
	}{SongID: id}

	var song Song
	if err := c.call(ctx, methodSongData, req, nil, &song); err != nil {
		return Song{}, err
	}
	return song, nil
}

// Episodes fetches podcast episode details.
func (c *Client) Episodes(ctx context.Context, ids []int64) ([]Episode, error) {
	req := struct {
		EpisodeIDs []int64 `json:"episode_ids"`
	}{EpisodeIDs: ids}

	var results listResults[Episode]
	if err := c.call(ctx, methodEpisodes, req, nil, &results); err != nil {
		return nil, err
	}
	return results.Data, nil
}

// LivestreamData fetches a livestream and its per-codec URLs.
func (c *Client) LivestreamData(ctx context.Context, id int64, codecs []string) (Livestream, error) {
	req := struct {
		LivestreamID    int64    `json:"livestream_id"`
		SupportedCodecs []string `json:"supported_codecs"`
	}{LivestreamID: id, SupportedCodecs: codecs}

	var live Livestream
	if err := c.call(ctx, methodLivestream, req, nil, &live); err != nil {
		return Livestream{}, err
	}
	return live, nil
}

// UserRadio fetches the next batch of Flow recommendations for a user.
// The result is song-shaped; Flow queues are extended with it.
func (c *Client) UserRadio(ctx context.Context, userID uint64) ([]Song, error) {
	req := struct {
		UserID uint64 `json:"user_id"`
	}{UserID: userID}

	var results listResults[Song]
	if err := c.call(ctx, methodUserRadio, req, nil, &results); err != nil {
		return nil, err
	}
	return results.Data, nil
}

// TrackTokens fetches fresh track tokens for songs whose tokens have
// expired mid-session.
func (c *Client) TrackTokens(ctx context.Context, ids []int64) ([]Song, error) {
	req := struct {
		SongIDs []int64 `json:"sng_ids"`
	}{SongIDs: ids}

	var results listResults[Song]
	if err := c.call(ctx, methodTokens, req, nil, &results); err != nil {
		return nil, err
	}
	return results.Data, nil
}

// GetARL trades an OAuth access token for an ARL. The new ARL replaces
// the cookie and is handed to the persistence callback.
func (c *Client) GetARL(ctx context.Context, accessToken string) (string, error) {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+accessToken)

	var arl string
	if err := c.call(ctx, methodGetArl, emptyJSONObject, header, &arl); err != nil {
		return "", err
	}
	if arl == "" {
		return "", fmt.Errorf("%w: no arl received", ErrNotFound)
	}
	c.SetARL(arl)
	return arl, nil
}
