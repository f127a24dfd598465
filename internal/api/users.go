package api

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// VerifyCredentials checks the signer's credentials and returns the
// authenticated user.
func (c *Client) VerifyCredentials(ctx context.Context) (*User, error) {
	var resp User
	if err := c.get(ctx, "/account/verify_credentials.json", nil, &resp); err != nil {
		return nil, fmt.Errorf("verify credentials: %w", err)
	}

	c.logger.Info("credentials verified", "screen_name", resp.ScreenName)
	return &resp, nil
}

// LookupUserIDs resolves screen names to numeric user ID strings.
//
// Names are looked up LookupChunkSize at a time. A chunk that fails with a
// non-retryable status is logged and skipped; unknown names are simply
// absent from the result.
func (c *Client) LookupUserIDs(ctx context.Context, screenNames []string) ([]string, error) {
	var ids []string

	for i := 0; i < len(screenNames); i += LookupChunkSize {
		end := min(i+LookupChunkSize, len(screenNames))
		chunk := screenNames[i:end]

		params := url.Values{}
		params.Set("screen_name", strings.Join(chunk, ","))

		var users []User
		if err := c.post(ctx, "/users/lookup.json", params, &users); err != nil {
			if ctx.Err() != nil {
				return ids, err
			}
			var apiErr *APIError
			if errors.As(err, &apiErr) {
				c.logger.Warn("user lookup failed",
					"status", apiErr.StatusCode,
					"names", len(chunk),
					"error", err,
				)
				continue
			}
			return ids, fmt.Errorf("lookup users: %w", err)
		}

		for _, u := range users {
			if u.IDStr != "" {
				ids = append(ids, u.IDStr)
			}
		}
	}

	c.logger.Debug("resolved users", "requested", len(screenNames), "found", len(ids))
	return ids, nil
}
