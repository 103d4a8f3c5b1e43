package platform

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"ae5tools/internal/record"
)

// Poller re-queries an activity feed until a named asynchronous action
// reaches a terminal state. Timeout zero means wait forever; the
// platform offers no push channel, so unbounded patience favors
// eventual correctness. Context cancellation is always honored.
type Poller struct {
	Interval time.Duration
	Timeout  time.Duration
}

func (p Poller) interval() time.Duration {
	if p.Interval <= 0 {
		return 5 * time.Second
	}
	return p.Interval
}

// await polls the owning project's activity feed for the action. The
// requested page grows by one each time the action is not in the
// latest page, tolerating newer activity appended concurrently. HTTP
// errors propagate immediately; only "not yet visible" retries.
func (p Poller) await(ctx context.Context, s *UserSession, projectID string, action *record.Row) (*record.Row, error) {
	if p.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.Timeout)
		defer cancel()
	}
	index := 0
	status := action
	for !rowBool(status, "done") && !rowBool(status, "error") {
		if err := sleep(ctx, p.interval()); err != nil {
			return nil, fmt.Errorf("waiting for action %s: %w", action.Str("id"), err)
		}
		params := url.Values{"sort": {"-updated"}, "page[size]": {strconv.Itoa(index + 1)}}
		page, err := s.activityPage(ctx, projectID, params)
		if err != nil {
			return nil, err
		}
		found := false
		for _, rec := range page {
			if rec.Str("id") == action.Str("id") {
				status, found = rec, true
				break
			}
		}
		if !found {
			index++
		}
	}
	return status, nil
}

// activityPage fetches one page of the activity feed, whose payload
// wraps the records in a "data" list.
func (s *UserSession) activityPage(ctx context.Context, projectID string, params url.Values) ([]*record.Row, error) {
	resp, err := s.api(ctx, http.MethodGet, "projects/"+projectID+"/activity", apiRequest{params: params})
	if err != nil {
		return nil, err
	}
	rows, _, err := record.Decode(resp.body)
	if err != nil {
		return nil, err
	}
	if len(rows) != 1 {
		return nil, &record.ShapeError{Detail: "activity feed is not an object"}
	}
	data, ok := rows[0].Get("data").([]any)
	if !ok {
		return nil, &record.ShapeError{Detail: "activity feed has no data list"}
	}
	out := make([]*record.Row, 0, len(data))
	for _, v := range data {
		row, ok := v.(*record.Row)
		if !ok {
			return nil, &record.ShapeError{Detail: "activity entry is not an object"}
		}
		out = append(out, row)
	}
	return out, nil
}

func rowBool(row *record.Row, key string) bool {
	switch v := row.Get(key).(type) {
	case bool:
		return v
	case string:
		return v != "" && v != "false" && v != "False"
	default:
		return v != nil
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
