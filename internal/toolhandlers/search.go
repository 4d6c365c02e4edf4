package toolhandlers

import (
	"context"
	"fmt"

	"github.com/nlweb-go/gateway/internal/query"
	"github.com/nlweb-go/gateway/internal/ranking"
)

// DefaultSearchK is how many candidates the Search handler asks the
// retriever for before ranking.
const DefaultSearchK = 50

// Search is the default tool handler: retrieve with the decontextualised
// query and rank in the REGULAR track.
var Search HandlerFunc = func(ctx context.Context, hc *Context) error {
	q := hc.queryText()
	vec, err := hc.embed(ctx, q)
	if err != nil {
		hc.Log.Warn("search: embed failed", "error", err)
	}

	items, err := hc.Retriever.Search(ctx, vec, q, hc.Request.Site, DefaultSearchK)
	if err != nil {
		return fmt.Errorf("search: retrieval failed: %w", err)
	}

	_, err = hc.Ranker.Rank(ctx, ranking.Options{
		Items:          items,
		Query:          q,
		Track:          ranking.Regular,
		Streaming:      hc.Request.Streaming,
		AbortFastTrack: hc.AbortFastTrack,
		Answers:        hc.Answers,
		Send:           sendBatch(hc),
	})
	return err
}

// sendBatch adapts the handler's message Send into a ranking.SendFunc that
// sends each answer of a batch as its own result_batch message.
func sendBatch(hc *Context) ranking.SendFunc {
	return func(ctx context.Context, answers []*query.Answer) error {
		for _, a := range answers {
			msg := query.Message{
				Type:    query.MessageResultBatch,
				QueryID: hc.Request.QueryID,
				Payload: a,
			}
			if err := hc.Send(ctx, msg); err != nil {
				return err
			}
		}
		return nil
	}
}
