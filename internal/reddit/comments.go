package reddit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// maxCommentDepth bounds the flattening walk; deeper replies are dropped.
const maxCommentDepth = 500

// FetchComments returns the comment tree of a post flattened depth-first in
// document order: each comment is followed by its replies.
func (c *Client) FetchComments(ctx context.Context, subreddit, postID string, limit int) ([]Comment, error) {
	subreddit = strings.TrimPrefix(strings.TrimSpace(subreddit), "r/")
	postID = strings.TrimPrefix(strings.TrimSpace(postID), "t3_")
	if subreddit == "" || postID == "" {
		return nil, fmt.Errorf("subreddit and post id are required")
	}

	params := url.Values{}
	params.Set("raw_json", "1")
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}

	// The response is [post listing, comment listing].
	var pages []listing
	if err := c.call(ctx, "/r/"+subreddit+"/comments/"+postID, params, &pages); err != nil {
		return nil, err
	}
	if len(pages) < 2 {
		return nil, nil
	}
	return flattenComments(pages[1].Data.Children)
}

type commentFrame struct {
	node  thing
	depth int
}

func flattenComments(top []thing) ([]Comment, error) {
	var out []Comment

	stack := make([]commentFrame, 0, len(top))
	pushChildren := func(children []thing, depth int) {
		for i := len(children) - 1; i >= 0; i-- {
			stack = append(stack, commentFrame{node: children[i], depth: depth})
		}
	}
	pushChildren(top, 0)

	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		switch {
		case f.node.Kind == kindMore:
			// "load more" stubs list unfetched child IDs only.
			continue
		case f.node.Kind != kindComment, f.depth > maxCommentDepth:
			continue
		}

		var rc rawComment
		if err := json.Unmarshal(f.node.Data, &rc); err != nil {
			return nil, fmt.Errorf("decoding comment: %w", err)
		}
		out = append(out, rc.normalize(f.depth))

		replies, err := repliesOf(rc)
		if err != nil {
			return nil, err
		}
		pushChildren(replies, f.depth+1)
	}
	return out, nil
}

// repliesOf decodes the replies field, which is a listing or "".
func repliesOf(rc rawComment) ([]thing, error) {
	raw := bytes.TrimSpace(rc.Replies)
	if len(raw) == 0 || raw[0] != '{' {
		return nil, nil
	}
	var l listing
	if err := json.Unmarshal(raw, &l); err != nil {
		return nil, fmt.Errorf("decoding replies of %s: %w", rc.ID, err)
	}
	return l.Data.Children, nil
}
