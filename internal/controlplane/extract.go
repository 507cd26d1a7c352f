package controlplane

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/systeminit/pluto/internal/poll"
	"github.com/systeminit/pluto/pkg/model"
)

// The same logical value can surface at different payload paths
// depending on the control-plane version and which action produced it,
// so extraction always checks an ordered list of candidate locations and
// takes the first hit.

// ExtractPayloadValue walks the component's payload along each candidate
// slash-separated path and returns the first non-nil value found. A
// missing value is a NotFoundError; the caller decides whether that is
// "not yet" (keep polling) or genuinely absent.
func ExtractPayloadValue(comp *Component, candidatePaths []string) (any, error) {
	for _, p := range candidatePaths {
		if v, ok := lookupPath(comp.Payload, p); ok {
			return v, nil
		}
	}
	return nil, &model.NotFoundError{Kind: "payload value", ID: strings.Join(candidatePaths, "|")}
}

// ExtractString is ExtractPayloadValue narrowed to the string values the
// pipeline harvests (secrets, generated identifiers).
func ExtractString(comp *Component, candidatePaths []string) (string, error) {
	v, err := ExtractPayloadValue(comp, candidatePaths)
	if err != nil {
		return "", err
	}
	s, ok := v.(string)
	if !ok {
		return "", &model.NotFoundError{Kind: "string payload value", ID: strings.Join(candidatePaths, "|")}
	}
	return s, nil
}

// ExtractWithPolling re-reads the component on every cycle until one of
// the candidate paths holds a value. The value being absent is soft and
// keeps the poll alive; the component itself being gone, or any other
// read failure, is hard and aborts immediately.
func (c *Client) ExtractWithPolling(ctx context.Context, changeSetID, componentID string, candidatePaths []string, interval, timeout time.Duration) (string, error) {
	return poll.Until(ctx, "extract payload value from "+componentID,
		func(ctx context.Context) (string, bool, error) {
			comp, err := c.GetComponent(ctx, changeSetID, componentID)
			if err != nil {
				return "", false, err
			}
			s, err := ExtractString(comp, candidatePaths)
			if err != nil {
				var nf *model.NotFoundError
				if errors.As(err, &nf) {
					return "", false, nil
				}
				return "", false, err
			}
			return s, true, nil
		}, interval, timeout)
}

// lookupPath resolves a slash-separated path against nested JSON-decoded
// maps and slices. Numeric segments index into slices.
func lookupPath(root map[string]any, path string) (any, bool) {
	if root == nil {
		return nil, false
	}
	var cur any = root
	for _, seg := range strings.Split(strings.Trim(path, "/"), "/") {
		switch node := cur.(type) {
		case map[string]any:
			v, ok := node[seg]
			if !ok {
				return nil, false
			}
			cur = v
		case []any:
			i, err := strconv.Atoi(seg)
			if err != nil || i < 0 || i >= len(node) {
				return nil, false
			}
			cur = node[i]
		default:
			return nil, false
		}
	}
	if cur == nil {
		return nil, false
	}
	return cur, true
}
