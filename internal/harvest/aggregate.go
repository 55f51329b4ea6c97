package harvest

import (
	"slices"
)

// AggregateThreads nests replies under their parent's ThreadReplies, sorted
// by ts, and returns the top-level messages sorted by ts. A reply whose
// parent is not in msgs stays at the top level.
func AggregateThreads(msgs []Message) []Message {
	type key struct{ channel, ts string }

	top := make([]Message, 0, len(msgs))
	index := make(map[key]int)
	var replies []Message

	for _, m := range msgs {
		if m.IsReply() {
			replies = append(replies, m)
			continue
		}
		m.ThreadReplies = slices.Clone(m.ThreadReplies)
		index[key{m.ChannelID, m.TS}] = len(top)
		top = append(top, m)
	}

	for _, r := range replies {
		i, ok := index[key{r.ChannelID, r.ThreadTS}]
		if !ok {
			top = append(top, r)
			continue
		}
		parent := &top[i]
		if slices.ContainsFunc(parent.ThreadReplies, func(existing Message) bool { return existing.TS == r.TS }) {
			continue
		}
		parent.ThreadReplies = append(parent.ThreadReplies, r)
	}

	byTS := func(a, b Message) int { return compareTimestamps(a.TS, b.TS) }
	for i := range top {
		slices.SortStableFunc(top[i].ThreadReplies, byTS)
	}
	slices.SortStableFunc(top, byTS)

	return top
}
