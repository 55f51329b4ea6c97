package export

import (
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/zerobugdebug/slack-harvester/internal/harvest"
	"github.com/zerobugdebug/slack-harvester/internal/userlist"
)

// UserIDs collects the distinct ids referenced by the user, parent_user_id
// and reply_users columns.
func UserIDs(rows []MessageRow) []string {
	seen := make(map[string]bool)
	var ids []string
	add := func(id string) {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			return
		}
		seen[id] = true
		ids = append(ids, id)
	}

	for _, r := range rows {
		add(r.User)
		add(r.ParentUserID)
		for _, id := range userlist.Parse(r.ReplyUsers) {
			add(id)
		}
	}
	return ids
}

// ResolveRows fills the name, email and reply-user columns of a copy of rows
// from profiles. An unresolved user keeps its id as the name and an empty
// email. Text is left untouched.
func ResolveRows(rows []MessageRow, profiles map[string]harvest.UserProfile) ([]MessageRow, error) {
	out := make([]MessageRow, len(rows))
	kinds := make(map[userlist.Kind]int)

	for i, r := range rows {
		if id := strings.TrimSpace(r.User); id != "" {
			r.UserName, r.UserEmail = id, ""
			if p, ok := profiles[id]; ok {
				r.UserName, r.UserEmail = p.Name, p.Email
			}
		}

		if id := strings.TrimSpace(r.ParentUserID); id != "" {
			r.ParentUserName, r.ParentUserEmail = id, ""
			if p, ok := profiles[id]; ok {
				r.ParentUserName, r.ParentUserEmail = p.Name, p.Email
			}
		}

		ids, kind := userlist.ParseKind(r.ReplyUsers)
		kinds[kind]++

		info := make([]harvest.UserProfile, 0, len(ids))
		for _, id := range ids {
			if p, ok := profiles[id]; ok {
				info = append(info, p)
			}
		}
		encoded, err := jsonList(info)
		if err != nil {
			return nil, err
		}
		r.ReplyUsersInfo = encoded

		out[i] = r
	}

	log.Debug().
		Int("rows", len(rows)).
		Int("profiles", len(profiles)).
		Int("replyUsersJSON", kinds[userlist.KindJSON]).
		Int("replyUsersLiteral", kinds[userlist.KindLiteral]).
		Int("replyUsersSingle", kinds[userlist.KindSingle]).
		Msg("Applied user information to rows")

	return out, nil
}
