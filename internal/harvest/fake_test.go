package harvest

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/slack-go/slack"

	"github.com/zerobugdebug/slack-harvester/internal/config"
	"github.com/zerobugdebug/slack-harvester/internal/retry"
)

// fakeAPI is an in-memory Slack workspace that counts calls per method.
type fakeAPI struct {
	mu    sync.Mutex
	calls map[string]int

	auth    *slack.AuthTestResponse
	authErr error

	channels   []slack.Channel
	infoErr    map[string]error
	members    map[string][]string
	users      map[string]slack.User
	history    map[string][]slack.Message
	historyErr map[string]error

	// historyHang blocks a channel's history at this cursor until ctx ends
	historyHang map[string]string

	// replies keyed by channel + "/" + thread ts, parent first
	replies map[string][]slack.Message
	search  []slack.SearchMessage

	posted    []string
	reactions []string

	// userDelay slows users.info to make overlap observable.
	userDelay time.Duration
	inflight  int
	peak      int
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		calls:       make(map[string]int),
		auth:        &slack.AuthTestResponse{URL: "https://acme.slack.com/", User: "harvester", UserID: "UME", TeamID: "T1", Team: "Acme"},
		infoErr:     make(map[string]error),
		members:     make(map[string][]string),
		users:       make(map[string]slack.User),
		history:     make(map[string][]slack.Message),
		historyErr:  make(map[string]error),
		historyHang: make(map[string]string),
		replies:     make(map[string][]slack.Message),
	}
}

func (f *fakeAPI) count(method string) {
	f.mu.Lock()
	f.calls[method]++
	f.mu.Unlock()
}

func (f *fakeAPI) callCount(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[method]
}

func (f *fakeAPI) addChannel(id, name string, member bool) {
	ch := slack.Channel{IsMember: member}
	ch.ID = id
	ch.Name = name
	f.channels = append(f.channels, ch)
}

func (f *fakeAPI) addUser(id, display, email string) {
	f.users[id] = slack.User{
		ID:       id,
		RealName: display + " Real",
		Profile:  slack.UserProfile{DisplayName: display, Email: email},
	}
}

func msg(ts, user, text, threadTS string) slack.Message {
	return slack.Message{Msg: slack.Msg{Timestamp: ts, User: user, Text: text, ThreadTimestamp: threadTS}}
}

func (f *fakeAPI) AuthTestContext(context.Context) (*slack.AuthTestResponse, error) {
	f.count("auth.test")
	if f.authErr != nil {
		return nil, f.authErr
	}
	return f.auth, nil
}

func (f *fakeAPI) GetConversationsContext(_ context.Context, p *slack.GetConversationsParameters) ([]slack.Channel, string, error) {
	f.count("conversations.list")

	start := 0
	if p.Cursor != "" {
		start, _ = strconv.Atoi(p.Cursor)
	}
	end := start + p.Limit
	if p.Limit <= 0 || end > len(f.channels) {
		end = len(f.channels)
	}

	next := ""
	if end < len(f.channels) {
		next = strconv.Itoa(end)
	}
	return f.channels[start:end], next, nil
}

func (f *fakeAPI) GetConversationInfoContext(_ context.Context, in *slack.GetConversationInfoInput) (*slack.Channel, error) {
	f.count("conversations.info")
	if err := f.infoErr[in.ChannelID]; err != nil {
		return nil, err
	}
	for _, ch := range f.channels {
		if ch.ID == in.ChannelID {
			ch := ch
			return &ch, nil
		}
	}
	return nil, slack.SlackErrorResponse{Err: "channel_not_found"}
}

func (f *fakeAPI) GetUsersInConversationContext(_ context.Context, p *slack.GetUsersInConversationParameters) ([]string, string, error) {
	f.count("conversations.members")
	return f.members[p.ChannelID], "", nil
}

func (f *fakeAPI) GetConversationHistoryContext(ctx context.Context, p *slack.GetConversationHistoryParameters) (*slack.GetConversationHistoryResponse, error) {
	f.count("conversations.history")
	if err := f.historyErr[p.ChannelID]; err != nil {
		return nil, err
	}
	if cursor, ok := f.historyHang[p.ChannelID]; ok && cursor == p.Cursor {
		<-ctx.Done()
		return nil, ctx.Err()
	}

	var matched []slack.Message
	for _, m := range f.history[p.ChannelID] {
		if p.Oldest != "" && !after(m.Timestamp, p.Oldest, p.Inclusive) {
			continue
		}
		if p.Latest != "" && !after(p.Latest, m.Timestamp, p.Inclusive) {
			continue
		}
		matched = append(matched, m)
	}
	// newest first, as Slack returns history
	sort.SliceStable(matched, func(i, j int) bool {
		return compareTimestamps(matched[i].Timestamp, matched[j].Timestamp) > 0
	})

	start := 0
	if p.Cursor != "" {
		start, _ = strconv.Atoi(p.Cursor)
	}
	end := start + p.Limit
	if p.Limit <= 0 || end > len(matched) {
		end = len(matched)
	}

	resp := &slack.GetConversationHistoryResponse{Messages: matched[start:end]}
	if end < len(matched) {
		resp.HasMore = true
		resp.ResponseMetaData.NextCursor = strconv.Itoa(end)
	}
	return resp, nil
}

func after(a, b string, inclusive bool) bool {
	c := compareTimestamps(a, b)
	return c > 0 || (inclusive && c == 0)
}

func (f *fakeAPI) GetConversationRepliesContext(_ context.Context, p *slack.GetConversationRepliesParameters) ([]slack.Message, bool, string, error) {
	f.count("conversations.replies")
	msgs, ok := f.replies[p.ChannelID+"/"+p.Timestamp]
	if !ok {
		return nil, false, "", slack.SlackErrorResponse{Err: "thread_not_found"}
	}
	return msgs, false, "", nil
}

func (f *fakeAPI) GetUserInfoContext(_ context.Context, id string) (*slack.User, error) {
	f.count("users.info")

	f.mu.Lock()
	f.inflight++
	if f.inflight > f.peak {
		f.peak = f.inflight
	}
	f.mu.Unlock()
	defer func() {
		f.mu.Lock()
		f.inflight--
		f.mu.Unlock()
	}()

	if f.userDelay > 0 {
		time.Sleep(f.userDelay)
	}

	u, ok := f.users[id]
	if !ok {
		return nil, slack.SlackErrorResponse{Err: "user_not_found"}
	}
	return &u, nil
}

func (f *fakeAPI) GetUserByEmailContext(_ context.Context, email string) (*slack.User, error) {
	f.count("users.lookupByEmail")
	for _, u := range f.users {
		if strings.EqualFold(u.Profile.Email, email) {
			u := u
			return &u, nil
		}
	}
	return nil, slack.SlackErrorResponse{Err: "users_not_found"}
}

func (f *fakeAPI) GetUsersPaginated(...slack.GetUsersOption) slack.UserPagination {
	f.count("users.list")
	return slack.UserPagination{}
}

func (f *fakeAPI) SearchMessagesContext(_ context.Context, _ string, p slack.SearchParameters) (*slack.SearchMessages, error) {
	f.count("search.messages")
	return &slack.SearchMessages{
		Matches: f.search,
		Paging:  slack.Paging{Count: p.Count, Total: len(f.search), Page: 1, Pages: 1},
	}, nil
}

func (f *fakeAPI) PostMessageContext(_ context.Context, channelID string, _ ...slack.MsgOption) (string, string, error) {
	f.count("chat.postMessage")
	f.mu.Lock()
	f.posted = append(f.posted, channelID)
	f.mu.Unlock()
	return channelID, "1700000000.000100", nil
}

func (f *fakeAPI) AddReactionContext(_ context.Context, name string, item slack.ItemRef) error {
	f.count("reactions.add")
	f.mu.Lock()
	f.reactions = append(f.reactions, item.Channel+"/"+item.Timestamp+"/"+name)
	f.mu.Unlock()
	return nil
}

func noSleep(context.Context, time.Duration) error { return nil }

func testConfig() config.Config {
	cfg := config.Defaults()
	cfg.Token = "xoxp-test"
	return cfg
}

func newTestClient(t *testing.T, api API, mutate ...func(*config.Config)) *Client {
	t.Helper()

	cfg := testConfig()
	for _, m := range mutate {
		m(&cfg)
	}

	c, err := New(context.Background(), cfg, api, WithRetryOptions(retry.WithSleeper(noSleep)))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}
