package export

import (
	"bytes"
	"encoding/json"
	"reflect"
	"strings"
	"testing"

	"github.com/zerobugdebug/slack-harvester/internal/harvest"
	"github.com/zerobugdebug/slack-harvester/internal/userlist"
)

func TestWriteMessagesCSV_FlattensThreads(t *testing.T) {
	msgs := []harvest.Message{{
		TS:         "10.0",
		ChannelID:  "C1",
		UserID:     "U1",
		Text:       "parent, with comma",
		ThreadTS:   "10.0",
		ReplyCount: 1,
		ReplyUsers: []string{"U2"},
		ThreadReplies: []harvest.Message{
			{TS: "11.0", ChannelID: "C1", UserID: "U2", Text: "reply", ThreadTS: "10.0"},
		},
	}}

	var buf bytes.Buffer
	if err := WriteMessagesCSV(&buf, msgs); err != nil {
		t.Fatal(err)
	}

	rows, err := ReadMessagesCSV(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 2 {
		t.Fatalf("got %d rows, want 2", len(rows))
	}
	if rows[0].Text != "parent, with comma" || rows[0].ReplyUsers != `["U2"]` || rows[0].ReplyCount != 1 {
		t.Fatalf("parent row = %+v", rows[0])
	}
	if rows[1].TS != "11.0" || rows[1].ReplyUsers != "" {
		t.Fatalf("reply row = %+v", rows[1])
	}

	if got := userlist.Parse(rows[0].ReplyUsers); !reflect.DeepEqual(got, []string{"U2"}) || rows[0].User != "U1" {
		t.Fatalf("parent reply users = %v, user = %q", got, rows[0].User)
	}
}

func TestReadMessagesCSV_ForeignShapes(t *testing.T) {
	in := strings.Join([]string{
		"ts,user,reply_users,extra",
		`1.0,U1,"['U2', 'U3']",x`,
		`2.0,U2,U3,y`,
		`3.0,,,z`,
	}, "\n")

	rows, err := ReadMessagesCSV(strings.NewReader(in))
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 3 {
		t.Fatalf("got %d rows", len(rows))
	}

	want := [][]string{{"U2", "U3"}, {"U3"}, nil}
	for i, r := range rows {
		got := userlist.Parse(r.ReplyUsers)
		if len(got) == 0 && len(want[i]) == 0 {
			continue
		}
		if !reflect.DeepEqual(got, want[i]) {
			t.Errorf("row %d reply users = %v, want %v", i, got, want[i])
		}
	}

	ids := UserIDs(rows)
	if !reflect.DeepEqual(ids, []string{"U1", "U2", "U3"}) {
		t.Fatalf("UserIDs = %v", ids)
	}
}

func TestResolveRows(t *testing.T) {
	rows := []MessageRow{
		{TS: "1.0", User: "U1", ReplyUsers: `["U2","UX"]`, Text: "hi <@U2>"},
		{TS: "2.0", User: "UX", ParentUserID: "U1"},
		{TS: "3.0"},
	}
	profiles := map[string]harvest.UserProfile{
		"U1": {ID: "U1", Name: "Alice", Email: "alice@example.com"},
		"U2": {ID: "U2", Name: "Bob", Email: "bob@example.com"},
	}

	out, err := ResolveRows(rows, profiles)
	if err != nil {
		t.Fatal(err)
	}

	if out[0].UserName != "Alice" || out[0].UserEmail != "alice@example.com" || out[0].Text != "hi <@U2>" {
		t.Fatalf("row 0 = %+v", out[0])
	}
	var info []harvest.UserProfile
	if err := json.Unmarshal([]byte(out[0].ReplyUsersInfo), &info); err != nil {
		t.Fatalf("reply_users_info %q: %v", out[0].ReplyUsersInfo, err)
	}
	if len(info) != 1 || info[0].Name != "Bob" {
		t.Fatalf("reply_users_info = %+v", info)
	}

	if out[1].UserName != "UX" || out[1].UserEmail != "" {
		t.Fatalf("unresolved user should keep its id: %+v", out[1])
	}
	if out[1].ParentUserName != "Alice" {
		t.Fatalf("parent = %q", out[1].ParentUserName)
	}
	if out[2].UserName != "" || out[2].ReplyUsersInfo != "" {
		t.Fatalf("empty row changed: %+v", out[2])
	}
	if rows[0].UserName != "" {
		t.Fatal("input rows were modified")
	}
}

func TestWriteUsersAndChannelsCSV(t *testing.T) {
	var buf bytes.Buffer
	err := WriteUsersCSV(&buf, []harvest.UserProfile{{ID: "U1", Name: "Alice", Email: "a@example.com"}})
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if lines[0] != "user_id,user_name,user_email,is_bot,deleted" || lines[1] != "U1,Alice,a@example.com,false,false" {
		t.Fatalf("users CSV = %q", buf.String())
	}

	buf.Reset()
	if err := WriteChannelsCSV(&buf, []harvest.Channel{{ID: "C1", Name: "general", IsMember: true}}); err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(buf.String(), "id,name,is_member,") || !strings.Contains(buf.String(), "C1,general,true") {
		t.Fatalf("channels CSV = %q", buf.String())
	}
}

func TestWriteJSON(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteJSON(&buf, map[string]int{"a": 1}); err != nil {
		t.Fatal(err)
	}
	if buf.String() != "{\n  \"a\": 1\n}\n" {
		t.Fatalf("JSON = %q", buf.String())
	}
}
