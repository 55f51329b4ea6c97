// Package export writes harvested messages, users and channels as CSV or
// JSON, and reads message CSV back for offline user resolution.
package export

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/gocarina/gocsv"

	"github.com/zerobugdebug/slack-harvester/internal/harvest"
)

// MessageRow is the flat CSV form of a message. List columns hold JSON.
type MessageRow struct {
	TS              string `csv:"ts"`
	ChannelID       string `csv:"channel_id"`
	ChannelName     string `csv:"channel_name"`
	User            string `csv:"user"`
	UserName        string `csv:"user_name"`
	UserEmail       string `csv:"user_email"`
	Text            string `csv:"text"`
	ThreadTS        string `csv:"thread_ts"`
	SubType         string `csv:"subtype"`
	BotID           string `csv:"bot_id"`
	ReplyCount      int    `csv:"reply_count"`
	ReplyUsers      string `csv:"reply_users"`
	ReplyUsersInfo  string `csv:"reply_users_info"`
	ParentUserID    string `csv:"parent_user_id"`
	ParentUserName  string `csv:"parent_user_name"`
	ParentUserEmail string `csv:"parent_user_email"`
	Mentions        string `csv:"mentions"`
	Date            string `csv:"date"`
	Time            string `csv:"time"`
	Permalink       string `csv:"permalink"`
}

// UserRow is the CSV form of a user profile.
type UserRow struct {
	ID      string `csv:"user_id"`
	Name    string `csv:"user_name"`
	Email   string `csv:"user_email"`
	IsBot   bool   `csv:"is_bot"`
	Deleted bool   `csv:"deleted"`
}

// ChannelRow is the CSV form of a channel.
type ChannelRow struct {
	ID         string `csv:"id"`
	Name       string `csv:"name"`
	IsMember   bool   `csv:"is_member"`
	IsPrivate  bool   `csv:"is_private"`
	IsArchived bool   `csv:"is_archived"`
	NumMembers int    `csv:"num_members"`
	Topic      string `csv:"topic"`
	Purpose    string `csv:"purpose"`
	Created    int64  `csv:"created"`
}

// MessageRows flattens msgs into rows. Nested thread replies follow their
// parent.
func MessageRows(msgs []harvest.Message) ([]MessageRow, error) {
	rows := make([]MessageRow, 0, len(msgs))
	var walk func([]harvest.Message) error
	walk = func(ms []harvest.Message) error {
		for _, m := range ms {
			row, err := messageRow(m)
			if err != nil {
				return fmt.Errorf("message %s/%s: %w", m.ChannelID, m.TS, err)
			}
			rows = append(rows, row)
			if err := walk(m.ThreadReplies); err != nil {
				return err
			}
		}
		return nil
	}
	if err := walk(msgs); err != nil {
		return nil, err
	}
	return rows, nil
}

func messageRow(m harvest.Message) (MessageRow, error) {
	replyUsers, err := jsonList(m.ReplyUsers)
	if err != nil {
		return MessageRow{}, err
	}
	replyInfo, err := jsonList(m.ReplyUsersInfo)
	if err != nil {
		return MessageRow{}, err
	}
	mentions, err := jsonList(m.Mentions)
	if err != nil {
		return MessageRow{}, err
	}

	return MessageRow{
		TS:              m.TS,
		ChannelID:       m.ChannelID,
		ChannelName:     m.ChannelName,
		User:            m.UserID,
		UserName:        m.UserName,
		UserEmail:       m.UserEmail,
		Text:            m.Text,
		ThreadTS:        m.ThreadTS,
		SubType:         m.SubType,
		BotID:           m.BotID,
		ReplyCount:      m.ReplyCount,
		ReplyUsers:      replyUsers,
		ReplyUsersInfo:  replyInfo,
		ParentUserID:    m.ParentUserID,
		ParentUserName:  m.ParentUserName,
		ParentUserEmail: m.ParentUserEmail,
		Mentions:        mentions,
		Date:            m.Date,
		Time:            m.Time,
		Permalink:       m.Permalink,
	}, nil
}

// jsonList renders a slice as a JSON array, or "" when it is empty.
func jsonList[T any](items []T) (string, error) {
	if len(items) == 0 {
		return "", nil
	}
	b, err := json.Marshal(items)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// WriteMessagesCSV writes msgs, replies included, as CSV with a header row.
func WriteMessagesCSV(w io.Writer, msgs []harvest.Message) error {
	rows, err := MessageRows(msgs)
	if err != nil {
		return err
	}
	return WriteMessageRowsCSV(w, rows)
}

// WriteMessageRowsCSV writes already flattened rows.
func WriteMessageRowsCSV(w io.Writer, rows []MessageRow) error {
	if err := gocsv.Marshal(&rows, w); err != nil {
		return fmt.Errorf("failed to marshal messages to CSV: %w", err)
	}
	return nil
}

// ReadMessagesCSV parses message rows. Columns without a matching field are
// ignored, and missing ones stay empty.
func ReadMessagesCSV(r io.Reader) ([]MessageRow, error) {
	var rows []MessageRow
	if err := gocsv.Unmarshal(r, &rows); err != nil {
		return nil, fmt.Errorf("failed to parse messages CSV: %w", err)
	}
	return rows, nil
}

// WriteUsersCSV writes one row per user with a header row.
func WriteUsersCSV(w io.Writer, users []harvest.UserProfile) error {
	rows := make([]UserRow, 0, len(users))
	for _, u := range users {
		rows = append(rows, UserRow{ID: u.ID, Name: u.Name, Email: u.Email, IsBot: u.IsBot, Deleted: u.Deleted})
	}
	if err := gocsv.Marshal(&rows, w); err != nil {
		return fmt.Errorf("failed to marshal users to CSV: %w", err)
	}
	return nil
}

// WriteChannelsCSV writes one row per channel with a header row.
func WriteChannelsCSV(w io.Writer, channels []harvest.Channel) error {
	rows := make([]ChannelRow, 0, len(channels))
	for _, ch := range channels {
		rows = append(rows, ChannelRow{
			ID:         ch.ID,
			Name:       ch.Name,
			IsMember:   ch.IsMember,
			IsPrivate:  ch.IsPrivate,
			IsArchived: ch.IsArchived,
			NumMembers: ch.NumMembers,
			Topic:      ch.Topic,
			Purpose:    ch.Purpose,
			Created:    ch.Created,
		})
	}
	if err := gocsv.Marshal(&rows, w); err != nil {
		return fmt.Errorf("failed to marshal channels to CSV: %w", err)
	}
	return nil
}

// WriteJSON writes v as indented JSON.
func WriteJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to encode JSON: %w", err)
	}
	return nil
}
